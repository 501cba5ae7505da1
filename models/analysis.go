package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Bounds represents the geographic extent of an analysis request (WGS84)
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Value implements driver.Valuer for JSONB
func (b Bounds) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements sql.Scanner for JSONB
func (b *Bounds) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	if len(bytes) == 0 {
		return nil
	}

	return json.Unmarshal(bytes, b)
}

// StageResult holds the outcome of one completed analysis stage
type StageResult struct {
	StageNum    int          `json:"stageNum"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Suggestions []Suggestion `json:"suggestions"`
}

// StageResults maps stage number to its cached result
type StageResults map[int]StageResult

// Value implements driver.Valuer for JSONB
func (s StageResults) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB
func (s *StageResults) Scan(value interface{}) error {
	if value == nil {
		*s = make(StageResults)
		return nil
	}

	// Handle different types that pgx might return for JSONB
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = make(StageResults)
		return nil
	}

	if len(bytes) == 0 {
		*s = make(StageResults)
		return nil
	}

	return json.Unmarshal(bytes, s)
}

// AnalysisCache is the per-region record of completed stage results.
// At most one record exists per region identifier.
type AnalysisCache struct {
	RegionID  string       `json:"regionId"`
	Council   string       `json:"council"`
	Bounds    Bounds       `json:"bounds"`
	Stages    StageResults `json:"stages"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// AnalysisRequest describes one analysis run over a region
type AnalysisRequest struct {
	RegionID string `json:"regionId"`
	Bounds   Bounds `json:"bounds"`
	Council  string `json:"council"`
	// Corpus selects the embedded policy corpus used for retrieval
	// grounding. Empty disables retrieval entirely.
	Corpus string `json:"corpus"`
	Force  bool   `json:"force"`
}
