package service

import (
	"encoding/json"
	"math"
	"strings"

	"plansight-backend/models"

	"github.com/google/uuid"
)

// defaultColor is the neutral grey (with partial opacity) applied when the
// model omits a display colour.
const defaultColor = "#9CA3AF80"

const bufferSegments = 32

// rawSuggestion is the loosely-typed intermediate shape parsed from model
// output. normalizeSuggestion applies total defaulting to produce the
// canonical Suggestion; anything failing structural validation is rejected
// outright rather than partially trusted.
type rawSuggestion struct {
	Title            string                    `json:"title"`
	Category         string                    `json:"category"`
	Status           string                    `json:"status"`
	Rationale        string                    `json:"rationale"`
	Reasoning        string                    `json:"reasoning"`
	Priority         string                    `json:"priority"`
	Sources          []string                  `json:"sources"`
	PolicyRef        string                    `json:"policyRef"`
	CenterPoint      []float64                 `json:"centerPoint"`
	RadiusM          float64                   `json:"radiusM"`
	Problem          string                    `json:"problem"`
	ProjectedOutcome string                    `json:"projectedOutcome"`
	RelatedTo        string                    `json:"relatedTo"`
	Implementation   []rawImplementationOption `json:"implementation"`
}

type rawImplementationOption struct {
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CenterPoint []float64 `json:"centerPoint"`
	RadiusM     float64   `json:"radiusM"`
	Height      *float64  `json:"height"`
	Color       string    `json:"color"`
	PolicyBasis string    `json:"policyBasis"`
	Order       int       `json:"order"`
	Effect      string    `json:"effect"`
}

// parseRawSuggestions extracts a JSON array of raw suggestions from a model
// response, tolerating markdown code fences and surrounding prose. An empty
// array is valid and expected for stages where no evidence applies. Any
// parse failure yields nil: zero suggestions for the stage, never an error.
func parseRawSuggestions(response string) []rawSuggestion {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		lines := strings.Split(response, "\n")
		var jsonLines []string
		inCodeBlock := false
		for _, line := range lines {
			if strings.HasPrefix(line, "```") {
				inCodeBlock = !inCodeBlock
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		response = strings.Join(jsonLines, "\n")
	}

	startIdx := strings.Index(response, "[")
	endIdx := strings.LastIndex(response, "]")
	if startIdx == -1 || endIdx == -1 || startIdx >= endIdx {
		return nil
	}

	var raws []rawSuggestion
	if err := json.Unmarshal([]byte(response[startIdx:endIdx+1]), &raws); err != nil {
		return nil
	}

	return raws
}

// normalizeSuggestion converts a raw suggestion into a domain Suggestion
// with derived geometry and defaulted optional fields. Returns nil when the
// raw object fails structural validation.
func normalizeSuggestion(raw rawSuggestion, stage Stage) *models.Suggestion {
	if strings.TrimSpace(raw.Title) == "" {
		return nil
	}
	if len(raw.CenterPoint) != 2 {
		return nil
	}

	s := &models.Suggestion{
		ID:               uuid.New().String(),
		Stage:            stage.Num,
		Category:         normalizeCategory(raw.Category, stage.Category),
		Status:           normalizeStatus(raw.Status),
		Title:            strings.TrimSpace(raw.Title),
		Rationale:        raw.Rationale,
		Reasoning:        raw.Reasoning,
		Priority:         normalizePriority(raw.Priority),
		Sources:          raw.Sources,
		PolicyRef:        raw.PolicyRef,
		Problem:          raw.Problem,
		ProjectedOutcome: raw.ProjectedOutcome,
		RelatedTo:        raw.RelatedTo,
		Implementation:   make([]models.ImplementationOption, 0, len(raw.Implementation)),
	}
	if s.Sources == nil {
		s.Sources = []string{}
	}

	geom := bufferPoint(raw.CenterPoint[0], raw.CenterPoint[1], raw.RadiusM)
	s.Geometry = &geom

	for _, rawOpt := range raw.Implementation {
		opt := models.ImplementationOption{
			Type:        rawOpt.Type,
			Title:       rawOpt.Title,
			Description: rawOpt.Description,
			Center:      rawOpt.CenterPoint,
			RadiusM:     rawOpt.RadiusM,
			Height:      rawOpt.Height,
			Color:       rawOpt.Color,
			PolicyBasis: rawOpt.PolicyBasis,
			Order:       rawOpt.Order,
			Effect:      rawOpt.Effect,
		}
		if opt.Color == "" {
			opt.Color = defaultColor
		}
		if len(rawOpt.CenterPoint) == 2 {
			optGeom := bufferPoint(rawOpt.CenterPoint[0], rawOpt.CenterPoint[1], rawOpt.RadiusM)
			opt.Geometry = &optGeom
		}
		s.Implementation = append(s.Implementation, opt)
	}

	return s
}

func normalizeCategory(category string, fallback models.SuggestionCategory) models.SuggestionCategory {
	normalized := strings.ToLower(strings.TrimSpace(category))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")

	valid := map[models.SuggestionCategory]bool{
		models.CategoryOpportunity: true,
		models.CategoryHousing:     true,
		models.CategoryTransport:   true,
		models.CategoryGreenSpace:  true,
		models.CategoryHeritage:    true,
		models.CategoryFloodRisk:   true,
		models.CategoryTownCentre:  true,
		models.CategoryEmployment:  true,
		models.CategoryCommunity:   true,
		models.CategoryDelivery:    true,
	}

	if valid[models.SuggestionCategory(normalized)] {
		return models.SuggestionCategory(normalized)
	}
	return fallback
}

func normalizeStatus(status string) models.SuggestionStatus {
	if models.SuggestionStatus(strings.ToLower(strings.TrimSpace(status))) == models.StatusExisting {
		return models.StatusExisting
	}
	return models.StatusProposed
}

func normalizePriority(priority string) models.SuggestionPriority {
	switch models.SuggestionPriority(strings.ToLower(strings.TrimSpace(priority))) {
	case models.PriorityHigh:
		return models.PriorityHigh
	case models.PriorityLow:
		return models.PriorityLow
	}
	return models.PriorityMedium
}

// bufferPoint buffers a WGS84 point by radiusM metres into an approximate
// circular polygon. Any failure (bad coordinates, degenerate radius, polar
// latitudes) falls back to a minimal triangle around the point so a single
// malformed geometry never aborts a stage.
func bufferPoint(lng, lat, radiusM float64) models.Geometry {
	if !validCoordinate(lng, lat) || radiusM <= 0 || math.IsInf(radiusM, 0) || math.IsNaN(radiusM) {
		return fallbackTriangle(lng, lat)
	}

	// Metres to degrees: one degree of latitude is ~111320 m; longitude
	// shrinks with the cosine of the latitude.
	latRad := lat * math.Pi / 180
	cosLat := math.Cos(latRad)
	if cosLat < 1e-6 {
		return fallbackTriangle(lng, lat)
	}

	dLat := radiusM / 111320.0
	dLng := radiusM / (111320.0 * cosLat)

	ring := make([][]float64, 0, bufferSegments+1)
	for i := 0; i < bufferSegments; i++ {
		angle := 2 * math.Pi * float64(i) / float64(bufferSegments)
		ring = append(ring, []float64{
			lng + dLng*math.Cos(angle),
			lat + dLat*math.Sin(angle),
		})
	}
	ring = append(ring, append([]float64{}, ring[0]...))

	return models.Geometry{
		Type:        "Polygon",
		Coordinates: [][][]float64{ring},
	}
}

func validCoordinate(lng, lat float64) bool {
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}

// fallbackTriangle returns a degenerate polygon tightly around the point.
// If the point itself is unusable the triangle sits at the origin, which
// still renders without breaking downstream consumers.
func fallbackTriangle(lng, lat float64) models.Geometry {
	if !validCoordinate(lng, lat) {
		lng, lat = 0, 0
	}
	const eps = 1e-5
	return models.Geometry{
		Type: "Polygon",
		Coordinates: [][][]float64{{
			{lng, lat + eps},
			{lng - eps, lat - eps},
			{lng + eps, lat - eps},
			{lng, lat + eps},
		}},
	}
}

// resolveRelations turns transient related-by-title references into
// structural parent/child links. The title index is case-insensitive and
// whitespace-trimmed; unresolvable, self-referential or forward (later
// stage) relations are silently dropped — a parent always comes from an
// earlier or equal stage. Runs once after all stages complete, over cached
// and live suggestions alike, and reports the stage numbers whose
// suggestions it mutated.
func resolveRelations(suggestions []*models.Suggestion) map[int]struct{} {
	byTitle := make(map[string]*models.Suggestion, len(suggestions))
	for _, s := range suggestions {
		byTitle[strings.ToLower(strings.TrimSpace(s.Title))] = s
	}

	touched := make(map[int]struct{})
	for _, s := range suggestions {
		if s.RelatedTo == "" {
			continue
		}
		parent, ok := byTitle[strings.ToLower(strings.TrimSpace(s.RelatedTo))]
		if !ok || parent.ID == s.ID || parent.Stage > s.Stage {
			continue
		}
		// Replayed suggestions arrive already resolved; re-linking them
		// must not change anything.
		if s.ParentID != parent.ID {
			s.ParentID = parent.ID
			s.ParentTitle = parent.Title
			touched[s.Stage] = struct{}{}
		}
		if !containsID(parent.RelatedIDs, s.ID) {
			parent.RelatedIDs = append(parent.RelatedIDs, s.ID)
			touched[parent.Stage] = struct{}{}
		}
	}
	return touched
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// summarizeSuggestion renders the one-line summary appended to the rolling
// cross-stage context after a live stage completes.
func summarizeSuggestion(s *models.Suggestion) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(s.Title)
	b.WriteString(" [")
	b.WriteString(string(s.Category))
	b.WriteString(", ")
	b.WriteString(string(s.Priority))
	b.WriteString(" priority]")
	if s.Rationale != "" {
		b.WriteString(": ")
		b.WriteString(s.Rationale)
	}
	return b.String()
}
