package models

import (
	"strings"

	"github.com/google/uuid"
)

// SectionType classifies a chunk of policy text by the kind of section it
// was extracted from.
type SectionType string

const (
	SectionPolicy         SectionType = "policy"
	SectionObjective      SectionType = "objective"
	SectionSiteAllocation SectionType = "site_allocation"
	SectionEvidenceBase   SectionType = "evidence_base"
	SectionGuidance       SectionType = "guidance"
)

// PolicyChunk represents a chunk of planning policy text from the corpus
type PolicyChunk struct {
	ID             uuid.UUID   `json:"id"`
	SourceDocument string      `json:"source_document"`
	Council        string      `json:"council"`
	SectionHeading string      `json:"section_heading"`
	SectionType    SectionType `json:"section_type"`
	Page           int         `json:"page"`
	ChunkIndex     int         `json:"chunk_index"`
	Text           string      `json:"text"`
	CharCount      int         `json:"char_count"`
	Embedding      []float64   `json:"-"`
	Distance       float64     `json:"distance,omitempty"` // Vector similarity distance
}

// NormalizeSectionType maps free-form section labels onto the fixed taxonomy.
// Unknown labels fall back to guidance rather than being rejected.
func NormalizeSectionType(label string) SectionType {
	normalized := strings.ToLower(strings.TrimSpace(label))
	switch SectionType(normalized) {
	case SectionPolicy, SectionObjective, SectionSiteAllocation, SectionEvidenceBase, SectionGuidance:
		return SectionType(normalized)
	}
	return SectionGuidance
}
