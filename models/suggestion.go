package models

// SuggestionCategory represents the planning theme a suggestion belongs to
type SuggestionCategory string

const (
	CategoryOpportunity SuggestionCategory = "opportunity"
	CategoryHousing     SuggestionCategory = "housing"
	CategoryTransport   SuggestionCategory = "transport"
	CategoryGreenSpace  SuggestionCategory = "green_space"
	CategoryHeritage    SuggestionCategory = "heritage"
	CategoryFloodRisk   SuggestionCategory = "flood_risk"
	CategoryTownCentre  SuggestionCategory = "town_centre"
	CategoryEmployment  SuggestionCategory = "employment"
	CategoryCommunity   SuggestionCategory = "community"
	CategoryDelivery    SuggestionCategory = "delivery"
)

// SuggestionStatus distinguishes findings about what exists from proposals
type SuggestionStatus string

const (
	StatusExisting SuggestionStatus = "existing"
	StatusProposed SuggestionStatus = "proposed"
)

// SuggestionPriority represents the priority of a suggestion
type SuggestionPriority string

const (
	PriorityHigh   SuggestionPriority = "high"
	PriorityMedium SuggestionPriority = "medium"
	PriorityLow    SuggestionPriority = "low"
)

// Geometry is a GeoJSON-style polygon in WGS84 lng/lat order
type Geometry struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// ImplementationOption represents one concrete way of delivering a suggestion
type ImplementationOption struct {
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Center      []float64  `json:"center"`
	RadiusM     float64    `json:"radiusM"`
	Height      *float64   `json:"height,omitempty"`
	Color       string     `json:"color"`
	PolicyBasis string     `json:"policyBasis"`
	Order       int        `json:"order"`
	Effect      string     `json:"effect"`
	Geometry    *Geometry  `json:"geometry,omitempty"`
}

// Suggestion represents a single geographically-located finding or
// recommendation produced by an analysis stage.
type Suggestion struct {
	ID               string                 `json:"id"`
	Stage            int                    `json:"stage"`
	Geometry         *Geometry              `json:"geometry,omitempty"`
	Category         SuggestionCategory     `json:"category"`
	Status           SuggestionStatus       `json:"status"`
	Title            string                 `json:"title"`
	Rationale        string                 `json:"rationale"`
	Reasoning        string                 `json:"reasoning"`
	Priority         SuggestionPriority     `json:"priority"`
	Sources          []string               `json:"sources"`
	PolicyRef        string                 `json:"policyRef,omitempty"`
	Implementation   []ImplementationOption `json:"implementation"`
	Problem          string                 `json:"problem,omitempty"`
	ProjectedOutcome string                 `json:"projectedOutcome,omitempty"`

	// RelatedTo carries the raw model reference to another suggestion's
	// title. It is resolved into ParentID/RelatedIDs after all stages
	// complete and is not part of the resolved output.
	RelatedTo string `json:"relatedTo,omitempty"`

	ParentID    string   `json:"parentId,omitempty"`
	ParentTitle string   `json:"parentTitle,omitempty"`
	RelatedIDs  []string `json:"relatedIds,omitempty"`
}
