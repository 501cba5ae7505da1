package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plansight-backend/models"
)

func TestParseRawSuggestions_PlainArray(t *testing.T) {
	raws := parseRawSuggestions(`[{"title": "New cycle route", "centerPoint": [-1.5, 53.8]}]`)
	require.Len(t, raws, 1)
	assert.Equal(t, "New cycle route", raws[0].Title)
	assert.Equal(t, []float64{-1.5, 53.8}, raws[0].CenterPoint)
}

func TestParseRawSuggestions_MarkdownFence(t *testing.T) {
	response := "```json\n[{\"title\": \"Fenced\", \"centerPoint\": [0, 51]}]\n```"
	raws := parseRawSuggestions(response)
	require.Len(t, raws, 1)
	assert.Equal(t, "Fenced", raws[0].Title)
}

func TestParseRawSuggestions_SurroundingProse(t *testing.T) {
	response := `Here are my findings: [{"title": "Wrapped", "centerPoint": [0, 51]}] I hope this helps.`
	raws := parseRawSuggestions(response)
	require.Len(t, raws, 1)
	assert.Equal(t, "Wrapped", raws[0].Title)
}

func TestParseRawSuggestions_EmptyArray(t *testing.T) {
	raws := parseRawSuggestions("[]")
	assert.Empty(t, raws)
}

func TestParseRawSuggestions_Malformed(t *testing.T) {
	assert.Nil(t, parseRawSuggestions("the model refused to answer"))
	assert.Nil(t, parseRawSuggestions(`{"title": "an object, not an array"}`))
	assert.Nil(t, parseRawSuggestions(`[{"title": "truncated"`))
}

func TestNormalizeSuggestion_Defaults(t *testing.T) {
	stage := Stages[1] // Housing Need & Allocations

	s := normalizeSuggestion(rawSuggestion{
		Title:       "Brownfield infill site",
		CenterPoint: []float64{-1.2, 52.9},
		RadiusM:     150,
	}, stage)
	require.NotNil(t, s)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 2, s.Stage)
	assert.Equal(t, models.CategoryHousing, s.Category)
	assert.Equal(t, models.StatusProposed, s.Status)
	assert.Equal(t, models.PriorityMedium, s.Priority)
	assert.NotNil(t, s.Sources)
	assert.Empty(t, s.Sources)
	require.NotNil(t, s.Geometry)
	assert.Equal(t, "Polygon", s.Geometry.Type)
}

func TestNormalizeSuggestion_ExplicitFieldsKept(t *testing.T) {
	s := normalizeSuggestion(rawSuggestion{
		Title:       "Riverside flood storage",
		Category:    "flood_risk",
		Status:      "existing",
		Priority:    "high",
		CenterPoint: []float64{-2.1, 53.4},
		RadiusM:     400,
	}, Stages[0])
	require.NotNil(t, s)

	assert.Equal(t, models.CategoryFloodRisk, s.Category)
	assert.Equal(t, models.StatusExisting, s.Status)
	assert.Equal(t, models.PriorityHigh, s.Priority)
}

func TestNormalizeSuggestion_UnknownCategoryFallsBackToStage(t *testing.T) {
	s := normalizeSuggestion(rawSuggestion{
		Title:       "Misc finding",
		Category:    "vibes",
		CenterPoint: []float64{0, 51.5},
	}, Stages[2])
	require.NotNil(t, s)
	assert.Equal(t, models.CategoryTransport, s.Category)
}

func TestNormalizeSuggestion_RejectsStructuralFailures(t *testing.T) {
	assert.Nil(t, normalizeSuggestion(rawSuggestion{
		Title:       "   ",
		CenterPoint: []float64{0, 51.5},
	}, Stages[0]))

	assert.Nil(t, normalizeSuggestion(rawSuggestion{
		Title:       "No point",
		CenterPoint: nil,
	}, Stages[0]))

	assert.Nil(t, normalizeSuggestion(rawSuggestion{
		Title:       "One coordinate",
		CenterPoint: []float64{0},
	}, Stages[0]))
}

func TestNormalizeSuggestion_ImplementationOptions(t *testing.T) {
	height := 12.0
	s := normalizeSuggestion(rawSuggestion{
		Title:       "Mixed use block",
		CenterPoint: []float64{-0.1, 51.5},
		RadiusM:     300,
		Implementation: []rawImplementationOption{
			{
				Type:        "residential",
				Title:       "Apartments",
				CenterPoint: []float64{-0.1, 51.5},
				RadiusM:     80,
				Height:      &height,
				Color:       "#88AA44",
			},
			{
				Type:  "public_realm",
				Title: "Pocket park",
				// no centre point: renders without its own footprint
			},
		},
	}, Stages[0])
	require.NotNil(t, s)
	require.Len(t, s.Implementation, 2)

	assert.Equal(t, "#88AA44", s.Implementation[0].Color)
	require.NotNil(t, s.Implementation[0].Geometry)
	assert.Equal(t, "Polygon", s.Implementation[0].Geometry.Type)

	assert.Equal(t, defaultColor, s.Implementation[1].Color)
	assert.Nil(t, s.Implementation[1].Geometry)
}

func TestBufferPoint_CentroidMatchesCenter(t *testing.T) {
	geom := bufferPoint(0, 51.5, 200)
	require.Equal(t, "Polygon", geom.Type)
	require.Len(t, geom.Coordinates, 1)

	ring := geom.Coordinates[0]
	require.Len(t, ring, bufferSegments+1)
	assert.Equal(t, ring[0], ring[len(ring)-1])

	var sumLng, sumLat float64
	for _, pt := range ring[:bufferSegments] {
		sumLng += pt[0]
		sumLat += pt[1]
	}
	assert.InDelta(t, 0, sumLng/bufferSegments, 1e-9)
	assert.InDelta(t, 51.5, sumLat/bufferSegments, 1e-9)
}

func TestBufferPoint_LongitudeStretchesWithLatitude(t *testing.T) {
	geom := bufferPoint(10, 60, 500)
	ring := geom.Coordinates[0]

	var maxDLng, maxDLat float64
	for _, pt := range ring {
		maxDLng = math.Max(maxDLng, math.Abs(pt[0]-10))
		maxDLat = math.Max(maxDLat, math.Abs(pt[1]-60))
	}

	// At 60 degrees north a metre spans twice as many degrees of
	// longitude as of latitude.
	assert.InDelta(t, 2.0, maxDLng/maxDLat, 0.01)
}

func TestBufferPoint_FallbackTriangle(t *testing.T) {
	for name, geom := range map[string]models.Geometry{
		"zero radius":      bufferPoint(0, 51.5, 0),
		"negative radius":  bufferPoint(0, 51.5, -10),
		"NaN radius":       bufferPoint(0, 51.5, math.NaN()),
		"polar latitude":   bufferPoint(0, 90, 100),
		"out of range lat": bufferPoint(0, 91, 100),
	} {
		require.Equal(t, "Polygon", geom.Type, name)
		require.Len(t, geom.Coordinates, 1, name)
		assert.Len(t, geom.Coordinates[0], 4, name)
		assert.Equal(t, geom.Coordinates[0][0], geom.Coordinates[0][3], name)
	}
}

func TestBufferPoint_InvalidPointAnchorsAtOrigin(t *testing.T) {
	geom := bufferPoint(200, 51.5, 100)
	ring := geom.Coordinates[0]
	require.Len(t, ring, 4)
	for _, pt := range ring {
		assert.InDelta(t, 0, pt[0], 1e-4)
		assert.InDelta(t, 0, pt[1], 1e-4)
	}
}

func TestResolveRelations(t *testing.T) {
	parent := &models.Suggestion{ID: "p1", Title: "Station Quarter"}
	child := &models.Suggestion{ID: "c1", Title: "Cycle Hub", RelatedTo: "  station quarter "}
	orphan := &models.Suggestion{ID: "o1", Title: "Orphan", RelatedTo: "No Such Suggestion"}
	selfRef := &models.Suggestion{ID: "s1", Title: "Loop", RelatedTo: "Loop"}

	resolveRelations([]*models.Suggestion{parent, child, orphan, selfRef})

	assert.Equal(t, "p1", child.ParentID)
	assert.Equal(t, "Station Quarter", child.ParentTitle)
	assert.Equal(t, []string{"c1"}, parent.RelatedIDs)

	assert.Empty(t, orphan.ParentID)
	assert.Empty(t, selfRef.ParentID)
	assert.Empty(t, selfRef.RelatedIDs)
}

func TestResolveRelations_RejectsLaterStageParent(t *testing.T) {
	early := &models.Suggestion{ID: "e1", Title: "Riverside Walk", Stage: 1, RelatedTo: "Future Hub"}
	late := &models.Suggestion{ID: "l1", Title: "Future Hub", Stage: 5}

	touched := resolveRelations([]*models.Suggestion{early, late})

	assert.Empty(t, early.ParentID)
	assert.Empty(t, early.ParentTitle)
	assert.Empty(t, late.RelatedIDs)
	assert.Empty(t, touched)
}

func TestResolveRelations_SameStageParentAllowed(t *testing.T) {
	parent := &models.Suggestion{ID: "p1", Title: "Market Square", Stage: 3}
	sibling := &models.Suggestion{ID: "s1", Title: "Market Stalls", Stage: 3, RelatedTo: "Market Square"}

	resolveRelations([]*models.Suggestion{parent, sibling})

	assert.Equal(t, "p1", sibling.ParentID)
	assert.Equal(t, []string{"s1"}, parent.RelatedIDs)
}

func TestResolveRelations_Idempotent(t *testing.T) {
	parent := &models.Suggestion{ID: "p1", Title: "Station Quarter", Stage: 2}
	child := &models.Suggestion{ID: "c1", Title: "Cycle Hub", Stage: 4, RelatedTo: "Station Quarter"}

	first := resolveRelations([]*models.Suggestion{parent, child})
	assert.Contains(t, first, 4)
	assert.Contains(t, first, 2)

	second := resolveRelations([]*models.Suggestion{parent, child})

	assert.Equal(t, []string{"c1"}, parent.RelatedIDs)
	assert.Equal(t, "p1", child.ParentID)
	assert.Empty(t, second)
}

func TestSummarizeSuggestion(t *testing.T) {
	line := summarizeSuggestion(&models.Suggestion{
		Title:     "Station Quarter",
		Category:  models.CategoryOpportunity,
		Priority:  models.PriorityHigh,
		Rationale: "Underused land next to the interchange.",
	})
	assert.Equal(t, "- Station Quarter [opportunity, high priority]: Underused land next to the interchange.", line)
}
