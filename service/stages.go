package service

import "plansight-backend/models"

// Stage is one fixed step of the analysis sequence. The focus string drives
// retrieval; the category is the default theme for suggestions whose raw
// category does not match the fixed enumeration.
type Stage struct {
	Num         int
	Name        string
	Description string
	Focus       string
	Category    models.SuggestionCategory
}

// Stages is the fixed ordered sequence every analysis run walks through.
// The list is linear: no branching, no user-defined graphs.
var Stages = []Stage{
	{
		Num:         1,
		Name:        "Settlement Context",
		Description: "Establishes the settlement hierarchy, growth strategy and broad opportunity areas within the region",
		Focus:       "settlement hierarchy spatial strategy growth areas regeneration opportunity",
		Category:    models.CategoryOpportunity,
	},
	{
		Num:         2,
		Name:        "Housing Need & Allocations",
		Description: "Assesses housing need, affordability pressure and candidate site allocations",
		Focus:       "housing need affordable housing delivery site allocations density windfall",
		Category:    models.CategoryHousing,
	},
	{
		Num:         3,
		Name:        "Transport & Active Travel",
		Description: "Reviews highway capacity, public transport accessibility and walking and cycling networks",
		Focus:       "transport accessibility bus rail active travel cycling walking congestion parking",
		Category:    models.CategoryTransport,
	},
	{
		Num:         4,
		Name:        "Green & Blue Infrastructure",
		Description: "Maps open space provision, biodiversity corridors and watercourse assets",
		Focus:       "green infrastructure open space biodiversity net gain wildlife corridors rivers",
		Category:    models.CategoryGreenSpace,
	},
	{
		Num:         5,
		Name:        "Heritage & Townscape",
		Description: "Identifies conservation areas, listed assets and townscape character constraints",
		Focus:       "heritage conservation area listed buildings townscape character setting",
		Category:    models.CategoryHeritage,
	},
	{
		Num:         6,
		Name:        "Flood Risk & Drainage",
		Description: "Evaluates fluvial and surface water flood risk and drainage capacity",
		Focus:       "flood risk zone surface water drainage SuDS sequential test climate change",
		Category:    models.CategoryFloodRisk,
	},
	{
		Num:         7,
		Name:        "Town Centre & Retail",
		Description: "Assesses town centre health, vacancy and retail hierarchy",
		Focus:       "town centre retail hierarchy vacancy primary shopping frontage markets",
		Category:    models.CategoryTownCentre,
	},
	{
		Num:         8,
		Name:        "Employment & Economy",
		Description: "Reviews employment land supply, key sectors and economic development sites",
		Focus:       "employment land economy business industrial estates skills key sectors",
		Category:    models.CategoryEmployment,
	},
	{
		Num:         9,
		Name:        "Community Infrastructure",
		Description: "Checks provision of schools, health facilities and community services against projected growth",
		Focus:       "community infrastructure schools health GP capacity social facilities",
		Category:    models.CategoryCommunity,
	},
	{
		Num:         10,
		Name:        "Delivery & Phasing",
		Description: "Proposes delivery mechanisms, phasing and infrastructure funding for the preceding findings",
		Focus:       "delivery phasing viability infrastructure funding CIL section 106 partnership",
		Category:    models.CategoryDelivery,
	},
}
