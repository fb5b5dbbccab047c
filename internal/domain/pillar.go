package domain

import "strings"

// Pillar is a lifestyle category assigned by the classifier.
type Pillar string

const (
	PillarFoodDining    Pillar = "Food & Dining"
	PillarGroceries     Pillar = "Groceries"
	PillarTravel        Pillar = "Travel & Transportation"
	PillarShopping      Pillar = "Shopping & Retail"
	PillarEntertainment Pillar = "Entertainment & Recreation"
	PillarHealth        Pillar = "Health & Wellness"
	PillarHome          Pillar = "Home & Utilities"
	PillarFinancial     Pillar = "Financial Services"
	PillarEducation     Pillar = "Education & Personal Development"
	PillarPersonalCare  Pillar = "Personal Care"
	PillarUnclassified  Pillar = "Miscellaneous & Unclassified"
)

// Pillars lists every category in display order; the catch-all is last.
var Pillars = []Pillar{
	PillarFoodDining,
	PillarGroceries,
	PillarTravel,
	PillarShopping,
	PillarEntertainment,
	PillarHealth,
	PillarHome,
	PillarFinancial,
	PillarEducation,
	PillarPersonalCare,
	PillarUnclassified,
}

var pillarIndex = func() map[string]Pillar {
	m := make(map[string]Pillar, len(Pillars))
	for _, p := range Pillars {
		m[normalizePillar(string(p))] = p
	}
	return m
}()

// ParsePillar maps a remote category name onto the enumeration.
// Matching ignores case and surrounding whitespace; unknown names yield false.
func ParsePillar(name string) (Pillar, bool) {
	p, ok := pillarIndex[normalizePillar(name)]
	return p, ok
}

// CoercePillar is ParsePillar with unknown values folded into the catch-all.
func CoercePillar(name string) Pillar {
	if p, ok := ParsePillar(name); ok {
		return p
	}
	return PillarUnclassified
}

func normalizePillar(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
