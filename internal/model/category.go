package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Category is the closed set of service categories a provider can offer.
type Category string

const (
	CategoryMassage        Category = "MASSAGE"
	CategoryAcupuncture    Category = "ACUPUNCTURE"
	CategoryNails          Category = "NAILS"
	CategoryHair           Category = "HAIR"
	CategoryFacialsAndSkin Category = "FACIALS_AND_SKIN"
	CategoryLashesAndBrows Category = "LASHES_AND_BROWS"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryMassage,
	CategoryAcupuncture,
	CategoryNails,
	CategoryHair,
	CategoryFacialsAndSkin,
	CategoryLashesAndBrows,
}

// ParseCategory accepts a category in any case, with spaces, hyphens or
// underscores as separators.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, c := range Categories {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", eris.Errorf("model: unknown category %q", s)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// DisplayName renders the category for humans, e.g. "Facials And Skin".
func (c Category) DisplayName() string {
	words := strings.Split(strings.ToLower(string(c)), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
