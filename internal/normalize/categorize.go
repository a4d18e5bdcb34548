package normalize

import (
	"strings"

	"github.com/sells-group/provider-scraper/internal/model"
)

// Categorizer assigns a service category from free text.
type Categorizer interface {
	Categorize(name, description string) model.Category
}

var categoryKeywords = map[model.Category][]string{
	model.CategoryMassage: {
		"massage", "swedish", "deep tissue", "hot stone", "thai massage",
		"sports massage", "prenatal massage", "aromatherapy massage",
		"shiatsu", "reflexology", "body work", "therapeutic massage",
	},
	model.CategoryAcupuncture: {
		"acupuncture", "cupping", "moxibustion", "chinese medicine",
		"tcm", "traditional chinese", "dry needling", "meridian",
	},
	model.CategoryNails: {
		"manicure", "pedicure", "nail", "gel polish", "acrylic nails",
		"nail art", "shellac", "dip powder", "nail extension",
	},
	model.CategoryHair: {
		"haircut", "hair color", "highlights", "balayage", "blowout",
		"hair styling", "keratin", "perm", "hair treatment", "barber",
		"trim", "cut and style", "hair", "coloring", "ombre",
	},
	model.CategoryFacialsAndSkin: {
		"facial", "skincare", "skin care", "microdermabrasion", "chemical peel",
		"hydrafacial", "dermaplaning", "skin treatment", "anti-aging",
		"acne treatment", "skin rejuvenation", "led therapy",
	},
	model.CategoryLashesAndBrows: {
		"lash", "eyelash", "lash extension", "lash lift", "brow",
		"eyebrow", "brow shaping", "brow tint", "microblading",
		"lash tint", "brow lamination", "lash perm",
	},
}

// KeywordCategorizer scores each category by how many of its keywords
// appear in the text. Ties go to the earlier category; no match means
// Fallback.
type KeywordCategorizer struct {
	Fallback model.Category
}

// Categorize implements Categorizer.
func (k KeywordCategorizer) Categorize(name, description string) model.Category {
	text := strings.ToLower(name + " " + description)
	best, bestScore := k.fallback(), 0
	for _, c := range model.Categories {
		score := 0
		for _, kw := range categoryKeywords[c] {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func (k KeywordCategorizer) fallback() model.Category {
	if k.Fallback.Valid() {
		return k.Fallback
	}
	return model.CategoryMassage
}
