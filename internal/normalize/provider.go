package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/resilience"
)

const maxDescriptionLen = 500

var nameSuffixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i),?\s*(llc|inc|corp|ltd|llp)\.?$`),
	regexp.MustCompile(`(?i)\s*-\s*home$`),
	regexp.MustCompile(`\s*\|\s*.*$`),
}

// Normalizer cleans records before reconciliation. The zero value uses the
// keyword categorizer.
type Normalizer struct {
	Categorizer Categorizer
}

// NewNormalizer creates a Normalizer. A nil categorizer means the keyword
// categorizer with a massage fallback.
func NewNormalizer(c Categorizer) *Normalizer {
	return &Normalizer{Categorizer: c}
}

func (n *Normalizer) categorizer() Categorizer {
	if n == nil || n.Categorizer == nil {
		return KeywordCategorizer{}
	}
	return n.Categorizer
}

// Normalize returns a cleaned copy of rec. The input is not modified.
func (n *Normalizer) Normalize(rec model.CandidateRecord) model.CandidateRecord {
	out := rec.Clone()
	out.Name = Name(rec.Name)
	out.Address = collapse(rec.Address)
	out.City = City(rec.City)
	out.State = State(rec.State)
	out.PostalCode = strings.TrimSpace(rec.PostalCode)
	out.Country = strings.ToUpper(strings.TrimSpace(rec.Country))
	if out.Country == "" {
		out.Country = "US"
	}
	if rec.Phone != "" {
		out.Phone = Phone(rec.Phone)
	}
	out.Email = strings.ToLower(strings.TrimSpace(rec.Email))
	out.WebsiteURL = Website(rec.WebsiteURL)
	out.BookingURL = Website(rec.BookingURL)

	out.Services = nil
	for _, s := range rec.Services {
		if ns, ok := n.service(s); ok {
			out.Services = append(out.Services, ns)
		}
	}
	return out
}

func (n *Normalizer) service(s model.ServiceOffering) (model.ServiceOffering, bool) {
	out := model.CloneServices([]model.ServiceOffering{s})[0]
	out.Name = Name(s.Name)
	if out.Name == "" {
		return out, false
	}
	out.Description = truncate(collapse(s.Description), maxDescriptionLen)
	if !out.Category.Valid() {
		out.Category = n.categorizer().Categorize(out.Name, out.Description)
	}
	if out.PriceCents != nil && *out.PriceCents < 0 {
		out.PriceCents = nil
	}
	if out.DurationMin != nil && *out.DurationMin <= 0 {
		out.DurationMin = nil
	}
	return out, true
}

// Validate reports the required fields rec is missing as a
// *resilience.ValidationError.
func (n *Normalizer) Validate(rec model.CandidateRecord) error {
	var missing []string
	if strings.TrimSpace(rec.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(rec.City) == "" {
		missing = append(missing, "city")
	}
	if len(rec.Provenance) == 0 {
		missing = append(missing, "provenance")
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		missing = append(missing, "confidence")
	}
	if len(missing) > 0 {
		return &resilience.ValidationError{Name: rec.Name, Fields: missing}
	}
	return nil
}

// Name collapses whitespace, strips corporate and page-title suffixes and
// fixes the case of all-caps or all-lowercase names.
func Name(name string) string {
	name = collapse(name)
	if name == "" {
		return ""
	}
	for _, re := range nameSuffixes {
		name = re.ReplaceAllString(name, "")
	}
	name = strings.TrimSpace(name)
	if isSingleCase(name) {
		name = cases.Title(language.AmericanEnglish).String(name)
	}
	return name
}

// City collapses whitespace and title-cases.
func City(city string) string {
	city = collapse(city)
	if city == "" {
		return ""
	}
	return cases.Title(language.AmericanEnglish).String(city)
}

// State maps a full US state name to its two-letter code. Codes and
// unknown values are uppercased and returned as-is.
func State(state string) string {
	s := strings.ToUpper(collapse(state))
	if len(s) == 2 {
		return s
	}
	if code, ok := stateCodes[s]; ok {
		return code
	}
	return s
}

// Website adds https:// to schemeless URLs and drops trailing slashes.
func Website(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(u), "http://") && !strings.HasPrefix(strings.ToLower(u), "https://") {
		u = "https://" + u
	}
	return strings.TrimRight(u, "/")
}

func isSingleCase(s string) bool {
	hasUpper, hasLower := false, false
	for _, r := range s {
		if unicode.IsUpper(r) {
			hasUpper = true
		} else if unicode.IsLower(r) {
			hasLower = true
		}
	}
	return hasUpper != hasLower
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

var stateCodes = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR",
	"CALIFORNIA": "CA", "COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE",
	"FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI", "IDAHO": "ID",
	"ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA", "KANSAS": "KS",
	"KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME", "MARYLAND": "MD",
	"MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN", "MISSISSIPPI": "MS",
	"MISSOURI": "MO", "MONTANA": "MT", "NEBRASKA": "NE", "NEVADA": "NV",
	"NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM", "NEW YORK": "NY",
	"NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH", "OKLAHOMA": "OK",
	"OREGON": "OR", "PENNSYLVANIA": "PA", "RHODE ISLAND": "RI", "SOUTH CAROLINA": "SC",
	"SOUTH DAKOTA": "SD", "TENNESSEE": "TN", "TEXAS": "TX", "UTAH": "UT",
	"VERMONT": "VT", "VIRGINIA": "VA", "WASHINGTON": "WA", "WEST VIRGINIA": "WV",
	"WISCONSIN": "WI", "WYOMING": "WY", "DISTRICT OF COLUMBIA": "DC",
}
