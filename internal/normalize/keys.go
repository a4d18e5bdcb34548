// Package normalize canonicalizes provider records and derives the keys the
// reconciler matches on.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// ContentHash returns the first 16 hex characters of the body's SHA-256.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:16]
}

// IdentityKey derives the exact-match key for a business from its name,
// street address and city. Case, punctuation in the name, street-word
// spelling and whitespace do not affect the key.
func IdentityKey(name, address, city string) string {
	s := KeyName(name) + "|" + KeyAddress(address) + "|" + KeyCity(city)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// KeyName lowercases the name, drops punctuation and collapses whitespace.
func KeyName(name string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			return unicode.ToLower(r)
		}
		return -1
	}, name)
	return collapse(stripped)
}

// KeyCity lowercases the city and collapses whitespace.
func KeyCity(city string) string {
	return collapse(strings.ToLower(city))
}

var addressAbbreviations = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\bstreet\b`), "st"},
	{regexp.MustCompile(`\bavenue\b`), "ave"},
	{regexp.MustCompile(`\bboulevard\b`), "blvd"},
	{regexp.MustCompile(`\bdrive\b`), "dr"},
	{regexp.MustCompile(`\broad\b`), "rd"},
	{regexp.MustCompile(`\blane\b`), "ln"},
	{regexp.MustCompile(`\bcourt\b`), "ct"},
	{regexp.MustCompile(`\bplace\b`), "pl"},
	{regexp.MustCompile(`\bsuite\b`), "ste"},
	{regexp.MustCompile(`\bapartment\b`), "apt"},
	{regexp.MustCompile(`\bnorth\b`), "n"},
	{regexp.MustCompile(`\bsouth\b`), "s"},
	{regexp.MustCompile(`\beast\b`), "e"},
	{regexp.MustCompile(`\bwest\b`), "w"},
}

// KeyAddress lowercases the address, abbreviates common street words and
// collapses whitespace.
func KeyAddress(address string) string {
	a := strings.ToLower(strings.TrimSpace(address))
	for _, ab := range addressAbbreviations {
		a = ab.re.ReplaceAllString(a, ab.repl)
	}
	return collapse(a)
}

// Phone normalizes a phone number to an E.164-like form. Ten-digit numbers
// and eleven-digit numbers starting with 1 are treated as US numbers;
// numbers written with a leading + keep their digits. Anything else is
// reduced to its digits.
func Phone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case d == "":
		return ""
	case strings.HasPrefix(d, "+"):
		return "+" + strings.ReplaceAll(d[1:], "+", "")
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	default:
		return strings.ReplaceAll(d, "+", "")
	}
}

var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"ref":          true,
	"source":       true,
	"mc_cid":       true,
	"mc_eid":       true,
}

// CanonicalURL lowercases a URL, drops default ports, trailing slashes,
// tracking parameters and the fragment, and sorts the remaining query.
// Schemeless input is treated as https. Unparseable input is returned
// lowercased and trimmed.
func CanonicalURL(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}

	host := u.Host
	if (u.Scheme == "http" && strings.HasSuffix(host, ":80")) || (u.Scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if !trackingParams[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	filtered := url.Values{}
	for _, k := range keys {
		filtered[k] = q[k]
	}

	out := u.Scheme + "://" + host + path
	if enc := filtered.Encode(); enc != "" {
		out += "?" + enc
	}
	return out
}

// Host returns the lowercased host of a URL without any www. prefix.
func Host(raw string) string {
	u, err := url.Parse(CanonicalURL(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
