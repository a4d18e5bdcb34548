// Package reconcile merges sightings of the same business from different
// sources into one canonical record.
package reconcile

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/model"
	"github.com/sells-group/provider-scraper/internal/normalize"
)

// fuzzyThreshold is the name token overlap above which two records in the
// same city are reported as likely duplicates.
const fuzzyThreshold = 0.8

// MatchReason names the index a record matched through.
type MatchReason string

const (
	MatchKey       MatchReason = "exact_key"
	MatchPhone     MatchReason = "phone"
	MatchURL       MatchReason = "website"
	MatchFuzzyName MatchReason = "fuzzy_name"
)

// Outcome is the result of adding one record.
type Outcome struct {
	IsNew     bool
	Index     int
	Record    model.CandidateRecord
	MatchedBy MatchReason
}

// Match is a possible duplicate of a record.
type Match struct {
	Index   int
	Record  model.CandidateRecord
	Score   float64
	Reasons []MatchReason
}

// Reconciler holds canonical records and the identity, phone and website
// indexes that point into them. It is not safe for concurrent use.
type Reconciler struct {
	records   []model.CandidateRecord
	byKey     map[string]int
	byPhone   map[string]int
	byURL     map[string]int
	conflicts int
}

// New creates an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{
		byKey:   make(map[string]int),
		byPhone: make(map[string]int),
		byURL:   make(map[string]int),
	}
}

// Key returns the identity key used for rec.
func Key(rec model.CandidateRecord) string {
	return normalize.IdentityKey(rec.Name, rec.Address, rec.City)
}

// Add files rec under an existing record or as a new one. Lookups go
// identity key, then phone, then website. When phone and website point at
// different records the phone match wins and the conflict is counted; the
// two existing records are left apart.
func (r *Reconciler) Add(rec model.CandidateRecord) Outcome {
	key := Key(rec)
	if i, ok := r.byKey[key]; ok {
		return r.mergeAt(i, rec, MatchKey)
	}

	phone := normalize.Phone(rec.Phone)
	site := normalize.CanonicalURL(rec.WebsiteURL)
	pi, phoneHit := r.lookup(r.byPhone, phone)
	ui, urlHit := r.lookup(r.byURL, site)

	if phoneHit && urlHit && pi != ui {
		r.conflicts++
		zap.L().Warn("reconcile: phone and website match different records",
			zap.String("name", rec.Name),
			zap.String("phone", phone),
			zap.String("website", site),
			zap.Int("phone_record", pi),
			zap.Int("website_record", ui),
		)
	}

	switch {
	case phoneHit:
		r.byKey[key] = pi
		return r.mergeAt(pi, rec, MatchPhone)
	case urlHit:
		r.byKey[key] = ui
		return r.mergeAt(ui, rec, MatchURL)
	}

	idx := len(r.records)
	stored := rec.Clone()
	r.records = append(r.records, stored)
	r.byKey[key] = idx
	r.index(idx, stored)
	return Outcome{IsNew: true, Index: idx, Record: stored.Clone()}
}

func (r *Reconciler) lookup(idx map[string]int, v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	i, ok := idx[v]
	return i, ok
}

func (r *Reconciler) mergeAt(i int, rec model.CandidateRecord, by MatchReason) Outcome {
	merged := Merge(r.records[i], rec)
	r.records[i] = merged
	r.index(i, merged)
	return Outcome{Index: i, Record: merged.Clone(), MatchedBy: by}
}

// index registers a record's phone and website unless another record
// already owns them. Identity keys are only ever registered for incoming
// records, never for a merged result.
func (r *Reconciler) index(i int, rec model.CandidateRecord) {
	if p := normalize.Phone(rec.Phone); p != "" {
		if _, ok := r.byPhone[p]; !ok {
			r.byPhone[p] = i
		}
	}
	if u := normalize.CanonicalURL(rec.WebsiteURL); u != "" {
		if _, ok := r.byURL[u]; !ok {
			r.byURL[u] = i
		}
	}
}

// FindCandidates lists records rec may duplicate, best first. An identity
// key hit is returned alone.
func (r *Reconciler) FindCandidates(rec model.CandidateRecord) []Match {
	if i, ok := r.byKey[Key(rec)]; ok {
		return []Match{{Index: i, Record: r.records[i].Clone(), Score: 1.0, Reasons: []MatchReason{MatchKey}}}
	}

	found := make(map[int]*Match)
	var order []int
	add := func(i int, score float64, reason MatchReason) {
		if m, ok := found[i]; ok {
			m.Reasons = append(m.Reasons, reason)
			m.Score = max(m.Score, score)
			return
		}
		found[i] = &Match{Index: i, Record: r.records[i].Clone(), Score: score, Reasons: []MatchReason{reason}}
		order = append(order, i)
	}

	if i, ok := r.lookup(r.byPhone, normalize.Phone(rec.Phone)); ok {
		add(i, 0.9, MatchPhone)
	}
	if i, ok := r.lookup(r.byURL, normalize.CanonicalURL(rec.WebsiteURL)); ok {
		add(i, 0.85, MatchURL)
	}
	city := normalize.KeyCity(rec.City)
	for i, existing := range r.records {
		if normalize.KeyCity(existing.City) != city {
			continue
		}
		if sim := NameSimilarity(rec.Name, existing.Name); sim > fuzzyThreshold {
			add(i, sim, MatchFuzzyName)
		}
	}

	out := make([]Match, 0, len(order))
	for _, i := range order {
		out = append(out, *found[i])
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out
}

// NameSimilarity is the Jaccard overlap of two names' lowercase
// whitespace-separated words. Punctuation stays part of the word.
func NameSimilarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(ta)+len(tb)-inter)
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(s)) {
		out[t] = struct{}{}
	}
	return out
}

// Records returns copies of the canonical records in insertion order.
func (r *Reconciler) Records() []model.CandidateRecord {
	out := make([]model.CandidateRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}

// Count returns the number of canonical records.
func (r *Reconciler) Count() int { return len(r.records) }

// Conflicts returns how many adds matched different records by phone and
// by website.
func (r *Reconciler) Conflicts() int { return r.conflicts }

// Clear drops every record and index.
func (r *Reconciler) Clear() {
	r.records = nil
	clear(r.byKey)
	clear(r.byPhone)
	clear(r.byURL)
	r.conflicts = 0
}
