package model

import (
	"maps"
	"slices"
	"time"
)

// CandidateRecord is one sighting of a business as produced by a source,
// or the canonical record the reconciler keeps after merging sightings.
// Empty strings and nil pointers mean the field is absent.
type CandidateRecord struct {
	Name         string            `json:"name"`
	Address      string            `json:"address,omitempty"`
	City         string            `json:"city,omitempty"`
	State        string            `json:"state,omitempty"`
	PostalCode   string            `json:"postal_code,omitempty"`
	Country      string            `json:"country,omitempty"`
	Latitude     *float64          `json:"latitude,omitempty"`
	Longitude    *float64          `json:"longitude,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Email        string            `json:"email,omitempty"`
	WebsiteURL   string            `json:"website_url,omitempty"`
	BookingURL   string            `json:"booking_url,omitempty"`
	Services     []ServiceOffering `json:"services,omitempty"`
	Rating       *float64          `json:"rating,omitempty"`
	ReviewCount  *int              `json:"review_count,omitempty"`
	OpeningHours map[string]string `json:"opening_hours,omitempty"`
	Provenance   []ProvenanceEntry `json:"provenance"`
	Confidence   float64           `json:"confidence"`
}

// ServiceOffering is a single service on a provider's menu.
type ServiceOffering struct {
	Category    Category `json:"category"`
	Name        string   `json:"name"`
	PriceCents  *int     `json:"price_cents,omitempty"`
	DurationMin *int     `json:"duration_minutes,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ProvenanceEntry records where and when a record's data was observed.
type ProvenanceEntry struct {
	Kind        SourceKind `json:"source"`
	URL         string     `json:"url"`
	FetchedAt   time.Time  `json:"fetched_at"`
	ContentHash string     `json:"content_hash,omitempty"`
}

// MaxPriority returns the highest source priority among the record's
// provenance entries, or 0 when it has none.
func (r CandidateRecord) MaxPriority() int {
	best := 0
	for _, p := range r.Provenance {
		if pr := p.Kind.Priority(); pr > best {
			best = pr
		}
	}
	return best
}

// Clone returns a deep copy that shares no slices, maps or pointers with r.
func (r CandidateRecord) Clone() CandidateRecord {
	out := r
	out.Latitude = clonePtr(r.Latitude)
	out.Longitude = clonePtr(r.Longitude)
	out.Rating = clonePtr(r.Rating)
	out.ReviewCount = clonePtr(r.ReviewCount)
	out.Services = CloneServices(r.Services)
	out.Provenance = slices.Clone(r.Provenance)
	if r.OpeningHours != nil {
		out.OpeningHours = maps.Clone(r.OpeningHours)
	}
	return out
}

// CloneServices deep-copies a service list.
func CloneServices(in []ServiceOffering) []ServiceOffering {
	if in == nil {
		return nil
	}
	out := make([]ServiceOffering, len(in))
	for i, s := range in {
		s.PriceCents = clonePtr(s.PriceCents)
		s.DurationMin = clonePtr(s.DurationMin)
		out[i] = s
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
