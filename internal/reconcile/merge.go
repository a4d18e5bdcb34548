package reconcile

import (
	"maps"

	"github.com/sells-group/provider-scraper/internal/model"
)

// Merge combines two sightings of one business into a new record. The
// record whose provenance carries the higher source priority is the base
// (ties keep existing); each field takes the base value unless it is empty.
// Services are taken whole from one side, provenance is the concatenation
// of both sides, and confidence is the larger of the two. Neither input is
// modified and the result shares no slices or maps with them.
func Merge(existing, incoming model.CandidateRecord) model.CandidateRecord {
	base, secondary := existing, incoming
	if incoming.MaxPriority() > existing.MaxPriority() {
		base, secondary = incoming, existing
	}

	out := model.CandidateRecord{
		Name:        pick(base.Name, secondary.Name),
		Address:     pick(base.Address, secondary.Address),
		City:        pick(base.City, secondary.City),
		State:       pick(base.State, secondary.State),
		PostalCode:  pick(base.PostalCode, secondary.PostalCode),
		Country:     pick(base.Country, secondary.Country),
		Latitude:    pickPtr(base.Latitude, secondary.Latitude),
		Longitude:   pickPtr(base.Longitude, secondary.Longitude),
		Phone:       pick(base.Phone, secondary.Phone),
		Email:       pick(base.Email, secondary.Email),
		WebsiteURL:  pick(base.WebsiteURL, secondary.WebsiteURL),
		BookingURL:  pick(base.BookingURL, secondary.BookingURL),
		Rating:      pickPtr(base.Rating, secondary.Rating),
		ReviewCount: pickPtr(base.ReviewCount, secondary.ReviewCount),
		Confidence:  max(base.Confidence, secondary.Confidence),
	}

	if len(base.Services) > 0 {
		out.Services = model.CloneServices(base.Services)
	} else {
		out.Services = model.CloneServices(secondary.Services)
	}

	if len(base.OpeningHours) > 0 {
		out.OpeningHours = maps.Clone(base.OpeningHours)
	} else {
		out.OpeningHours = maps.Clone(secondary.OpeningHours)
	}

	out.Provenance = make([]model.ProvenanceEntry, 0, len(base.Provenance)+len(secondary.Provenance))
	out.Provenance = append(out.Provenance, base.Provenance...)
	out.Provenance = append(out.Provenance, secondary.Provenance...)
	return out
}

func pick(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func pickPtr[T any](a, b *T) *T {
	v := a
	if v == nil {
		v = b
	}
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
