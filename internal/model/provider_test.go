package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateRecord_MaxPriority(t *testing.T) {
	t.Parallel()

	rec := CandidateRecord{}
	assert.Equal(t, 0, rec.MaxPriority())

	rec.Provenance = []ProvenanceEntry{
		{Kind: SourceSearch},
		{Kind: SourceGooglePlaces},
		{Kind: SourceWebsite},
	}
	assert.Equal(t, PriorityGooglePlaces, rec.MaxPriority())
}

func TestCandidateRecord_CloneNoAliasing(t *testing.T) {
	t.Parallel()

	orig := CandidateRecord{
		Name:         "Serenity Spa",
		Rating:       Ptr(4.5),
		OpeningHours: map[string]string{"Monday": "9-5"},
		Services: []ServiceOffering{
			{Category: CategoryMassage, Name: "Swedish", PriceCents: Ptr(9000)},
		},
		Provenance: []ProvenanceEntry{{Kind: SourceWebsite, URL: "https://a.test", FetchedAt: time.Now()}},
	}

	cp := orig.Clone()
	require.Equal(t, orig, cp)

	*cp.Rating = 1.0
	cp.OpeningHours["Monday"] = "closed"
	*cp.Services[0].PriceCents = 1
	cp.Services[0].Name = "Deep Tissue"
	cp.Provenance[0].URL = "https://b.test"

	assert.Equal(t, 4.5, *orig.Rating)
	assert.Equal(t, "9-5", orig.OpeningHours["Monday"])
	assert.Equal(t, 9000, *orig.Services[0].PriceCents)
	assert.Equal(t, "Swedish", orig.Services[0].Name)
	assert.Equal(t, "https://a.test", orig.Provenance[0].URL)
}

func TestSourceKind_Priority(t *testing.T) {
	t.Parallel()

	assert.Greater(t, SourceGooglePlaces.Priority(), SourceWebsite.Priority())
	assert.Greater(t, SourceWebsite.Priority(), SourceDirectory.Priority())
	assert.Greater(t, SourceDirectory.Priority(), SourceSearch.Priority())
	assert.Equal(t, 0, SourceKind("unknown").Priority())
}
