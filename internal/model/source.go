package model

// SourceKind identifies the kind of source that produced a record. It is
// also the bucket used for rate limits and daily quotas.
type SourceKind string

const (
	SourceGooglePlaces SourceKind = "google_places"
	SourceWebsite      SourceKind = "website"
	SourceDirectory    SourceKind = "directory"
	SourceSearch       SourceKind = "search"
)

// Source priorities. Higher wins when merging records.
const (
	PriorityGooglePlaces = 100
	PriorityWebsite      = 60
	PriorityDirectory    = 30
	PrioritySearch       = 20
)

// Priority returns the merge priority for the source kind. Unknown kinds
// rank below every known kind.
func (k SourceKind) Priority() int {
	switch k {
	case SourceGooglePlaces:
		return PriorityGooglePlaces
	case SourceWebsite:
		return PriorityWebsite
	case SourceDirectory:
		return PriorityDirectory
	case SourceSearch:
		return PrioritySearch
	default:
		return 0
	}
}

func (k SourceKind) String() string { return string(k) }
