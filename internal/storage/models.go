package storage

import "tmengine/internal/model"

// StatsRow aggregates the jobs and TUs of a pair by provider and job status.
type StatsRow struct {
	TranslationProvider string `json:"translationProvider"`
	Status              string `json:"status"`
	JobCount            int    `json:"jobCount"`
	TUCount             int    `json:"tuCount"`
	DistinctGUIDs       int    `json:"distinctGuids"`
}

// QualityRow counts winning entries with a given quality score.
type QualityRow struct {
	Q     int `json:"q"`
	Count int `json:"count"`
}

// StatusRow counts channel segments per project, quality and translation state.
type StatusRow struct {
	Prj   string `json:"prj"`
	Q     *int   `json:"q,omitempty"`
	State string `json:"state"` // translated, in flight or untranslated
	Count int    `json:"count"`
}

// Translation states reported in StatusRow.
const (
	StateTranslated   = "translated"
	StateInFlight     = "in flight"
	StateUntranslated = "untranslated"
)

// SearchParams filters winning entries. Empty fields match everything;
// text fields are substring matches.
type SearchParams struct {
	GUID                string
	NID                 string
	JobGUID             string
	RID                 string
	SID                 string
	Source              string
	Target              string
	TranslationProvider string
	MinQ                *int
	MaxQ                *int
	IncludeInflight     bool
	Limit               int
	Offset              int
}

// SearchResult is a matching entry with its rank among the entries for its GUID.
type SearchResult struct {
	TU   *model.TU `json:"tu"`
	Rank int       `json:"rank"`
}

// LookupParams identifies entries by exact keys. At least one field must be set.
type LookupParams struct {
	GUID string
	NID  string
	RID  string
	SID  string
}

// DeletePlan describes what a maintenance delete removed, or would remove on
// a dry run.
type DeletePlan struct {
	Jobs    []string `json:"jobs,omitempty"`
	TUCount int      `json:"tuCount"`
}
