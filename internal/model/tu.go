// Package model defines the entities persisted by the DAL and exchanged with
// TM stores: translation units, jobs, blocks and tables of contents.
package model

import (
	"encoding/json"
	"fmt"

	"tmengine/internal/normalize"
)

// LangPair is an ordered (source, target) language pair.
type LangPair struct {
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
}

// String returns the pair as "src→tgt".
func (p LangPair) String() string {
	return fmt.Sprintf("%s→%s", p.SourceLang, p.TargetLang)
}

// TU is a translation unit. The source-side fields describe the segment, the
// target-side fields one candidate translation of it. A paired TU carries both.
type TU struct {
	GUID string `json:"guid"`

	// Source side.
	RID   string           `json:"rid,omitempty"`
	SID   string           `json:"sid,omitempty"`
	NSrc  normalize.String `json:"nsrc,omitempty"`
	Prj   string           `json:"prj,omitempty"`
	Notes json.RawMessage  `json:"notes,omitempty"`
	NID   string           `json:"nid,omitempty"`
	Seq   int              `json:"seq,omitempty"`

	// Target side.
	NTgt                normalize.String `json:"ntgt,omitempty"`
	Inflight            bool             `json:"inflight,omitempty"`
	Q                   int              `json:"q,omitempty"`
	TS                  int64            `json:"ts,omitempty"`
	Cost                []float64        `json:"cost,omitempty"`
	JobGUID             string           `json:"jobGuid,omitempty"`
	TranslationProvider string           `json:"translationProvider,omitempty"`
	TH                  string           `json:"th,omitempty"`
	Rev                 json.RawMessage  `json:"rev,omitempty"`
}

// HasTarget reports whether the TU carries a translation or is in flight.
func (tu *TU) HasTarget() bool {
	return tu.NTgt != nil || tu.Inflight
}

// Beats reports whether tu wins over other for the same GUID: higher quality
// wins, and on tied quality the later timestamp wins. An entry still in
// flight never beats a translated one.
func (tu *TU) Beats(other *TU) bool {
	if other == nil {
		return true
	}
	if tu.Inflight != other.Inflight {
		return !tu.Inflight
	}
	if tu.Q != other.Q {
		return tu.Q > other.Q
	}
	return tu.TS > other.TS
}

// Winner returns the winning entry among candidates for one GUID.
func Winner(candidates ...*TU) *TU {
	var best *TU
	for _, c := range candidates {
		if c != nil && c.Beats(best) {
			best = c
		}
	}
	return best
}
