package normalize

import (
	"errors"
	"strings"
)

// ErrIncompatible is returned when a target's placeholders cannot be mapped
// one to one onto the source's placeholders.
var ErrIncompatible = errors.New("target placeholders incompatible with source")

// Matcher resolves placeholders found in a candidate translation back to the
// source placeholders they stand for.
type Matcher struct {
	byLegacy map[string]*Placeholder
	byValue  map[string]*Placeholder
}

// NewMatcher builds the lookups for the placeholders of nsrc.
func NewMatcher(nsrc String) *Matcher {
	m := &Matcher{
		byLegacy: make(map[string]*Placeholder),
		byValue:  make(map[string]*Placeholder),
	}
	idx := 0
	for _, p := range nsrc {
		if p.Ph == nil {
			continue
		}
		id := p.Ph.V1
		if id == "" {
			id = LegacyID(idx, p.Ph)
		}
		idx++
		if _, dup := m.byLegacy[minifyLegacyID(id)]; !dup {
			m.byLegacy[minifyLegacyID(id)] = p.Ph
		}
		if _, dup := m.byValue[p.Ph.V]; !dup {
			m.byValue[p.Ph.V] = p.Ph
		}
	}
	return m
}

// Match returns the source placeholder a candidate part resolves to, or nil.
// The legacy id is tried first, then the raw value.
func (m *Matcher) Match(p Part) *Placeholder {
	if p.Ph == nil {
		return nil
	}
	if p.Ph.V1 != "" {
		if ph, ok := m.byLegacy[minifyLegacyID(p.Ph.V1)]; ok {
			return ph
		}
	}
	return m.byValue[p.Ph.V]
}

// AreCompatible reports whether the placeholders of ntgt map one to one onto
// those of nsrc. A source placeholder that occurs n times may be matched at
// most n times.
func AreCompatible(nsrc, ntgt String) bool {
	if nsrc.PlaceholderCount() != ntgt.PlaceholderCount() {
		return false
	}
	m := NewMatcher(nsrc)
	remaining := make(map[*Placeholder]int)
	for _, p := range nsrc {
		if ph := m.Match(p); ph != nil {
			remaining[ph]++
		}
	}
	for _, p := range ntgt {
		if p.Ph == nil {
			continue
		}
		ph := m.Match(p)
		if ph == nil || remaining[ph] == 0 {
			return false
		}
		remaining[ph]--
	}
	return true
}

// Render produces the target text, writing each placeholder with the value
// of the source placeholder it matches.
func Render(nsrc, ntgt String) (string, error) {
	if !AreCompatible(nsrc, ntgt) {
		return "", ErrIncompatible
	}
	m := NewMatcher(nsrc)
	var b strings.Builder
	for _, p := range ntgt {
		if p.Ph == nil {
			b.WriteString(p.Text)
			continue
		}
		b.WriteString(m.Match(p).V)
	}
	return b.String(), nil
}
