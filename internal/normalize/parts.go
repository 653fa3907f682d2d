// Package normalize implements the canonical representation of translatable
// text: an ordered sequence of literal text and placeholder parts.
//
// Normalized strings are what the translation memory stores and compares.
// Their shape (text plus placeholder kinds) determines the GUID of a segment,
// while placeholder values are free to change between resource versions.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PhKind is the tag kind of a placeholder.
type PhKind string

const (
	// KindX is a standalone placeholder (variable, self-closing tag, code span).
	KindX PhKind = "x"
	// KindBX opens a paired placeholder.
	KindBX PhKind = "bx"
	// KindEX closes a paired placeholder.
	KindEX PhKind = "ex"
)

// Placeholder is a non-translatable part of a segment.
type Placeholder struct {
	T  PhKind `json:"t"`
	V  string `json:"v"`
	S  string `json:"s,omitempty"`
	V1 string `json:"v1,omitempty"`
}

// Part is either literal text or a placeholder. A Part with a nil Ph is text.
type Part struct {
	Text string
	Ph   *Placeholder
}

// TextPart returns a literal text part.
func TextPart(s string) Part {
	return Part{Text: s}
}

// PhPart returns a placeholder part.
func PhPart(kind PhKind, value string) Part {
	return Part{Ph: &Placeholder{T: kind, V: value}}
}

// IsText reports whether the part is literal text.
func (p Part) IsText() bool {
	return p.Ph == nil
}

// MarshalJSON encodes text parts as JSON strings and placeholders as objects.
func (p Part) MarshalJSON() ([]byte, error) {
	if p.Ph == nil {
		return json.Marshal(p.Text)
	}
	return json.Marshal(p.Ph)
}

// UnmarshalJSON accepts either a JSON string or a placeholder object.
func (p *Part) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty normalized part")
	}
	if b[0] == '"' {
		p.Ph = nil
		return json.Unmarshal(b, &p.Text)
	}
	var ph Placeholder
	if err := json.Unmarshal(b, &ph); err != nil {
		return fmt.Errorf("invalid placeholder part: %w", err)
	}
	switch ph.T {
	case KindX, KindBX, KindEX:
	default:
		return fmt.Errorf("invalid placeholder kind %q", ph.T)
	}
	p.Text = ""
	p.Ph = &ph
	return nil
}

// String is a normalized string.
// Adjacent text parts are not required to be merged and must be treated as
// one concatenated run by consumers.
type String []Part

// Placeholders returns the placeholder parts in order.
func (s String) Placeholders() []*Placeholder {
	var phs []*Placeholder
	for _, p := range s {
		if p.Ph != nil {
			phs = append(phs, p.Ph)
		}
	}
	return phs
}

// PlaceholderCount returns the number of placeholder parts.
func (s String) PlaceholderCount() int {
	n := 0
	for _, p := range s {
		if p.Ph != nil {
			n++
		}
	}
	return n
}

// Plain flattens the string, writing placeholders with their raw value.
func (s String) Plain() string {
	var b strings.Builder
	for _, p := range s {
		if p.Ph != nil {
			b.WriteString(p.Ph.V)
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// Coalesce returns a copy of s with adjacent text parts merged and empty text
// parts dropped.
func (s String) Coalesce() String {
	out := make(String, 0, len(s))
	for _, p := range s {
		if p.Ph == nil {
			if p.Text == "" {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Ph == nil {
				out[n-1].Text += p.Text
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
