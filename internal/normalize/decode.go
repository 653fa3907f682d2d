package normalize

import (
	"regexp"
	"sort"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Flags select which placeholder syntaxes Decode recognizes.
type Flags uint

const (
	// FlagPrintf recognizes printf-style verbs such as %s, %1$d and %.2f.
	FlagPrintf Flags = 1 << iota
	// FlagBraces recognizes brace arguments such as {name} and {0}.
	FlagBraces
	// FlagXMLTags recognizes inline markup tags.
	FlagXMLTags
	// FlagMarkdown recognizes markdown code spans and raw inline HTML.
	FlagMarkdown
)

var (
	// %% is matched first so that it stays literal text.
	printfRe = regexp.MustCompile(`%%|%(?:\d+\$)?[-+ 0#]*(?:\d+|\*)?(?:\.(?:\d+|\*))?(?:hh|ll|[hlLqjzt])?[diouxXeEfFgGaAcspn@]`)
	bracesRe = regexp.MustCompile(`\{[^{}]+\}`)
	xmlTagRe = regexp.MustCompile(`<(/?)([A-Za-z][\w:.-]*)(?:\s[^<>]*?)?(/?)>`)

	markdownParser = goldmark.New()
)

type span struct {
	start, end int
	kind       PhKind
}

// Decode converts raw text into a normalized string, turning every
// placeholder recognized by flags into a placeholder part.
func Decode(raw string, flags Flags) String {
	if raw == "" {
		return String{}
	}

	var spans []span
	if flags&FlagMarkdown != 0 {
		spans = accept(spans, markdownSpans([]byte(raw)))
	}
	if flags&FlagXMLTags != 0 {
		var found []span
		for _, m := range xmlTagRe.FindAllStringSubmatchIndex(raw, -1) {
			found = append(found, span{start: m[0], end: m[1], kind: tagKind(m)})
		}
		spans = accept(spans, found)
	}
	if flags&FlagPrintf != 0 {
		var found []span
		for _, m := range printfRe.FindAllStringIndex(raw, -1) {
			if raw[m[0]:m[1]] == "%%" {
				continue
			}
			found = append(found, span{start: m[0], end: m[1], kind: KindX})
		}
		spans = accept(spans, found)
	}
	if flags&FlagBraces != 0 {
		var found []span
		for _, m := range bracesRe.FindAllStringIndex(raw, -1) {
			found = append(found, span{start: m[0], end: m[1], kind: KindX})
		}
		spans = accept(spans, found)
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	out := String{}
	pos := 0
	for _, sp := range spans {
		if sp.start > pos {
			out = append(out, TextPart(raw[pos:sp.start]))
		}
		out = append(out, PhPart(sp.kind, raw[sp.start:sp.end]))
		pos = sp.end
	}
	if pos < len(raw) {
		out = append(out, TextPart(raw[pos:]))
	}
	return out
}

// accept appends the candidates that do not overlap an already accepted span.
func accept(accepted, candidates []span) []span {
	for _, c := range candidates {
		overlaps := false
		for _, a := range accepted {
			if c.start < a.end && a.start < c.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c)
		}
	}
	return accepted
}

func tagKind(m []int) PhKind {
	switch {
	case m[2] != m[3]:
		return KindEX
	case m[6] != m[7]:
		return KindX
	default:
		return KindBX
	}
}

// markdownSpans returns the byte ranges of inline code spans and raw HTML.
func markdownSpans(src []byte) []span {
	doc := markdownParser.Parser().Parse(text.NewReader(src))

	var spans []span
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.CodeSpan:
			start, stop := -1, -1
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					if start < 0 {
						start = t.Segment.Start
					}
					stop = t.Segment.Stop
				}
			}
			if start < 0 {
				return ast.WalkSkipChildren, nil
			}
			start = widenLeft(src, start)
			stop = widenRight(src, stop)
			spans = append(spans, span{start: start, end: stop, kind: KindX})
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			if node.Segments == nil || node.Segments.Len() == 0 {
				return ast.WalkContinue, nil
			}
			start := node.Segments.At(0).Start
			stop := node.Segments.At(node.Segments.Len() - 1).Stop
			kind := KindX
			if m := xmlTagRe.FindStringSubmatchIndex(string(src[start:stop])); m != nil && m[0] == 0 {
				kind = tagKind(m)
			}
			spans = append(spans, span{start: start, end: stop, kind: kind})
		}
		return ast.WalkContinue, nil
	})
	return spans
}

// widenLeft moves a code span start back over the stripped padding space and
// the opening backticks.
func widenLeft(src []byte, start int) int {
	j := start
	for j > 0 && src[j-1] == ' ' {
		j--
	}
	if j == 0 || src[j-1] != '`' {
		return start
	}
	for j > 0 && src[j-1] == '`' {
		j--
	}
	return j
}

func widenRight(src []byte, stop int) int {
	j := stop
	for j < len(src) && src[j] == ' ' {
		j++
	}
	if j == len(src) || src[j] != '`' {
		return stop
	}
	for j < len(src) && src[j] == '`' {
		j++
	}
	return j
}
