package normalize

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

var legacyValueRe = regexp.MustCompile(`[0-9A-Za-z_]+`)

// FlattenToOrdinal flattens s keeping literal text and replacing every
// placeholder with a marker of its kind only, e.g. "Hello, {{x}}!".
func FlattenToOrdinal(s String) string {
	var b strings.Builder
	for _, p := range s {
		if p.Ph != nil {
			b.WriteString("{{")
			b.WriteString(string(p.Ph.T))
			b.WriteString("}}")
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// GenerateGUID returns the fingerprint of a segment: a hash of the resource
// id, the segment id and the ordinal form of the source.
func GenerateGUID(rid, sid, ordinal string) string {
	sum := sha256.Sum256([]byte(rid + "|" + sid + "|" + ordinal))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SourceGUID is GenerateGUID applied to the ordinal form of nsrc.
func SourceGUID(rid, sid string, nsrc String) string {
	return GenerateGUID(rid, sid, FlattenToOrdinal(nsrc))
}

// LegacyID returns the mangled id of the idx-th placeholder of a string:
// letterIndex_tagKind_cleanedValueFragment.
func LegacyID(idx int, ph *Placeholder) string {
	return fmt.Sprintf("%s_%s_%s", letterIndex(idx), ph.T, legacyValueRe.FindString(ph.V))
}

// FlattenWithLegacyIDs flattens s writing each placeholder as {{mangledId}}
// and returns the mangled ids mapped to their placeholders.
func FlattenWithLegacyIDs(s String) (string, map[string]*Placeholder) {
	var b strings.Builder
	phMap := make(map[string]*Placeholder)
	idx := 0
	for _, p := range s {
		if p.Ph == nil {
			b.WriteString(p.Text)
			continue
		}
		id := LegacyID(idx, p.Ph)
		idx++
		phMap[id] = p.Ph
		b.WriteString("{{")
		b.WriteString(id)
		b.WriteString("}}")
	}
	return b.String(), phMap
}

// minifyLegacyID drops the positional letter from a mangled id.
func minifyLegacyID(id string) string {
	if _, rest, found := strings.Cut(id, "_"); found {
		return rest
	}
	return id
}

func letterIndex(idx int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if idx < len(letters) {
		return letters[idx : idx+1]
	}
	return letterIndex(idx/len(letters)-1) + letters[idx%len(letters):idx%len(letters)+1]
}
