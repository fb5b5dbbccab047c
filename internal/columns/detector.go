package columns

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// MinScore is the lowest similarity that still assigns a header.
	MinScore = 0.3

	// ConfirmThreshold is the confidence a required field needs to avoid confirmation.
	ConfirmThreshold = 0.7
)

// Mapping maps every canonical field to a source header, or "" when unmapped.
type Mapping map[Field]string

// Confidence holds a 0..1 score per canonical field. Unmapped fields score 0.
type Confidence map[Field]float64

// NewMapping returns a mapping with every field present and unmapped.
func NewMapping() Mapping {
	m := make(Mapping, len(Fields))
	for _, f := range Fields {
		m[f] = ""
	}
	return m
}

// Clone returns an independent copy.
func (m Mapping) Clone() Mapping {
	out := NewMapping()
	for f, h := range m {
		out[f] = h
	}
	return out
}

// DetectColumns proposes a header for each canonical field.
//
// Fields are visited in priority order and each takes the best-scoring
// header not already claimed, provided it scores at least MinScore. Ties go
// to the header that appears first. The returned slice lists the source
// headers that were not assigned to any field.
func DetectColumns(headers []string) (Mapping, Confidence, []string) {
	mapping := NewMapping()
	confidence := make(Confidence, len(Fields))
	for _, f := range Fields {
		confidence[f] = 0
	}

	used := make([]bool, len(headers))
	for _, field := range Fields {
		best, bestScore := -1, 0.0
		for i, h := range headers {
			if used[i] {
				continue
			}
			if s := scoreHeader(h, Keywords[field]); s > bestScore {
				best, bestScore = i, s
			}
		}
		if best >= 0 && bestScore >= MinScore {
			used[best] = true
			mapping[field] = headers[best]
			confidence[field] = bestScore
		}
	}

	var unmapped []string
	for i, h := range headers {
		if !used[i] {
			unmapped = append(unmapped, h)
		}
	}
	return mapping, confidence, unmapped
}

// NeedsConfirmation reports whether a human should review the mapping before
// rows are validated.
func NeedsConfirmation(mapping Mapping, confidence Confidence) bool {
	for _, f := range RequiredFields {
		if mapping[f] == "" || confidence[f] < ConfirmThreshold {
			return true
		}
	}
	return false
}

// ApplyOverrides sets fields to headers chosen by a reviewer.
// An empty header unmaps the field. Every header must exist in headers.
func ApplyOverrides(m Mapping, headers []string, overrides map[string]string) (Mapping, error) {
	out := m.Clone()
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	for name, header := range overrides {
		field, ok := ParseField(name)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		if header != "" && !known[header] {
			return nil, fmt.Errorf("field %q: header %q not present in source", name, header)
		}
		out[field] = header
	}
	return out, nil
}

// scoreHeader returns the best similarity between header and any keyword.
func scoreHeader(header string, keywords []string) float64 {
	best := 0.0
	for _, kw := range keywords {
		if s := similarity(header, kw); s > best {
			best = s
		}
	}
	return best
}

// similarity applies the first matching tier: exact, containment, token overlap.
func similarity(header, keyword string) float64 {
	h, k := normalize(header), normalize(keyword)
	if h == "" || k == "" {
		return 0
	}
	if h == k {
		return 1.0
	}
	if strings.Contains(h, k) || strings.Contains(k, h) {
		shorter, longer := len(h), len(k)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return 0.8 * float64(shorter) / float64(longer)
	}

	ht, kt := tokens(header), tokens(keyword)
	if len(ht) == 0 || len(kt) == 0 {
		return 0
	}
	set := make(map[string]bool, len(kt))
	for _, t := range kt {
		set[t] = true
	}
	matches := 0
	for _, t := range ht {
		if set[t] {
			matches++
		}
	}
	return 0.6 * float64(matches) / float64(max(len(ht), len(kt)))
}

// normalize lowercases s and drops everything but letters and digits.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
