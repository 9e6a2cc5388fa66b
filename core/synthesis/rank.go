package synthesis

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// tokenize lowercases and splits text into alphanumeric terms.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termSet returns the distinct terms of a text.
func termSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, t := range tokenize(text) {
		set[t] = true
	}
	return set
}

// keywordOverlap returns the fraction of query terms present in the
// document terms, in [0,1].
func keywordOverlap(queryTerms []string, docTerms map[string]bool) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	hits := 0
	for _, t := range queryTerms {
		if docTerms[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}

// recencyScore decays exponentially with document age.
func recencyScore(lastModified time.Time, now time.Time, halfLifeHours float64) float64 {
	age := now.Sub(lastModified).Hours()
	if age <= 0 {
		return 1
	}
	return math.Exp2(-age / halfLifeHours)
}

// proximityScore maps a hop distance to [0,1]; unreachable nodes score 0.
func proximityScore(distance int, reachable bool) float64 {
	if !reachable {
		return 0
	}
	return 1.0 / float64(1+distance)
}

// cosineSimilarity computes the cosine of two vectors, 0 on dimension
// mismatch or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// snippet extracts an excerpt of at most maxBytes around the first query
// term occurrence, cutting on whitespace where possible.
func snippet(body string, queryTerms []string, maxBytes int) string {
	if len(body) <= maxBytes {
		return body
	}

	lower := strings.ToLower(body)
	start := 0
	for _, t := range queryTerms {
		if idx := strings.Index(lower, t); idx >= 0 {
			// Center the window on the first hit.
			start = idx - maxBytes/2
			break
		}
	}
	if start < 0 {
		start = 0
	}
	if start > len(body)-maxBytes {
		start = len(body) - maxBytes
	}

	end := start + maxBytes
	text := body[start:end]

	// Cut partial words at the window edges.
	if start > 0 {
		if idx := strings.IndexAny(text, " \n\t"); idx >= 0 && idx < len(text)/4 {
			text = text[idx+1:]
		}
	}
	if end < len(body) {
		if idx := strings.LastIndexAny(text, " \n\t"); idx > len(text)*3/4 {
			text = text[:idx]
		}
	}

	return text
}
