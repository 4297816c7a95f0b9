package session

import (
	"strings"

	"github.com/flowclip/flowclip/runtime/store"
)

// labelStopwords are capitalized words that never serve as the place or
// entity part of a session label.
var labelStopwords = map[string]bool{
	"The": true, "A": true, "An": true, "And": true, "Or": true, "Of": true,
	"In": true, "On": true, "At": true, "To": true, "For": true, "How": true,
	"What": true, "Hotel": true, "Restaurant": true, "Resort": true,
	"Inn": true, "Suites": true, "Downtown": true,
}

// deriveLabel builds the human-readable session label from the session type
// and the proper names shared across member contents: the humanized type,
// joined with the most frequent capitalized token when one stands out
// (typically a place name). The label is stable across member additions
// because the shared token only grows more frequent.
func deriveLabel(t store.SessionType, contents []string) string {
	base := humanizeType(t)
	place := dominantProperNoun(contents)
	if place == "" {
		return base
	}
	return base + " — " + place
}

// genericLabel reports whether the label carries no extracted name, i.e. it
// is just the humanized type. Generic labels may be upgraded when later
// members reveal a shared proper noun.
func genericLabel(t store.SessionType, label string) bool {
	return label == humanizeType(t)
}

// humanizeType renders a session type identifier as a title ("hotel_research"
// becomes "Hotel Research").
func humanizeType(t store.SessionType) string {
	parts := strings.Split(string(t), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// dominantProperNoun returns the capitalized token occurring most often
// across the contents, preferring tokens shared by several members. Ties go
// to the alphabetically first token for stability.
func dominantProperNoun(contents []string) string {
	counts := make(map[string]int)
	for _, content := range contents {
		seen := make(map[string]bool)
		for _, w := range strings.Fields(content) {
			w = strings.Trim(w, ".,!?:;\"'()[]")
			if len(w) < 3 || seen[w] {
				continue
			}
			if w[0] < 'A' || w[0] > 'Z' {
				continue
			}
			if labelStopwords[w] {
				continue
			}
			seen[w] = true
			counts[w]++
		}
	}
	best, bestCount := "", 0
	for w, c := range counts {
		if c > bestCount || (c == bestCount && w < best) {
			best, bestCount = w, c
		}
	}
	if bestCount < 1 {
		return ""
	}
	// A token seen in a single member is only trusted when it is the sole
	// candidate; shared tokens always win.
	if bestCount == 1 && len(counts) > 1 {
		return ""
	}
	return best
}
