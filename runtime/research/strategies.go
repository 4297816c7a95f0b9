package research

import (
	"fmt"
	"strings"

	"github.com/flowclip/flowclip/runtime/catalog"
)

// postProcess enforces the strategy-specific output invariants on top of the
// model (or fallback) output: a rectangular comparison matrix with
// per-dimension winners, a merged profile with deduplicated findings and
// sources, or at least two common themes.
func (c *Consolidator) postProcess(strategy Strategy, in Input, out *catalog.Consolidation) {
	switch strategy {
	case StrategyCompare:
		out.ComparisonMatrix = rectangularMatrix(in, out.ComparisonMatrix)
		out.ConsolidatedProfile = nil
		out.Synergies = nil
	case StrategyMerge:
		out.ComparisonMatrix = nil
		out.Synergies = nil
		out.ConsolidatedProfile = mergedProfile(in, out.ConsolidatedProfile)
	case StrategyComplement:
		out.ComparisonMatrix = nil
		out.ConsolidatedProfile = nil
		out.Synergies = commonThemes(in, out.Synergies)
	default:
		out.ComparisonMatrix = nil
		out.ConsolidatedProfile = nil
		out.Synergies = nil
	}
}

// rectangularMatrix builds a rectangular comparison: one column per entity
// in first-seen order, one row per dimension covering at least the default
// aspect set, every row exactly as wide as the entity list. Model-provided
// cells and winners are kept where they fit; gaps are filled from findings.
func rectangularMatrix(in Input, m *catalog.ComparisonMatrix) *catalog.ComparisonMatrix {
	entities := make([]string, 0, len(in.Entities))
	for _, e := range in.Entities {
		entities = append(entities, e.Entity)
	}

	dims := make([]string, 0, 8)
	seen := make(map[string]bool)
	addDim := func(d string) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			return
		}
		seen[d] = true
		dims = append(dims, d)
	}
	for _, d := range in.Relationships.ComparisonDimensions {
		addDim(d)
	}
	for _, d := range aspects[:4] {
		addDim(d)
	}

	modelRows := make(map[string]catalog.ComparisonRow)
	if m != nil {
		for _, r := range m.Rows {
			modelRows[strings.ToLower(r.Dimension)] = r
		}
	}

	rows := make([]catalog.ComparisonRow, 0, len(dims))
	for _, dim := range dims {
		row := catalog.ComparisonRow{Dimension: dim, Cells: make([]string, len(entities))}
		if mr, ok := modelRows[dim]; ok && m != nil {
			for i, entity := range entities {
				for j, col := range m.Entities {
					if col == entity && j < len(mr.Cells) {
						row.Cells[i] = mr.Cells[j]
					}
				}
			}
			row.Winner = mr.Winner
		}
		for i, entity := range entities {
			if row.Cells[i] == "" {
				row.Cells[i] = cellFromFindings(in, entity, dim)
			}
		}
		if !contains(entities, row.Winner) {
			row.Winner = dimensionWinner(in, dim)
		}
		rows = append(rows, row)
	}
	return &catalog.ComparisonMatrix{Entities: entities, Rows: rows}
}

// cellFromFindings returns the first finding for the entity mentioning the
// dimension, or "no data".
func cellFromFindings(in Input, entity, dim string) string {
	for _, e := range in.Entities {
		if e.Entity != entity {
			continue
		}
		for _, f := range e.Findings {
			if strings.Contains(strings.ToLower(f), dim) {
				return f
			}
		}
	}
	return "no data"
}

// dimensionWinner picks the entity with the most findings mentioning the
// dimension. Ties go to the earlier entity so the choice is deterministic.
func dimensionWinner(in Input, dim string) string {
	best, bestCount := "", 0
	for _, e := range in.Entities {
		count := 0
		for _, f := range e.Findings {
			if strings.Contains(strings.ToLower(f), dim) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = e.Entity, count
		}
	}
	return best
}

// mergedProfile flattens repeated research on one entity: deduplicated
// findings and sources under the first entity name.
func mergedProfile(in Input, p *catalog.ConsolidatedProfile) *catalog.ConsolidatedProfile {
	entity := ""
	if p != nil && p.Entity != "" {
		entity = p.Entity
	} else if len(in.Entities) > 0 {
		entity = in.Entities[0].Entity
	}
	seenURL := make(map[string]bool)
	var sources []catalog.Source
	for _, e := range in.Entities {
		for _, s := range e.Sources {
			if s.URL == "" || seenURL[s.URL] {
				continue
			}
			seenURL[s.URL] = true
			sources = append(sources, s)
		}
	}
	return &catalog.ConsolidatedProfile{
		Entity:   entity,
		Findings: flattenFindings(in),
		Sources:  sources,
	}
}

// commonThemes guarantees at least two themes. Model synergies are kept;
// missing themes are extracted by finding words shared across the findings
// of at least two entities, with fixed generic themes as the last resort.
func commonThemes(in Input, synergies []string) []string {
	out := make([]string, 0, len(synergies)+2)
	seen := make(map[string]bool)
	for _, s := range synergies {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) >= 2 {
		return out
	}
	for _, w := range sharedWords(in) {
		theme := "shared focus: " + w
		if !seen[theme] {
			seen[theme] = true
			out = append(out, theme)
		}
		if len(out) >= 2 {
			return out
		}
	}
	for _, generic := range []string{"related research goals", "overlapping plans"} {
		if len(out) >= 2 {
			break
		}
		if !seen[generic] {
			out = append(out, generic)
		}
	}
	return out
}

// sharedWords returns words appearing in the findings of at least two
// distinct entities, longest-first for specificity, alphabetical on ties.
func sharedWords(in Input) []string {
	byWord := make(map[string]map[string]bool)
	for _, e := range in.Entities {
		for _, f := range e.Findings {
			for _, w := range strings.Fields(strings.ToLower(f)) {
				w = strings.Trim(w, ".,!?:;\"'()[]")
				if len(w) < 5 {
					continue
				}
				if byWord[w] == nil {
					byWord[w] = make(map[string]bool)
				}
				byWord[w][e.Entity] = true
			}
		}
	}
	var words []string
	for w, entities := range byWord {
		if len(entities) >= 2 {
			words = append(words, w)
		}
	}
	sortWords(words)
	return words
}

func sortWords(words []string) {
	for i := 1; i < len(words); i++ {
		for j := i; j > 0 && wordLess(words[j], words[j-1]); j-- {
			words[j], words[j-1] = words[j-1], words[j]
		}
	}
}

func wordLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a < b
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// fallback produces the strategy's deterministic output when the model is
// unavailable or returned an invalid record. The shape matches the model
// path; postProcess fills in the strategy-specific structures.
func (c *Consolidator) fallback(strategy Strategy, in Input) catalog.Consolidation {
	names := sortedEntityNames(in)
	subject := strings.Join(names, ", ")
	if subject == "" {
		subject = in.SessionType
	}
	out := catalog.Consolidation{
		ResearchObjective: fmt.Sprintf("Consolidate %s research on %s", in.SessionType, subject),
		PrimaryIntent:     in.SessionType,
		ResearchGoals:     []string{"collect key facts", "identify sources"},
		NextSteps:         []string{"review findings", "continue research if coverage is low"},
	}
	findings := flattenFindings(in)
	switch {
	case len(findings) == 0:
		out.Summary = fmt.Sprintf("No research findings were collected for %s.", subject)
	case len(findings) == 1:
		out.Summary = findings[0]
	default:
		out.Summary = fmt.Sprintf("%s (and %d further findings)", findings[0], len(findings)-1)
	}
	switch strategy {
	case StrategyCompare:
		out.Summary = fmt.Sprintf("Comparison of %s: %s", subject, out.Summary)
	case StrategyComplement:
		out.Summary = fmt.Sprintf("Complementary research across %s: %s", subject, out.Summary)
	}
	return out
}
