// Package research implements the consolidation of per-entity session
// research into a single summary: strategy selection (compare, merge,
// complement, generic), model-backed synthesis through the consolidation
// workflow, deterministic fallbacks when the model output fails validation,
// and the research confidence and quality computation.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/flowclip/flowclip/runtime/catalog"
	"github.com/flowclip/flowclip/runtime/telemetry"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// Strategy identifies how per-entity research is consolidated.
type Strategy string

const (
	// StrategyCompare builds a dimension-by-entity comparison matrix.
	StrategyCompare Strategy = "COMPARE"
	// StrategyMerge flattens repeated research on a single entity.
	StrategyMerge Strategy = "MERGE"
	// StrategyComplement extracts common themes across complementary entities.
	StrategyComplement Strategy = "COMPLEMENT"
	// StrategyGeneric summarizes independent research.
	StrategyGeneric Strategy = "GENERIC"
)

// fallbackScale multiplies the computed confidence when the deterministic
// fallback produced the output instead of the model.
const fallbackScale = 0.7

// aspects are the research dimensions used for coverage scoring and for the
// deterministic comparison fallback.
var aspects = []string{"price", "amenities", "location", "reviews", "availability"}

type (
	// EntityResearch is the aggregated raw research for one entity.
	EntityResearch struct {
		// Entity names the researched entity.
		Entity string
		// Findings are the key findings collected for the entity.
		Findings []string
		// Sources are the deduplicated sources for the entity.
		Sources []catalog.Source
		// Summaries are intermediate summaries, if any.
		Summaries []string
	}

	// Input is the consolidation input: per-entity research plus the entity
	// relationship analysis from session evaluation.
	Input struct {
		// SessionType is the session's research kind.
		SessionType string
		// Entities is the per-entity research, in first-seen order.
		Entities []EntityResearch
		// Relationships is the entity relationship analysis.
		Relationships catalog.EntityRelationships
	}

	// Consolidated is the final session research artifact.
	Consolidated struct {
		// Strategy is the strategy that produced the output.
		Strategy Strategy
		// Output is the consolidated summary record.
		Output catalog.Consolidation
		// KeyFindings is the flattened deduplicated finding set.
		KeyFindings []string
		// TotalSources counts distinct sources across entities.
		TotalSources int
		// Confidence is the computed research confidence in [0,1].
		Confidence float64
		// Quality is the tunable quality label derived from Confidence.
		Quality string
	}

	// QualityThresholds map confidence to the quality labels. Values are
	// lower bounds; anything below Moderate is basic.
	QualityThresholds struct {
		High     float64
		Good     float64
		Moderate float64
	}

	// Options configures a Consolidator.
	Options struct {
		// Runtime executes the consolidation workflow. Required.
		Runtime *workflow.Runtime
		// Thresholds override the quality label thresholds. Zero value uses
		// the defaults.
		Thresholds QualityThresholds
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Consolidator chooses a strategy and builds the final session summary.
	// Consolidation is idempotent: identical inputs produce an identical
	// strategy choice and byte-identical key findings.
	Consolidator struct {
		runtime    *workflow.Runtime
		thresholds QualityThresholds
		logger     telemetry.Logger
	}
)

// DefaultThresholds returns the default quality label thresholds.
func DefaultThresholds() QualityThresholds {
	return QualityThresholds{High: 0.8, Good: 0.6, Moderate: 0.4}
}

// New constructs a Consolidator.
func New(opts Options) (*Consolidator, error) {
	if opts.Runtime == nil {
		return nil, errors.New("workflow runtime is required")
	}
	th := opts.Thresholds
	if th.High == 0 && th.Good == 0 && th.Moderate == 0 {
		th = DefaultThresholds()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Consolidator{runtime: opts.Runtime, thresholds: th, logger: logger}, nil
}

// ChooseStrategy selects the consolidation strategy from the entity count
// and the relationship signal. Hard constraints override the model: a
// comparison needs at least two entities, a merge exactly one target entity.
func ChooseStrategy(in Input) Strategy {
	switch {
	case len(in.Entities) <= 1:
		return StrategyMerge
	case in.Relationships.Type == "comparable-entities" ||
		in.Relationships.ConsolidationStrategy == string(StrategyCompare):
		return StrategyCompare
	case in.Relationships.Type == "complementary" ||
		in.Relationships.ConsolidationStrategy == string(StrategyComplement):
		return StrategyComplement
	default:
		return StrategyGeneric
	}
}

// Consolidate runs the chosen strategy over the input and returns the final
// artifact. When the consolidation workflow is unavailable or its output
// fails validation, the strategy's deterministic fallback produces the same
// output shape with confidence scaled down.
func (c *Consolidator) Consolidate(ctx context.Context, in Input) (*Consolidated, error) {
	strategy := ChooseStrategy(in)
	findings := flattenFindings(in)
	totalSources := countSources(in)
	confidence := computeConfidence(in, findings)

	out, fellBack := c.synthesize(ctx, strategy, in)
	if fellBack {
		confidence = clamp01(confidence * fallbackScale)
	}
	c.postProcess(strategy, in, &out)

	consolidated := &Consolidated{
		Strategy:     strategy,
		Output:       out,
		KeyFindings:  findings,
		TotalSources: totalSources,
		Confidence:   confidence,
		Quality:      c.qualityLabel(confidence),
	}
	return consolidated, ctx.Err()
}

// synthesize invokes the consolidation workflow and reports whether the
// deterministic fallback produced the output instead.
func (c *Consolidator) synthesize(ctx context.Context, strategy Strategy, in Input) (catalog.Consolidation, bool) {
	state, err := c.runtime.Execute(ctx, catalog.WorkflowConsolidation, workflow.State{
		"strategy":           string(strategy),
		"aggregatedResearch": renderInput(in),
	})
	if err != nil {
		c.logger.Warn(ctx, "consolidation model unavailable, using fallback", "strategy", string(strategy), "err", err)
		return c.fallback(strategy, in), true
	}
	out, err := catalog.DecodeConsolidation(state)
	if err != nil || out.Summary == "" {
		return c.fallback(strategy, in), true
	}
	return *out, false
}

// computeConfidence applies the research confidence formula: finding volume
// weighted 0.6, aspect coverage 0.2, source density 0.2, capped at 1.
func computeConfidence(in Input, findings []string) float64 {
	aspectCoverage := coveredAspects(findings)
	avgSources := 0.0
	if n := len(findings); n > 0 {
		avgSources = float64(countSources(in)) / float64(n)
	}
	score := float64(len(findings))/10*0.6 +
		float64(aspectCoverage)/5*0.2 +
		avgSources/3*0.2
	return math.Min(1.0, score)
}

func (c *Consolidator) qualityLabel(confidence float64) string {
	switch {
	case confidence >= c.thresholds.High:
		return "high"
	case confidence >= c.thresholds.Good:
		return "good"
	case confidence >= c.thresholds.Moderate:
		return "moderate"
	default:
		return "basic"
	}
}

// flattenFindings merges per-entity findings in entity order, deduplicating
// exact matches. The order is deterministic so repeated consolidation of the
// same input yields a byte-identical finding set.
func flattenFindings(in Input) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range in.Entities {
		for _, f := range e.Findings {
			f = strings.TrimSpace(f)
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func countSources(in Input) int {
	seen := make(map[string]bool)
	for _, e := range in.Entities {
		for _, s := range e.Sources {
			if s.URL != "" {
				seen[s.URL] = true
			}
		}
	}
	return len(seen)
}

// coveredAspects counts the distinct research aspects mentioned across the
// findings.
func coveredAspects(findings []string) int {
	covered := make(map[string]bool)
	for _, f := range findings {
		lower := strings.ToLower(f)
		for _, a := range aspects {
			if strings.Contains(lower, a) {
				covered[a] = true
			}
		}
	}
	return len(covered)
}

// renderInput flattens the consolidation input into the prompt block given
// to the consolidation workflow.
func renderInput(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session type: %s\n", in.SessionType)
	if r, err := json.Marshal(in.Relationships); err == nil {
		fmt.Fprintf(&b, "Entity relationships: %s\n", r)
	}
	for _, e := range in.Entities {
		fmt.Fprintf(&b, "\nEntity: %s\n", e.Entity)
		for _, f := range e.Findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		for _, s := range e.Sources {
			fmt.Fprintf(&b, "  source: %s (%s)\n", s.Title, s.URL)
		}
		for _, s := range e.Summaries {
			fmt.Fprintf(&b, "  summary: %s\n", s)
		}
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortedEntityNames(in Input) []string {
	names := make([]string, 0, len(in.Entities))
	for _, e := range in.Entities {
		names = append(names, e.Entity)
	}
	sort.Strings(names)
	return names
}
