package research

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/features/store/inmem"
	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/catalog"
	"github.com/flowclip/flowclip/runtime/model/modeltest"
	"github.com/flowclip/flowclip/runtime/workflow"
)

func newConsolidator(t *testing.T, client *modeltest.Client) *Consolidator {
	t.Helper()
	rt, err := workflow.New(workflow.Options{
		Store: inmem.New(),
		Bus:   bus.New(),
		Model: client,
	})
	require.NoError(t, err)
	require.NoError(t, rt.Register(catalog.ConsolidationWorkflow()))
	c, err := New(Options{Runtime: rt})
	require.NoError(t, err)
	return c
}

func hotelInput() Input {
	return Input{
		SessionType: "hotel_research",
		Relationships: catalog.EntityRelationships{
			ConsolidationStrategy: "COMPARE",
			Type:                  "comparable-entities",
			Entities:              []string{"Hilton Toronto Downtown", "The Ritz-Carlton, Toronto", "Shangri-La Hotel Toronto"},
			ComparisonDimensions:  []string{"price", "amenities", "location", "reviews"},
		},
		Entities: []EntityResearch{
			{
				Entity:   "Hilton Toronto Downtown",
				Findings: []string{"Hilton price from $250/night", "Hilton location near Union Station", "Hilton reviews average 4.2"},
				Sources:  []catalog.Source{{Title: "hilton", URL: "https://example.com/hilton"}},
			},
			{
				Entity:   "The Ritz-Carlton, Toronto",
				Findings: []string{"Ritz price from $550/night", "Ritz amenities include a spa"},
				Sources:  []catalog.Source{{Title: "ritz", URL: "https://example.com/ritz"}},
			},
			{
				Entity:   "Shangri-La Hotel Toronto",
				Findings: []string{"Shangri-La price from $480/night", "Shangri-La reviews praise the location"},
				Sources:  []catalog.Source{{Title: "shangrila", URL: "https://example.com/shangrila"}},
			},
		},
	}
}

func TestChooseStrategyTable(t *testing.T) {
	cases := []struct {
		name     string
		entities int
		relType  string
		want     Strategy
	}{
		{"single entity merges", 1, "same-entity", StrategyMerge},
		{"comparable entities compare", 3, "comparable-entities", StrategyCompare},
		{"complementary entities complement", 2, "complementary", StrategyComplement},
		{"independent entities generic", 2, "independent", StrategyGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := Input{Relationships: catalog.EntityRelationships{Type: tc.relType}}
			for i := 0; i < tc.entities; i++ {
				in.Entities = append(in.Entities, EntityResearch{Entity: string(rune('a' + i))})
			}
			require.Equal(t, tc.want, ChooseStrategy(in))
		})
	}
}

func TestCompareMatrixIsRectangular(t *testing.T) {
	c := newConsolidator(t, &modeltest.Client{})
	out, err := c.Consolidate(context.Background(), hotelInput())
	require.NoError(t, err)
	require.Equal(t, StrategyCompare, out.Strategy)
	require.NotNil(t, out.Output.ComparisonMatrix)

	m := out.Output.ComparisonMatrix
	require.Len(t, m.Entities, 3)
	dims := make(map[string]bool)
	for _, row := range m.Rows {
		require.Len(t, row.Cells, 3, "row %s must be rectangular", row.Dimension)
		dims[row.Dimension] = true
	}
	for _, want := range []string{"price", "amenities", "location", "reviews"} {
		require.True(t, dims[want], "missing dimension %s", want)
	}
}

func TestCompareWinnerFromFindings(t *testing.T) {
	c := newConsolidator(t, &modeltest.Client{})
	out, err := c.Consolidate(context.Background(), hotelInput())
	require.NoError(t, err)
	for _, row := range out.Output.ComparisonMatrix.Rows {
		if row.Dimension == "amenities" {
			require.Equal(t, "The Ritz-Carlton, Toronto", row.Winner)
		}
	}
}

func TestMergeFlattensAndDedupsSources(t *testing.T) {
	c := newConsolidator(t, &modeltest.Client{})
	in := Input{
		SessionType:   "hotel_research",
		Relationships: catalog.EntityRelationships{Type: "same-entity"},
		Entities: []EntityResearch{{
			Entity:   "Hilton Toronto Downtown",
			Findings: []string{"finding one", "finding one", "finding two"},
			Sources: []catalog.Source{
				{Title: "a", URL: "https://example.com/a"},
				{Title: "a again", URL: "https://example.com/a"},
				{Title: "b", URL: "https://example.com/b"},
			},
		}},
	}
	out, err := c.Consolidate(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, StrategyMerge, out.Strategy)
	require.NotNil(t, out.Output.ConsolidatedProfile)
	require.Equal(t, []string{"finding one", "finding two"}, out.Output.ConsolidatedProfile.Findings)
	require.Len(t, out.Output.ConsolidatedProfile.Sources, 2)
}

func TestComplementExtractsAtLeastTwoThemes(t *testing.T) {
	c := newConsolidator(t, &modeltest.Client{})
	in := Input{
		SessionType:   "travel_research",
		Relationships: catalog.EntityRelationships{Type: "complementary"},
		Entities: []EntityResearch{
			{Entity: "Hilton Toronto", Findings: []string{"downtown Toronto location near theatre district"}},
			{Entity: "Canoe Restaurant", Findings: []string{"downtown Toronto dining with theatre views"}},
		},
	}
	out, err := c.Consolidate(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, StrategyComplement, out.Strategy)
	require.GreaterOrEqual(t, len(out.Output.Synergies), 2)
}

func TestConfidenceFormula(t *testing.T) {
	in := hotelInput()
	findings := flattenFindings(in)
	got := computeConfidence(in, findings)

	// 7 findings, aspects {price, amenities, location, reviews} covered,
	// 3 sources over 7 findings.
	want := 7.0/10*0.6 + 4.0/5*0.2 + (3.0/7)/3*0.2
	require.InDelta(t, want, got, 1e-9)
}

func TestFallbackScalesConfidence(t *testing.T) {
	// No scripted consolidation response: the workflow fails schema
	// validation and the deterministic fallback runs.
	c := newConsolidator(t, &modeltest.Client{})
	in := hotelInput()
	out, err := c.Consolidate(context.Background(), in)
	require.NoError(t, err)
	want := computeConfidence(in, flattenFindings(in)) * fallbackScale
	require.InDelta(t, want, out.Confidence, 1e-9)
	require.NotEmpty(t, out.Output.Summary)
}

func TestModelPathKeepsConfidence(t *testing.T) {
	client := (&modeltest.Client{}).Respond("session_consolidation",
		`{"summary":"consolidated","researchObjective":"compare hotels","primaryIntent":"hotel_research","researchGoals":["g"],"nextSteps":["n"]}`)
	c := newConsolidator(t, client)
	in := hotelInput()
	out, err := c.Consolidate(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "consolidated", out.Output.Summary)
	want := computeConfidence(in, flattenFindings(in))
	require.InDelta(t, want, out.Confidence, 1e-9)
}

func TestQualityLabels(t *testing.T) {
	c := &Consolidator{thresholds: DefaultThresholds()}
	require.Equal(t, "high", c.qualityLabel(0.85))
	require.Equal(t, "good", c.qualityLabel(0.7))
	require.Equal(t, "moderate", c.qualityLabel(0.5))
	require.Equal(t, "basic", c.qualityLabel(0.2))
}

// TestConsolidateIdempotent verifies that consolidating the same input twice
// produces an identical strategy choice and byte-identical key findings.
func TestConsolidateIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("same input, same findings and strategy", prop.ForAll(
		func(findings []string, relType string) bool {
			in := Input{
				SessionType:   "general_research",
				Relationships: catalog.EntityRelationships{Type: relType},
				Entities: []EntityResearch{
					{Entity: "one", Findings: findings},
					{Entity: "two", Findings: findings},
				},
			}
			c := newConsolidator(t, &modeltest.Client{})
			first, err := c.Consolidate(context.Background(), in)
			if err != nil {
				return false
			}
			second, err := c.Consolidate(context.Background(), in)
			if err != nil {
				return false
			}
			if first.Strategy != second.Strategy {
				return false
			}
			a, _ := json.Marshal(first.KeyFindings)
			b, _ := json.Marshal(second.KeyFindings)
			return string(a) == string(b)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.OneConstOf("comparable-entities", "complementary", "independent", "same-entity"),
	))

	properties.TestingRun(t)
}
