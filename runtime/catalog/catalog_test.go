package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/model/modeltest"
	"github.com/flowclip/flowclip/runtime/workflow"
)

func TestAllDefinitionsValidate(t *testing.T) {
	defs := []workflow.Definition{
		ContentAnalysisWorkflow(),
		SummarizationWorkflow(),
		ResearchWorkflow(),
		SessionManagementWorkflow(),
		ConsolidationWorkflow(),
		QueryGenerationWorkflow(),
		HotelResearchWorkflow(),
	}
	names := make(map[string]bool)
	for _, def := range defs {
		require.NoError(t, def.Validate(), def.Name)
		require.False(t, names[def.Name], "duplicate workflow name %s", def.Name)
		names[def.Name] = true
	}
	require.Len(t, names, 7)
}

func newExecution(client model.Client, state workflow.State) *workflow.Execution {
	return &workflow.Execution{
		State: state,
		Model: client,
		Cache: workflow.NewCache(),
	}
}

func TestEnhanceActionsDedupAndRank(t *testing.T) {
	actions := []RecommendedAction{
		{Action: ActionSummarize, Priority: PriorityLow, Confidence: 0.9},
		{Action: ActionResearch, Priority: PriorityMedium, Confidence: 0.5},
		{Action: ActionResearch, Priority: PriorityHigh, Confidence: 0.8},
		{Action: "made_up_action", Priority: PriorityHigh, Confidence: 1},
		{Action: ActionFactCheck, Priority: PriorityHigh, Confidence: 0.6},
	}
	out := enhanceActions(actions)
	require.Len(t, out, 3)
	require.Equal(t, ActionResearch, out[0].Action)
	require.Equal(t, PriorityHigh, out[0].Priority)
	require.Equal(t, ActionFactCheck, out[1].Action)
	require.Equal(t, ActionSummarize, out[2].Action)
}

func TestNormalizeTagsCapAndDedup(t *testing.T) {
	tags := []string{"Hotel", "hotel", "  Toronto  ", "two words", "", "a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	out := normalizeTags(tags)
	require.Len(t, out, maxTags)
	require.Equal(t, "hotel", out[0])
	require.Equal(t, "toronto", out[1])
	require.Equal(t, "two-words", out[2])
}

func TestContentAnalysisFallbackOnSchemaError(t *testing.T) {
	client := &modeltest.Client{}
	ex := newExecution(client, workflow.State{"content": "Hilton Toronto Downtown"})

	patch, err := comprehensiveAnalysis(context.Background(), ex)
	require.NoError(t, err)
	require.Equal(t, 0.0, patch.Set["confidence"])
	tags, ok := patch.Set["tags"].([]string)
	require.True(t, ok)
	require.Contains(t, tags, "hotel")
}

func TestContentAnalysisPropagatesTransientErrors(t *testing.T) {
	client := (&modeltest.Client{}).Fail(
		model.NewProviderError("anthropic", "messages.new", 429, model.KindRateLimited, "throttled", true, nil))
	ex := newExecution(client, workflow.State{"content": "anything"})
	_, err := comprehensiveAnalysis(context.Background(), ex)
	require.True(t, model.IsRetryable(err))
}

func TestSummaryRoutesToRefineBelowThreshold(t *testing.T) {
	client := (&modeltest.Client{}).
		Respond("quality_summary", `{"summary":"short summary","qualityScore":0.5}`)
	ex := newExecution(client, workflow.State{
		"content":   "long source content",
		"keyPoints": []string{"point one", "point two"},
	})
	patch, err := generateQualitySummary(context.Background(), ex)
	require.NoError(t, err)
	require.Equal(t, routeRefine, patch.Next)
	require.Equal(t, "short summary", patch.Set["finalSummary"])
}

func TestSummaryStopsAtQualityThreshold(t *testing.T) {
	client := (&modeltest.Client{}).
		Respond("quality_summary", `{"summary":"good summary","qualityScore":0.85}`)
	ex := newExecution(client, workflow.State{"content": "source", "keyPoints": []string{"p"}})
	patch, err := generateQualitySummary(context.Background(), ex)
	require.NoError(t, err)
	require.Empty(t, patch.Next)
}

func TestEnsureVerbatimKeepsOriginalQuery(t *testing.T) {
	out := ensureVerbatim([]string{"variant one", "variant two", "variant three"}, "original content")
	require.Len(t, out, 3)
	require.Equal(t, "original content", out[0])

	out = ensureVerbatim([]string{"original content", "variant"}, "original content")
	require.Equal(t, []string{"original content", "variant"}, out)
}

func TestCanonicalURLDedup(t *testing.T) {
	sources := []Source{
		{Title: "a", URL: "https://Example.com/page/"},
		{Title: "b", URL: "https://example.com/page?utm_source=x"},
		{Title: "c", URL: "https://example.com/page#section"},
		{Title: "d", URL: "https://example.com/other"},
	}
	out := dedupSources(sources)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].Title)
	require.Equal(t, "d", out[1].Title)
}

func TestPerformWebResearchEmitsOrderedProgress(t *testing.T) {
	client := &modeltest.Client{
		SearchResults: map[string][]model.SearchResult{
			"q1": {{Title: "r1", URL: "https://example.com/1"}},
			"q2": {{Title: "r2", URL: "https://example.com/2"}},
		},
	}
	ex := newExecution(client, workflow.State{"researchQueries": []string{"q1", "q2"}})
	patch, err := performWebResearch(context.Background(), ex)
	require.NoError(t, err)
	results, ok := patch.Set["searchResults"].([]Source)
	require.True(t, ok)
	require.Len(t, results, 2)
	require.Equal(t, []string{"q1", "q2"}, client.Searches)
}

func TestPerformWebResearchProceedsPastFailedQuery(t *testing.T) {
	client := &modeltest.Client{
		SearchResults: map[string][]model.SearchResult{
			"good": {{Title: "r", URL: "https://example.com/r"}},
		},
		SearchErrs: map[string]error{
			"bad": model.NewProviderError("anthropic", "web_search", 500, model.KindUnavailable, "down", true, nil),
		},
	}
	ex := newExecution(client, workflow.State{"researchQueries": []string{"bad", "good"}})
	patch, err := performWebResearch(context.Background(), ex)
	require.NoError(t, err)
	require.Equal(t, 1, patch.Set["failedQueries"])
	results := patch.Set["searchResults"].([]Source)
	require.Len(t, results, 1)
}

func TestProcessResultsLowersConfidenceOnFailures(t *testing.T) {
	client := (&modeltest.Client{}).
		Respond("research_findings", `{"keyFindings":["f1","f2"],"confidence":0.8}`)
	ex := newExecution(client, workflow.State{
		"researchQueries": []string{"q1", "q2"},
		"failedQueries":   1,
		"searchResults": []Source{
			{Title: "r", URL: "https://example.com/r"},
		},
	})
	patch, err := processResearchResults(context.Background(), ex)
	require.NoError(t, err)
	require.InDelta(t, 0.4, patch.Set["confidence"].(float64), 1e-9)
}

func TestQueryGenerationFallbackIncludesContent(t *testing.T) {
	client := &modeltest.Client{}
	ex := newExecution(client, workflow.State{
		"content": "Shangri-La Hotel Toronto",
		"context": map[string]any{"sessionType": "hotel_research", "tags": []string{"hotel"}},
	})
	patch, err := generateEntryQueries(context.Background(), ex)
	require.NoError(t, err)
	queries := patch.Set["queries"].([]string)
	require.NotEmpty(t, queries)
	require.LessOrEqual(t, len(queries), 3)
	require.Equal(t, "Shangri-La Hotel Toronto", queries[0])
}

func TestMembershipFallbackDetectsTypeFromKeywords(t *testing.T) {
	client := &modeltest.Client{}
	ex := newExecution(client, workflow.State{"content": "The Ritz-Carlton hotel in Toronto"})
	patch, err := evaluateSessionMembership(context.Background(), ex)
	require.NoError(t, err)
	require.Equal(t, "hotel_research", patch.Set["sessionType"])
	require.Equal(t, false, patch.Set["belongsToSession"])
	require.Equal(t, 0.0, patch.Set["confidence"])
}

func TestNormalizeSessionType(t *testing.T) {
	require.Equal(t, "hotel_research", normalizeSessionType("Hotel Research"))
	require.Equal(t, "hotel_research", normalizeSessionType("hotel"))
	require.Equal(t, "general_research", normalizeSessionType("something else"))
}

func TestDetectTypeKeywords(t *testing.T) {
	require.Equal(t, "hotel_research", detectTypeKeywords("Hilton Toronto Downtown"))
	require.Equal(t, "restaurant_research", detectTypeKeywords("best dinner menu downtown"))
	require.Equal(t, "general_research", detectTypeKeywords("JavaScript async/await tutorial"))
}
