package catalog

import (
	"context"
	"strings"

	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// maxKeyFindings bounds the findings synthesized by a research run.
const maxKeyFindings = 15

// ResearchWorkflow builds the research definition: query generation, the
// sequential web research loop with live per-query progress, and findings
// synthesis. Results are deduplicated by canonical URL; a failed query
// lowers confidence and the run proceeds with partial results.
func ResearchWorkflow() workflow.Definition {
	return workflow.Definition{
		Name:  WorkflowResearch,
		Start: "generate_research_queries",
		Nodes: []workflow.Node{
			{Name: "generate_research_queries", Run: generateResearchQueries},
			{Name: "perform_web_research", Run: performWebResearch},
			{Name: "process_research_results", Run: processResearchResults},
		},
		Edges: map[string]workflow.Edge{
			"generate_research_queries": {Default: "perform_web_research"},
			"perform_web_research":      {Default: "process_research_results"},
			"process_research_results":  {Default: workflow.End},
		},
	}
}

// generateResearchQueries produces the search queries for the run. The
// original content is always included verbatim as one query.
func generateResearchQueries(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	// Queries supplied by the caller (the session research pipeline) are
	// used as-is: the pipeline's query generation already included the
	// original content verbatim among the member's queries.
	if qs := ex.Strings("researchQueries"); len(qs) > 0 {
		return &workflow.Patch{Set: map[string]any{"researchQueries": qs}}, nil
	}
	var out struct {
		Queries []string `json:"researchQueries"`
	}
	if err := analyzeJSON(ctx, ex, promptGenerateQueries, "research_queries", schemaQueries, nil, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out.Queries = nil
	}
	return &workflow.Patch{Set: map[string]any{
		"researchQueries": ensureVerbatim(out.Queries, ex.String(chanContent)),
	}}, nil
}

// performWebResearch drives the web search stream for each query in order,
// emitting a progress update per query phase. Failed queries are skipped and
// recorded so the synthesis node can lower confidence.
func performWebResearch(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	queries := ex.Strings("researchQueries")
	aspect := ex.String("researchAspect")

	var (
		results []Source
		failed  int
	)
	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ex.Progress(bus.ResearchProgressPayload{
			Phase:            "searching",
			CurrentAspect:    aspect,
			LangGraphQuery:   q,
			LangGraphStatus:  string(model.SearchSearching),
			TotalQueries:     len(queries),
			CompletedQueries: i,
		})
		hits, err := ex.Model.WebSearchStream(ctx, q, func(p model.SearchProgress) {
			ex.Progress(bus.ResearchProgressPayload{
				Phase:            "searching",
				CurrentAspect:    aspect,
				LangGraphQuery:   p.Query,
				LangGraphStatus:  string(p.Status),
				ResultsCount:     p.ResultsCount,
				TotalQueries:     len(queries),
				CompletedQueries: i,
			})
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failed++
			ex.Progress(bus.ResearchProgressPayload{
				Phase:            "searching",
				CurrentAspect:    aspect,
				LangGraphQuery:   q,
				LangGraphStatus:  string(model.SearchFailed),
				TotalQueries:     len(queries),
				CompletedQueries: i + 1,
			})
			continue
		}
		for _, h := range hits {
			results = append(results, Source{Title: h.Title, URL: h.URL, Snippet: h.Snippet})
		}
		ex.Progress(bus.ResearchProgressPayload{
			Phase:            "searching",
			CurrentAspect:    aspect,
			LangGraphQuery:   q,
			LangGraphStatus:  string(model.SearchCompleted),
			ResultsCount:     len(hits),
			TotalQueries:     len(queries),
			CompletedQueries: i + 1,
		})
	}
	return &workflow.Patch{Set: map[string]any{
		"searchResults": dedupSources(results),
		"failedQueries": failed,
	}}, nil
}

// processResearchResults synthesizes key findings from the collected
// results. Per-query failures lower the final confidence proportionally.
func processResearchResults(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	results := sourcesOf(ex.State["searchResults"])
	queries := ex.Strings("researchQueries")
	failed := int(ex.Float("failedQueries"))

	var out struct {
		KeyFindings []string `json:"keyFindings"`
		Confidence  float64  `json:"confidence"`
	}
	if len(results) == 0 {
		out.Confidence = 0
	} else if err := analyzeJSON(ctx, ex, promptProcessResults, "research_findings", schemaFindings, []string{renderSources(results)}, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out.KeyFindings = fallbackFindings(results)
		out.Confidence = 0.3
	}
	if len(out.KeyFindings) > maxKeyFindings {
		out.KeyFindings = out.KeyFindings[:maxKeyFindings]
	}
	confidence := clamp01(out.Confidence)
	if n := len(queries); n > 0 && failed > 0 {
		confidence = clamp01(confidence * float64(n-failed) / float64(n))
	}
	return &workflow.Patch{Set: map[string]any{
		"keyFindings": out.KeyFindings,
		"sources":     results,
		"confidence":  confidence,
	}}, nil
}

// ensureVerbatim guarantees the original content appears verbatim among the
// queries and caps the set at three.
func ensureVerbatim(queries []string, content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return queries
	}
	for _, q := range queries {
		if q == content {
			if len(queries) > 3 {
				return queries[:3]
			}
			return queries
		}
	}
	queries = append([]string{content}, queries...)
	if len(queries) > 3 {
		queries = queries[:3]
	}
	return queries
}

// sourcesOf coerces a state channel back into a Source slice. Channels hold
// either typed slices (set by nodes) or generic slices (restored from JSON).
func sourcesOf(v any) []Source {
	switch t := v.(type) {
	case []Source:
		return t
	case []any:
		out := make([]Source, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				s := Source{}
				s.Title, _ = m["title"].(string)
				s.URL, _ = m["url"].(string)
				s.Snippet, _ = m["snippet"].(string)
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func renderSources(results []Source) string {
	var b strings.Builder
	b.WriteString("Search results:\n")
	for _, r := range results {
		b.WriteString("- " + r.Title)
		if r.Snippet != "" {
			b.WriteString(": " + r.Snippet)
		}
		b.WriteString(" (" + r.URL + ")\n")
	}
	return b.String()
}

// fallbackFindings derives findings from result titles when synthesis is
// unavailable.
func fallbackFindings(results []Source) []string {
	var findings []string
	for _, r := range results {
		if r.Title == "" {
			continue
		}
		findings = append(findings, r.Title)
		if len(findings) == maxKeyFindings {
			break
		}
	}
	return findings
}
