package catalog

import (
	"context"
	"strings"

	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// QueryGenerationWorkflow builds the research_query_generation definition:
// a single node producing one to three queries for an entry. The original
// content is always included verbatim; contextual variations derive from the
// entry's tags and the session type.
func QueryGenerationWorkflow() workflow.Definition {
	return workflow.Definition{
		Name:  WorkflowQueryGeneration,
		Start: "generate_entry_queries",
		Nodes: []workflow.Node{
			{Name: "generate_entry_queries", Run: generateEntryQueries},
		},
		Edges: map[string]workflow.Edge{
			"generate_entry_queries": {Default: workflow.End},
		},
	}
}

func generateEntryQueries(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	var out struct {
		Queries []string `json:"researchQueries"`
	}
	if err := analyzeJSON(ctx, ex, promptGenerateQueries, "entry_queries", schemaQueries, nil, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out.Queries = fallbackEntryQueries(ex)
	}
	return &workflow.Patch{Set: map[string]any{
		"queries": ensureVerbatim(out.Queries, ex.String(chanContent)),
	}}, nil
}

// fallbackEntryQueries derives queries deterministically from the entry's
// tags and session type when the model is unavailable.
func fallbackEntryQueries(ex *workflow.Execution) []string {
	content := strings.TrimSpace(ex.String(chanContent))
	queries := []string{content}
	cc, _ := ex.State[chanContext].(map[string]any)
	if cc != nil {
		if st, _ := cc["sessionType"].(string); st != "" && st != "general_research" {
			stem := strings.ReplaceAll(strings.TrimSuffix(st, "_research"), "_", " ")
			queries = append(queries, content+" "+stem)
		}
		if tags := stringsOf(cc["tags"]); len(tags) > 0 {
			queries = append(queries, content+" "+tags[0])
		}
	}
	if len(queries) > 3 {
		queries = queries[:3]
	}
	return queries
}
