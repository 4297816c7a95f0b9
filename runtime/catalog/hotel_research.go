package catalog

import (
	"context"
	"encoding/json"

	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// hotelAspects are the research dimensions covered by hotel queries and the
// comparison matrix rows for hotel sessions.
var hotelAspects = []string{"price", "amenities", "location", "reviews"}

// HotelResearchWorkflow builds the hotel_research definition, the
// fixed-entity specialization of the research workflow: requirement
// analysis, aspect-driven query generation, and the shared web research loop
// with the same streaming and deduplication contract.
func HotelResearchWorkflow() workflow.Definition {
	return workflow.Definition{
		Name:  WorkflowHotelResearch,
		Start: "analyze_hotel_requirements",
		Nodes: []workflow.Node{
			{Name: "analyze_hotel_requirements", Run: analyzeHotelRequirements},
			{Name: "generate_hotel_queries", Run: generateHotelQueries},
			{Name: "perform_hotel_research", Run: performHotelResearch},
		},
		Edges: map[string]workflow.Edge{
			"analyze_hotel_requirements": {Default: "generate_hotel_queries"},
			"generate_hotel_queries":     {Default: "perform_hotel_research"},
			"perform_hotel_research":     {Default: workflow.End},
		},
	}
}

func analyzeHotelRequirements(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	var out struct {
		IntentAnalysis json.RawMessage `json:"intentAnalysis"`
	}
	if err := analyzeJSON(ctx, ex, promptHotelRequirements, "hotel_requirements", schemaIntent, nil, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out.IntentAnalysis = json.RawMessage(`{}`)
	}
	return &workflow.Patch{Set: map[string]any{"intentAnalysis": out.IntentAnalysis}}, nil
}

func generateHotelQueries(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	// Queries supplied by the caller (the session research pipeline) are
	// used as-is, as in the generic research workflow.
	if qs := ex.Strings("researchQueries"); len(qs) > 0 {
		return &workflow.Patch{Set: map[string]any{
			"researchQueries": qs,
			"researchAspect":  hotelAspects[0],
		}}, nil
	}
	var out struct {
		Queries []string `json:"researchQueries"`
	}
	if err := analyzeJSON(ctx, ex, promptHotelQueries, "hotel_queries", schemaQueries, nil, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		content := ex.String(chanContent)
		out.Queries = []string{content + " price", content + " reviews"}
	}
	return &workflow.Patch{Set: map[string]any{
		"researchQueries": ensureVerbatim(out.Queries, ex.String(chanContent)),
		"researchAspect":  hotelAspects[0],
	}}, nil
}

// performHotelResearch runs the shared web research loop followed by
// findings synthesis, preserving the research workflow's streaming and
// dedup contract for the fixed hotel entity type.
func performHotelResearch(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	patch, err := performWebResearch(ctx, ex)
	if err != nil {
		return nil, err
	}
	for k, v := range patch.Set {
		ex.State[k] = v
	}
	return processResearchResults(ctx, ex)
}
