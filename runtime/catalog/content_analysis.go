package catalog

import (
	"context"

	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// maxTags bounds the tag set attached to an item.
const maxTags = 12

// ContentAnalysisWorkflow builds the content_analysis definition: one
// comprehensive model analysis followed by deterministic enhancement of the
// results. A schema failure at the model boundary routes to the fallback,
// which still yields a minimal analysis so the item is never left without
// tags.
func ContentAnalysisWorkflow() workflow.Definition {
	return workflow.Definition{
		Name:  WorkflowContentAnalysis,
		Start: "comprehensive_analysis",
		Nodes: []workflow.Node{
			{Name: "comprehensive_analysis", Run: comprehensiveAnalysis},
			{Name: "enhance_results", Run: enhanceResults},
		},
		Edges: map[string]workflow.Edge{
			"comprehensive_analysis": {Default: "enhance_results"},
			"enhance_results":        {Default: workflow.End},
		},
	}
}

// comprehensiveAnalysis performs the single unified model analysis of a new
// item. Vision input is attached when the capture carries a screenshot.
func comprehensiveAnalysis(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	var out ContentAnalysis
	if err := analyzeJSON(ctx, ex, promptComprehensiveAnalysis, "content_analysis", schemaContentAnalysis, nil, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out = fallbackContentAnalysis(ex.String(chanContent))
	}
	return &workflow.Patch{Set: map[string]any{
		"contentType":        out.ContentType,
		"sentiment":          out.Sentiment,
		"purpose":            out.Purpose,
		"tags":               out.Tags,
		"recommendedActions": out.RecommendedActions,
		"visualContext":      out.VisualContext,
		"confidence":         clamp01(out.Confidence),
	}}, nil
}

// enhanceResults normalizes the analysis: lowercase deduplicated tags capped
// at twelve, actions filtered to the closed set and ranked.
func enhanceResults(_ context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	tags := normalizeTags(ex.Strings("tags"))

	var actions []RecommendedAction
	switch v := ex.State["recommendedActions"].(type) {
	case []RecommendedAction:
		actions = v
	case []any:
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				a := RecommendedAction{}
				a.Action, _ = m["action"].(string)
				a.Priority, _ = m["priority"].(string)
				a.Reason, _ = m["reason"].(string)
				if c, ok := m["confidence"].(float64); ok {
					a.Confidence = c
				}
				actions = append(actions, a)
			}
		}
	}

	return &workflow.Patch{Set: map[string]any{
		"tags":               tags,
		"recommendedActions": enhanceActions(actions),
	}}, nil
}

// MinimalAnalysis returns the deterministic minimal analysis for an item:
// the same record the analysis workflow falls back to when the model output
// fails validation. Callers use it when the workflow itself fails so an item
// is never left without tags.
func MinimalAnalysis(content string) *ContentAnalysis {
	out := fallbackContentAnalysis(content)
	return &out
}

// fallbackContentAnalysis is the deterministic path taken when the model
// output fails validation: content type TEXT, minimal tags, a single
// low-priority research suggestion, and zero confidence.
func fallbackContentAnalysis(content string) ContentAnalysis {
	return ContentAnalysis{
		ContentType: "TEXT",
		Sentiment:   "neutral",
		Purpose:     "unknown",
		Tags:        fallbackTags(content),
		RecommendedActions: []RecommendedAction{
			{Action: ActionResearch, Priority: PriorityLow, Reason: "analysis unavailable", Confidence: 0},
		},
		Confidence: 0,
	}
}

// normalizeTags lowercases, trims, and deduplicates tags, preserving order
// and capping the set at maxTags.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = normalizeTag(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
