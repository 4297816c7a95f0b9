package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// qualityThreshold routes summaries below this score through refinement.
const qualityThreshold = 0.7

// routeRefine is the conditional edge label selected when the quality score
// falls below the threshold.
const routeRefine = "refine"

// SummarizationWorkflow builds the summarization definition: key point
// extraction, a quality-scored summary, and a conditional refinement pass
// taken only when the self-assessed quality score is below 0.7.
func SummarizationWorkflow() workflow.Definition {
	return workflow.Definition{
		Name:  WorkflowSummarization,
		Start: "extract_and_contextualize",
		Nodes: []workflow.Node{
			{Name: "extract_and_contextualize", Run: extractAndContextualize},
			{Name: "generate_quality_summary", Run: generateQualitySummary},
			{Name: "refine_summary", Run: refineSummary},
		},
		Edges: map[string]workflow.Edge{
			"extract_and_contextualize": {Default: "generate_quality_summary"},
			"generate_quality_summary": {
				Default: workflow.End,
				Routes:  map[string]string{routeRefine: "refine_summary"},
			},
			"refine_summary": {Default: workflow.End},
		},
	}
}

func extractAndContextualize(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	var out struct {
		KeyPoints []string `json:"keyPoints"`
	}
	if err := analyzeJSON(ctx, ex, promptExtractKeyPoints, "key_points", schemaKeyPoints, nil, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out.KeyPoints = fallbackKeyPoints(ex.String(chanContent))
	}
	return &workflow.Patch{Set: map[string]any{"keyPoints": out.KeyPoints}}, nil
}

func generateQualitySummary(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	points := ex.Strings("keyPoints")
	var out struct {
		Summary      string  `json:"summary"`
		QualityScore float64 `json:"qualityScore"`
	}
	extra := []string{"Key points:\n- " + strings.Join(points, "\n- ")}
	if err := analyzeJSON(ctx, ex, promptQualitySummary, "quality_summary", schemaQualitySummary, extra, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out.Summary = fallbackSummary(ex.String(chanContent), points)
		out.QualityScore = 0
	}
	score := clamp01(out.QualityScore)
	patch := &workflow.Patch{Set: map[string]any{
		"summary":      out.Summary,
		"qualityScore": score,
		"finalSummary": out.Summary,
	}}
	if score < qualityThreshold {
		patch.Next = routeRefine
	}
	return patch, nil
}

func refineSummary(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	var out struct {
		FinalSummary string `json:"finalSummary"`
	}
	extra := []string{
		fmt.Sprintf("Previous summary (scored %.2f):\n%s", ex.Float("qualityScore"), ex.String("summary")),
		"Key points:\n- " + strings.Join(ex.Strings("keyPoints"), "\n- "),
	}
	if err := analyzeJSON(ctx, ex, promptRefineSummary, "refined_summary", schemaRefinedSummary, extra, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		// Keep the first-pass summary when refinement is unavailable.
		out.FinalSummary = ex.String("summary")
	}
	return &workflow.Patch{Set: map[string]any{"finalSummary": out.FinalSummary}}, nil
}

// fallbackKeyPoints splits content into its leading sentences when the model
// is unavailable.
func fallbackKeyPoints(content string) []string {
	var points []string
	for _, s := range strings.FieldsFunc(content, func(r rune) bool { return r == '.' || r == '\n' }) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		points = append(points, s)
		if len(points) == 5 {
			break
		}
	}
	return points
}

// fallbackSummary truncates content to a short excerpt when the model is
// unavailable.
func fallbackSummary(content string, points []string) string {
	if len(points) > 0 {
		return strings.Join(points[:min(len(points), 2)], ". ")
	}
	if len(content) > 280 {
		return content[:280]
	}
	return content
}
