package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// ConsolidationWorkflow builds the session_research_consolidation
// definition: a single node over the aggregated per-entity research. The
// caller supplies the chosen strategy and the aggregated research block; a
// schema failure propagates so the consolidator can take its deterministic
// strategy-specific fallback.
func ConsolidationWorkflow() workflow.Definition {
	return workflow.Definition{
		Name:  WorkflowConsolidation,
		Start: "consolidate_session_research",
		Nodes: []workflow.Node{
			{Name: "consolidate_session_research", Run: consolidateSessionResearch},
		},
		Edges: map[string]workflow.Edge{
			"consolidate_session_research": {Default: workflow.End},
		},
	}
}

func consolidateSessionResearch(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	strategy := ex.String("strategy")
	if strategy == "" {
		strategy = "GENERIC"
	}
	var out Consolidation
	extra := []string{ex.String("aggregatedResearch")}
	system := fmt.Sprintf(promptConsolidation, strategy)
	if err := analyzeJSON(ctx, ex, system, "session_consolidation", schemaConsolidation, extra, &out); err != nil {
		return nil, err
	}
	return &workflow.Patch{Set: map[string]any{
		"researchObjective":   out.ResearchObjective,
		"summary":             out.Summary,
		"primaryIntent":       out.PrimaryIntent,
		"researchGoals":       out.ResearchGoals,
		"nextSteps":           out.NextSteps,
		"comparisonMatrix":    out.ComparisonMatrix,
		"consolidatedProfile": out.ConsolidatedProfile,
		"synergies":           out.Synergies,
	}}, nil
}

// DecodeConsolidation reconstructs the typed consolidation record from a
// final workflow state.
func DecodeConsolidation(state workflow.State) (*Consolidation, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var out Consolidation
	if err := model.DecodeValidated("catalog", nil, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeContentAnalysis reconstructs the typed analysis record from a final
// workflow state.
func DecodeContentAnalysis(state workflow.State) (*ContentAnalysis, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var out ContentAnalysis
	if err := model.DecodeValidated("catalog", nil, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeResearch reconstructs the typed research record from a final
// workflow state.
func DecodeResearch(state workflow.State) (*Research, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var out Research
	if err := model.DecodeValidated("catalog", nil, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterAll registers the seven catalog workflows with the runtime.
func RegisterAll(rt *workflow.Runtime) error {
	defs := []workflow.Definition{
		ContentAnalysisWorkflow(),
		SummarizationWorkflow(),
		ResearchWorkflow(),
		SessionManagementWorkflow(),
		ConsolidationWorkflow(),
		QueryGenerationWorkflow(),
		HotelResearchWorkflow(),
	}
	for _, def := range defs {
		if err := rt.Register(def); err != nil {
			return err
		}
	}
	return nil
}
