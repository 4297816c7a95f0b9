package catalog

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// SessionManagementWorkflow builds the session_management definition:
// context analysis, membership evaluation against the candidate session, and
// the final decision record including entity relationships. When executed
// without a candidate (type detection for a lone item), the membership node
// reports belongsToSession=false and only the detected type is meaningful.
func SessionManagementWorkflow() workflow.Definition {
	return workflow.Definition{
		Name:  WorkflowSessionManagement,
		Start: "analyze_session_context",
		Nodes: []workflow.Node{
			{Name: "analyze_session_context", Run: analyzeSessionContext},
			{Name: "evaluate_session_membership", Run: evaluateSessionMembership},
			{Name: "generate_session_decision", Run: generateSessionDecision},
		},
		Edges: map[string]workflow.Edge{
			"analyze_session_context":     {Default: "evaluate_session_membership"},
			"evaluate_session_membership": {Default: "generate_session_decision"},
			"generate_session_decision":   {Default: workflow.End},
		},
	}
}

func analyzeSessionContext(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	var out struct {
		IntentAnalysis json.RawMessage `json:"intentAnalysis"`
	}
	extra := []string{renderMembers(ex)}
	if err := analyzeJSON(ctx, ex, promptSessionContext, "session_context", schemaIntent, extra, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out.IntentAnalysis = json.RawMessage(`{}`)
	}
	return &workflow.Patch{Set: map[string]any{"intentAnalysis": out.IntentAnalysis}}, nil
}

func evaluateSessionMembership(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	var out struct {
		SessionType           string  `json:"sessionType"`
		SessionTypeConfidence float64 `json:"sessionTypeConfidence"`
		BelongsToSession      bool    `json:"belongsToSession"`
		Confidence            float64 `json:"confidence"`
		Decision              string  `json:"sessionDecision"`
	}
	extra := []string{renderMembers(ex)}
	if err := analyzeJSON(ctx, ex, promptSessionMembership, "session_membership", schemaMembership, extra, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out.SessionType = detectTypeKeywords(ex.String(chanContent))
		out.SessionTypeConfidence = 0.3
		out.BelongsToSession = false
		out.Confidence = 0
		out.Decision = "membership evaluation unavailable"
	}
	return &workflow.Patch{Set: map[string]any{
		"sessionType":           normalizeSessionType(out.SessionType),
		"sessionTypeConfidence": clamp01(out.SessionTypeConfidence),
		"belongsToSession":      out.BelongsToSession,
		"confidence":            clamp01(out.Confidence),
		"sessionDecision":       out.Decision,
	}}, nil
}

func generateSessionDecision(ctx context.Context, ex *workflow.Execution) (*workflow.Patch, error) {
	var out struct {
		EntityRelationships EntityRelationships `json:"entityRelationships"`
	}
	extra := []string{renderMembers(ex)}
	if err := analyzeJSON(ctx, ex, promptSessionRelationships, "session_relationships", schemaRelationships, extra, &out); err != nil {
		if !model.IsSchemaError(err) {
			return nil, err
		}
		out.EntityRelationships = EntityRelationships{
			ConsolidationStrategy: "GENERIC",
			Type:                  "independent",
			Reasoning:             "relationship analysis unavailable",
		}
	}
	if out.EntityRelationships.ConsolidationStrategy == "" {
		out.EntityRelationships.ConsolidationStrategy = "GENERIC"
	}
	return &workflow.Patch{Set: map[string]any{
		"entityRelationships": out.EntityRelationships,
	}}, nil
}

// renderMembers flattens the candidate session members supplied by the
// session engine into a prompt block. Empty when the workflow runs for type
// detection alone.
func renderMembers(ex *workflow.Execution) string {
	members := ex.Strings("candidateMembers")
	if len(members) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Candidate session")
	if st := ex.String("candidateSessionType"); st != "" {
		b.WriteString(" (" + st + ")")
	}
	b.WriteString(" members:\n")
	for _, m := range members {
		b.WriteString("- " + m + "\n")
	}
	return b.String()
}

// normalizeSessionType maps free-form model output onto the known session
// type identifiers, defaulting to general research.
func normalizeSessionType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, " ", "_")
	switch t {
	case "hotel_research", "restaurant_research", "travel_research",
		"product_research", "service_research", "academic_research",
		"general_research":
		return t
	case "hotel", "restaurant", "travel", "product", "service", "academic":
		return t + "_research"
	default:
		return "general_research"
	}
}

// DecodeSessionDecision reconstructs the typed decision record from a final
// workflow state.
func DecodeSessionDecision(state workflow.State) (*SessionDecision, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var out SessionDecision
	if err := model.DecodeValidated("catalog", nil, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
