// Package catalog declares the workflow definitions executed by the runtime:
// unified content analysis, summarization with conditional refinement,
// single-item web research, session membership evaluation, session research
// consolidation, research query generation, and the hotel research
// specialization. Each workflow carries a typed output record, a JSON schema
// enforced at the model boundary, and a deterministic fallback used when the
// model output fails validation.
package catalog

import (
	"encoding/json"
)

// Workflow names registered with the runtime.
const (
	// WorkflowContentAnalysis is the unified analysis of a new item.
	WorkflowContentAnalysis = "content_analysis"
	// WorkflowSummarization is quality-scored summarization with conditional
	// refinement.
	WorkflowSummarization = "summarization"
	// WorkflowResearch is single-item web research with live progress.
	WorkflowResearch = "research"
	// WorkflowSessionManagement evaluates session type and membership.
	WorkflowSessionManagement = "session_management"
	// WorkflowConsolidation builds the consolidated session summary.
	WorkflowConsolidation = "session_research_consolidation"
	// WorkflowQueryGeneration produces research queries for one entry.
	WorkflowQueryGeneration = "research_query_generation"
	// WorkflowHotelResearch is the hotel-entity research specialization.
	WorkflowHotelResearch = "hotel_research"
)

type (
	// ContentAnalysis is the output of the content_analysis workflow.
	ContentAnalysis struct {
		// ContentType is the detected content classification.
		ContentType string `json:"contentType"`
		// Sentiment is the detected sentiment of the content.
		Sentiment string `json:"sentiment"`
		// Purpose is the inferred user purpose for copying the content.
		Purpose string `json:"purpose"`
		// Tags is the normalized tag set, at most twelve entries.
		Tags []string `json:"tags"`
		// RecommendedActions are deduplicated, ranked suggested actions.
		RecommendedActions []RecommendedAction `json:"recommendedActions"`
		// VisualContext describes the screenshot when vision input was given.
		VisualContext string `json:"visualContext,omitempty"`
		// Confidence is the model confidence in [0,1].
		Confidence float64 `json:"confidence"`
	}

	// RecommendedAction is one suggested follow-up from the closed action set.
	RecommendedAction struct {
		// Action is a member of the closed action set.
		Action string `json:"action"`
		// Priority is high, medium, or low.
		Priority string `json:"priority"`
		// Reason explains the suggestion.
		Reason string `json:"reason"`
		// Confidence is the per-action model confidence in [0,1].
		Confidence float64 `json:"confidence"`
	}

	// Summarization is the output of the summarization workflow.
	Summarization struct {
		// Summary is the first-pass summary.
		Summary string `json:"summary"`
		// KeyPoints are the extracted key points.
		KeyPoints []string `json:"keyPoints"`
		// QualityScore is the self-assessed summary quality in [0,1].
		QualityScore float64 `json:"qualityScore"`
		// FinalSummary is the refined summary when the quality score fell
		// below threshold, otherwise equal to Summary.
		FinalSummary string `json:"finalSummary"`
	}

	// Research is the output of the research and hotel_research workflows.
	Research struct {
		// Queries are the executed search queries.
		Queries []string `json:"researchQueries"`
		// Results are the deduplicated search hits across all queries.
		Results []Source `json:"searchResults"`
		// KeyFindings are at most fifteen synthesized findings.
		KeyFindings []string `json:"keyFindings"`
		// Sources lists the finding sources.
		Sources []Source `json:"sources"`
		// Confidence is the research confidence in [0,1], lowered by
		// per-query failures.
		Confidence float64 `json:"confidence"`
	}

	// Source is one research source.
	Source struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet,omitempty"`
	}

	// SessionDecision is the output of the session_management workflow.
	SessionDecision struct {
		// SessionType is the detected research kind.
		SessionType string `json:"sessionType"`
		// SessionTypeConfidence is the confidence in the detected type.
		SessionTypeConfidence float64 `json:"sessionTypeConfidence"`
		// BelongsToSession reports whether the item joins the candidate
		// session under evaluation.
		BelongsToSession bool `json:"belongsToSession"`
		// Confidence is the membership confidence in [0,1].
		Confidence float64 `json:"confidence"`
		// Decision is the human-readable decision summary.
		Decision string `json:"sessionDecision"`
		// IntentAnalysis is the inferred user intent record.
		IntentAnalysis json.RawMessage `json:"intentAnalysis,omitempty"`
		// EntityRelationships describes how the session's entities relate.
		EntityRelationships EntityRelationships `json:"entityRelationships"`
	}

	// EntityRelationships describes the relationship between the entities in
	// a session and drives consolidation strategy selection.
	EntityRelationships struct {
		// ConsolidationStrategy is COMPARE, MERGE, COMPLEMENT, or GENERIC.
		ConsolidationStrategy string `json:"consolidationStrategy"`
		// Type classifies the relationship (same-entity, comparable-entities,
		// complementary, independent).
		Type string `json:"type"`
		// Entities names the entities involved.
		Entities []string `json:"entities"`
		// ComparisonDimensions are the dimensions along which comparable
		// entities should be compared.
		ComparisonDimensions []string `json:"comparisonDimensions"`
		// Reasoning explains the classification.
		Reasoning string `json:"reasoning"`
		// Confidence is the classification confidence in [0,1].
		Confidence float64 `json:"confidence"`
	}

	// Consolidation is the output of the session_research_consolidation
	// workflow. At most one of the strategy-specific fields is populated,
	// matching the chosen strategy; GENERIC populates none of them.
	Consolidation struct {
		// ResearchObjective states what the session research set out to answer.
		ResearchObjective string `json:"researchObjective"`
		// Summary is the consolidated narrative summary.
		Summary string `json:"summary"`
		// PrimaryIntent is the inferred primary user intent.
		PrimaryIntent string `json:"primaryIntent"`
		// ResearchGoals lists the goals the research addressed.
		ResearchGoals []string `json:"researchGoals"`
		// NextSteps lists suggested follow-ups.
		NextSteps []string `json:"nextSteps"`
		// ComparisonMatrix is populated for the COMPARE strategy.
		ComparisonMatrix *ComparisonMatrix `json:"comparisonMatrix,omitempty"`
		// ConsolidatedProfile is populated for the MERGE strategy.
		ConsolidatedProfile *ConsolidatedProfile `json:"consolidatedProfile,omitempty"`
		// Synergies is populated for the COMPLEMENT strategy.
		Synergies []string `json:"synergies,omitempty"`
	}

	// ComparisonMatrix is a rectangular comparison: one row per dimension,
	// one column per entity.
	ComparisonMatrix struct {
		// Entities are the column names.
		Entities []string `json:"entities"`
		// Rows hold one comparison row per dimension.
		Rows []ComparisonRow `json:"rows"`
	}

	// ComparisonRow is one dimension of a comparison matrix.
	ComparisonRow struct {
		// Dimension names the compared aspect (price, amenities, ...).
		Dimension string `json:"dimension"`
		// Cells hold one verdict per entity, in entity order.
		Cells []string `json:"cells"`
		// Winner names the entity judged best on this dimension, if any.
		Winner string `json:"winner,omitempty"`
	}

	// ConsolidatedProfile is the merged single-entity research profile.
	ConsolidatedProfile struct {
		// Entity names the profiled entity.
		Entity string `json:"entity"`
		// Findings are the flattened, deduplicated findings.
		Findings []string `json:"findings"`
		// Sources are the deduplicated sources.
		Sources []Source `json:"sources"`
	}

	// QueryGeneration is the output of the research_query_generation
	// workflow: one to three queries per entry, always including the original
	// content verbatim.
	QueryGeneration struct {
		// Queries are the generated search queries.
		Queries []string `json:"queries"`
	}
)
