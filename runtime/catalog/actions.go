package catalog

import (
	"sort"
)

// The closed action set surfaced by content analysis. Actions outside this
// set are discarded during enhancement.
const (
	ActionResearch   = "research"
	ActionSummarize  = "summarize"
	ActionFactCheck  = "fact_check"
	ActionTranslate  = "translate"
	ActionExplain    = "explain"
	ActionExpand     = "expand"
	ActionCreateTask = "create_task"
	ActionCite       = "cite"
	ActionRespond    = "respond"
	ActionSchedule   = "schedule"
)

// Action priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var knownActions = map[string]bool{
	ActionResearch:   true,
	ActionSummarize:  true,
	ActionFactCheck:  true,
	ActionTranslate:  true,
	ActionExplain:    true,
	ActionExpand:     true,
	ActionCreateTask: true,
	ActionCite:       true,
	ActionRespond:    true,
	ActionSchedule:   true,
}

var priorityRank = map[string]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// enhanceActions filters actions to the closed set, deduplicates by action
// name keeping the highest-priority occurrence, and ranks the result by
// (priority rank, model confidence descending). The top three are surfaced
// by UI collaborators; the full ranked list is preserved in the output.
func enhanceActions(actions []RecommendedAction) []RecommendedAction {
	best := make(map[string]RecommendedAction)
	for _, a := range actions {
		if !knownActions[a.Action] {
			continue
		}
		if _, ok := priorityRank[a.Priority]; !ok {
			a.Priority = PriorityLow
		}
		cur, seen := best[a.Action]
		if !seen || rankLess(a, cur) {
			best[a.Action] = a
		}
	}
	out := make([]RecommendedAction, 0, len(best))
	for _, a := range best {
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return rankLess(out[i], out[j]) })
	return out
}

// rankLess orders actions by priority rank first, then by descending model
// confidence, then by name for determinism.
func rankLess(a, b RecommendedAction) bool {
	ra, rb := priorityRank[a.Priority], priorityRank[b.Priority]
	if ra != rb {
		return ra < rb
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Action < b.Action
}
