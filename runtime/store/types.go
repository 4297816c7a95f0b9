// Package store defines the persistence contract for the capture pipeline:
// clipboard items, analysis tasks, sessions and their members, per-item
// workflow results, and ranked full-text search. Implementations live under
// features/store; this package carries only the entity types, status enums
// with their transition predicates, filters, and sentinel errors so that the
// orchestration core never depends on a concrete database driver.
package store

import (
	"encoding/json"
	"time"
)

type (
	// ContentType classifies the payload of a captured clipboard item.
	ContentType string

	// TaskStatus is the lifecycle state of an analysis task. Tasks move
	// pending → running → {completed | failed}; any other transition is
	// rejected with ErrInvalidStateTransition.
	TaskStatus string

	// SessionStatus is the lifecycle state of a session. A session is created
	// inactive, becomes active when a second member joins, expires after the
	// configured idle timeout, and completes when closed by the user. Expired
	// sessions never return to active or inactive.
	SessionStatus string

	// SessionType is the detected research kind of a session (for example
	// "hotel_research"). Unrecognized activity falls back to TypeGeneral.
	SessionType string

	// Item is one captured clipboard event with its contextual metadata.
	// Content is preserved byte-for-byte; Analysis is the opaque result blob
	// written by the analysis workflow and replaced atomically.
	Item struct {
		// ID is the caller-assigned unique identifier (UUID).
		ID string
		// Content is the captured text. Binary content is out of scope.
		Content string
		// ContentType classifies Content.
		ContentType ContentType
		// Timestamp is the UTC capture instant. Monotone non-decreasing per
		// capture stream.
		Timestamp time.Time
		// SourceApp names the application the content was copied from, if known.
		SourceApp string
		// WindowTitle is the foreground window title at capture time, if known.
		WindowTitle string
		// ScreenshotPath is an opaque reference to a capture screenshot, if any.
		ScreenshotPath string
		// SurroundingText is nearby on-screen text supplied by the capture
		// adapter, if any.
		SurroundingText string
		// Tags is the normalized lowercase tag set attached by analysis.
		Tags []string
		// Analysis is the opaque analysis blob. Nil until the analysis workflow
		// completes.
		Analysis json.RawMessage
	}

	// Task records a single workflow execution against an item. Historical
	// rows are preserved: re-running a workflow for the same item inserts a
	// new task rather than overwriting the previous one.
	Task struct {
		// ID is the unique task identifier.
		ID string
		// ItemID references the clipboard item the task runs against.
		ItemID string
		// TaskType is the workflow name being executed.
		TaskType string
		// Status is the task lifecycle state.
		Status TaskStatus
		// Attempts counts model invocations including retries.
		Attempts int
		// Result holds the completed workflow output. Nil unless completed.
		Result json.RawMessage
		// Error holds the terminal failure message. Empty unless failed.
		Error string
		// CreatedAt is the task creation instant.
		CreatedAt time.Time
		// CompletedAt is the terminal transition instant. Nil until terminal.
		CompletedAt *time.Time
	}

	// Session is a coherent group of related items.
	Session struct {
		// ID is the unique session identifier.
		ID string
		// Type is the detected research kind.
		Type SessionType
		// Label is the human-readable session title.
		Label string
		// Status is the session lifecycle state.
		Status SessionStatus
		// StartTime is the timestamp of the first member.
		StartTime time.Time
		// LastActivity is the maximum member timestamp.
		LastActivity time.Time
		// ContextSummary is the consolidated research summary blob. Overwritten
		// in place on each research completion; latest wins.
		ContextSummary json.RawMessage
		// IntentAnalysis is the latest intent analysis blob.
		IntentAnalysis json.RawMessage
	}

	// Member is the item↔session edge. An item belongs to at most one
	// session; SequenceOrder is dense 1..N within a session.
	Member struct {
		SessionID     string
		ItemID        string
		SequenceOrder int
	}

	// WorkflowResult is the per-item record of a completed workflow of a
	// given type. Historical results are retained and listed newest-first.
	WorkflowResult struct {
		// ID is the unique result identifier.
		ID string
		// ItemID references the clipboard item.
		ItemID string
		// WorkflowType is the workflow name that produced the payload.
		WorkflowType string
		// ExecutedAt is the completion instant.
		ExecutedAt time.Time
		// Payload is the workflow output shaped per its catalog definition.
		Payload json.RawMessage
		// Confidence is the model confidence in [0,1] when reported.
		Confidence *float64
	}

	// ItemFilter narrows ListItems.
	ItemFilter struct {
		ContentType *ContentType
		SourceApp   string
		From        *time.Time
		To          *time.Time
		Limit       int
	}

	// SessionFilter narrows session listings.
	SessionFilter struct {
		Statuses []SessionStatus
		Types    []SessionType
		From     *time.Time
		To       *time.Time
		Limit    int
	}

	// SearchHit is one ranked full-text search result.
	SearchHit struct {
		Item  Item
		Score float64
	}
)

const (
	// ContentTypeText is plain text content.
	ContentTypeText ContentType = "TEXT"
	// ContentTypeURL is a URL payload.
	ContentTypeURL ContentType = "URL"
	// ContentTypeImage is an image reference payload.
	ContentTypeImage ContentType = "IMAGE"
	// ContentTypeFile is a file reference payload.
	ContentTypeFile ContentType = "FILE"
)

const (
	// TaskPending is the initial task state.
	TaskPending TaskStatus = "pending"
	// TaskRunning marks a task whose workflow is executing.
	TaskRunning TaskStatus = "running"
	// TaskCompleted is the successful terminal state.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed is the failed terminal state.
	TaskFailed TaskStatus = "failed"
)

const (
	// SessionInactive is the state of a session with a single member.
	SessionInactive SessionStatus = "inactive"
	// SessionActive is the state of a session with two or more members that
	// has not yet expired or completed.
	SessionActive SessionStatus = "active"
	// SessionExpired marks a session idle past the configured timeout.
	SessionExpired SessionStatus = "expired"
	// SessionCompleted marks a session closed by the user.
	SessionCompleted SessionStatus = "completed"
)

const (
	// TypeGeneral is the fallback session type for uncategorized research.
	TypeGeneral SessionType = "general_research"
	// TypeHotel groups hotel research activity.
	TypeHotel SessionType = "hotel_research"
	// TypeRestaurant groups restaurant research activity.
	TypeRestaurant SessionType = "restaurant_research"
	// TypeTravel groups travel research activity.
	TypeTravel SessionType = "travel_research"
	// TypeProduct groups product research activity.
	TypeProduct SessionType = "product_research"
	// TypeService groups service research activity.
	TypeService SessionType = "service_research"
	// TypeAcademic groups academic research activity.
	TypeAcademic SessionType = "academic_research"
)

// CanTransitionTask reports whether a task may move from one status to
// another. Identity transitions are allowed so upserts carrying unchanged
// status remain legal.
func CanTransitionTask(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case TaskPending:
		return to == TaskRunning
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}

// CanTransitionSession reports whether a session may move from one status to
// another. Expired sessions never reactivate; completed is terminal.
func CanTransitionSession(from, to SessionStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case SessionInactive:
		return to == SessionActive || to == SessionExpired || to == SessionCompleted
	case SessionActive:
		return to == SessionExpired || to == SessionCompleted
	default:
		return false
	}
}

// TerminalTask reports whether the status is a terminal task state.
func TerminalTask(s TaskStatus) bool {
	return s == TaskCompleted || s == TaskFailed
}
