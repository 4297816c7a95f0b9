// Package bus provides the in-process broadcast of pipeline lifecycle events:
// item capture, workflow execution, session lifecycle, research progress, and
// automation dispatch. Subscribers receive each event at least once in
// publish order; late subscribers do not replay past events.
package bus

import (
	"time"
)

type (
	// Event is the interface all pipeline events implement. Concrete event
	// types carry typed payloads for each lifecycle phase. Subscribers use
	// type switches to access event-specific fields:
	//
	//	func (s *MySubscriber) HandleEvent(ctx context.Context, evt bus.Event) error {
	//	    switch e := evt.(type) {
	//	    case *bus.WorkflowCompleted:
	//	        log.Printf("workflow %s ok=%v", e.Workflow, e.OK)
	//	    case *bus.SessionResearchProgress:
	//	        log.Printf("phase %s", e.Data.Phase)
	//	    }
	//	    return nil
	//	}
	Event interface {
		// Type returns the event type constant (e.g., EventSessionCreated).
		Type() EventType
		// At returns the event creation instant. Events are timestamped at
		// creation, not at delivery.
		At() time.Time
		// SessionID returns the session the event relates to, or "" when the
		// event is not session-scoped.
		SessionID() string
		// ItemID returns the clipboard item the event relates to, or "" when
		// the event is not item-scoped.
		ItemID() string
		// Payload returns the event-specific data in a JSON-serializable form
		// for sinks that marshal events generically.
		Payload() any
	}

	// Base provides a default implementation of Event. Embed it in concrete
	// event types to inherit the Type, At, SessionID, ItemID, and Payload
	// methods. Field names are abbreviated since Base fields are rarely
	// accessed directly.
	Base struct {
		t  EventType
		at time.Time
		s  string
		i  string
		p  any
	}

	// ItemAdded fires when a new clipboard item has been persisted.
	ItemAdded struct {
		Base
		Data ItemPayload
	}

	// ItemUpdated fires when an item's analysis or tags changed.
	ItemUpdated struct {
		Base
		Data ItemPayload
	}

	// WorkflowStarted fires when a workflow execution begins.
	WorkflowStarted struct {
		Base
		// Workflow is the workflow name.
		Workflow string
	}

	// WorkflowNodeCompleted fires after each node in a workflow finishes.
	WorkflowNodeCompleted struct {
		Base
		// Workflow is the workflow name.
		Workflow string
		// Node is the completed node name.
		Node string
		// Millis is the node wall-clock duration in milliseconds.
		Millis int64
	}

	// WorkflowCompleted fires when a workflow execution reaches its sink.
	WorkflowCompleted struct {
		Base
		// Workflow is the workflow name.
		Workflow string
		// OK reports whether the execution succeeded.
		OK bool
	}

	// WorkflowFailed fires when a workflow execution fails terminally.
	WorkflowFailed struct {
		Base
		// Workflow is the workflow name.
		Workflow string
		// Err is the terminal error message.
		Err string
	}

	// SessionCreated fires when a new session is persisted.
	SessionCreated struct {
		Base
		Data SessionPayload
	}

	// SessionUpdated fires on membership changes, status transitions, and
	// analysis updates.
	SessionUpdated struct {
		Base
		Data SessionPayload
	}

	// SessionResearchStarted fires when consolidated research begins for a
	// session.
	SessionResearchStarted struct {
		Base
	}

	// SessionResearchProgress streams research progress for a session. Events
	// for a given session are strictly ordered; the phase progression is a
	// prefix of [initializing, queries_generated, searching*, consolidating,
	// completed|failed].
	SessionResearchProgress struct {
		Base
		Data ResearchProgressPayload
	}

	// SessionResearchCompleted fires when consolidated research for a session
	// has been persisted.
	SessionResearchCompleted struct {
		Base
		Data ResearchCompletedPayload
	}

	// SessionResearchFailed fires when consolidated research fails or is
	// cancelled.
	SessionResearchFailed struct {
		Base
		// Reason is the failure reason (for example "cancelled").
		Reason string
	}

	// AutomationDispatched fires after a successful webhook POST for a session.
	AutomationDispatched struct {
		Base
		Data AutomationPayload
	}

	// AutomationFailed fires when a webhook POST fails permanently. Automation
	// failures never affect session state.
	AutomationFailed struct {
		Base
		Data AutomationPayload
		// Err is the terminal delivery error message.
		Err string
	}

	// ItemPayload is the wire payload for item events.
	ItemPayload struct {
		ItemID      string   `json:"itemId"`
		ContentType string   `json:"contentType"`
		SourceApp   string   `json:"sourceApp,omitempty"`
		Tags        []string `json:"tags,omitempty"`
	}

	// SessionPayload is the wire payload for session lifecycle events.
	SessionPayload struct {
		SessionID   string `json:"sessionId"`
		SessionType string `json:"sessionType"`
		Status      string `json:"status"`
		Label       string `json:"label,omitempty"`
		MemberCount int    `json:"memberCount"`
	}

	// ResearchProgressPayload is the wire payload for research progress
	// events. Field names are part of the wire contract and must not change.
	ResearchProgressPayload struct {
		// Phase is the pipeline phase: initializing, queries_generated,
		// searching, consolidating, completed, or failed.
		Phase string `json:"phase"`
		// CurrentQuery is the member-level query under research, if any.
		CurrentQuery string `json:"currentQuery,omitempty"`
		// CurrentAspect is the research aspect for the current query, if any.
		CurrentAspect string `json:"currentAspect,omitempty"`
		// LangGraphQuery is the graph-level search query in flight, if any.
		LangGraphQuery string `json:"langGraphQuery,omitempty"`
		// LangGraphStatus is the graph-level search status: searching,
		// completed, or failed.
		LangGraphStatus string `json:"langGraphStatus,omitempty"`
		// ResultsCount is the result count for the completed graph-level query.
		ResultsCount int `json:"resultsCount,omitempty"`
		// TotalQueries is the total number of queries planned for the session.
		TotalQueries int `json:"totalQueries,omitempty"`
		// CompletedQueries counts queries finished so far.
		CompletedQueries int `json:"completedQueries,omitempty"`
		// FindingsCount counts key findings accumulated so far.
		FindingsCount int `json:"findingsCount,omitempty"`
	}

	// ResearchCompletedPayload summarizes a finished research run.
	ResearchCompletedPayload struct {
		KeyFindings     []string `json:"keyFindings"`
		TotalSources    int      `json:"totalSources"`
		ResearchQuality string   `json:"researchQuality"`
	}

	// AutomationPayload identifies a webhook dispatch.
	AutomationPayload struct {
		SessionID   string `json:"sessionId"`
		SessionType string `json:"sessionType"`
		ItemCount   int    `json:"itemCount"`
		WebhookURL  string `json:"webhookUrl"`
	}
)

// EventType enumerates pipeline event flavors.
type EventType string

const (
	// EventItemAdded fires when a new clipboard item has been persisted.
	EventItemAdded EventType = "clipboard-item-added"
	// EventItemUpdated fires when an item's analysis or tags changed.
	EventItemUpdated EventType = "clipboard-item-updated"
	// EventWorkflowStarted fires when a workflow execution begins.
	EventWorkflowStarted EventType = "workflow-started"
	// EventWorkflowNodeCompleted fires after each workflow node finishes.
	EventWorkflowNodeCompleted EventType = "workflow-node-completed"
	// EventWorkflowCompleted fires when a workflow execution reaches its sink.
	EventWorkflowCompleted EventType = "workflow-completed"
	// EventWorkflowFailed fires on terminal workflow failure.
	EventWorkflowFailed EventType = "workflow-failed"
	// EventSessionCreated fires when a new session is persisted.
	EventSessionCreated EventType = "session-created"
	// EventSessionUpdated fires on session membership or status changes.
	EventSessionUpdated EventType = "session-updated"
	// EventSessionResearchStarted fires when session research begins.
	EventSessionResearchStarted EventType = "session-research-started"
	// EventSessionResearchProgress streams session research progress.
	EventSessionResearchProgress EventType = "session-research-progress"
	// EventSessionResearchCompleted fires when session research is persisted.
	EventSessionResearchCompleted EventType = "session-research-completed"
	// EventSessionResearchFailed fires when session research fails.
	EventSessionResearchFailed EventType = "session-research-failed"
	// EventAutomationDispatched fires after a successful webhook POST.
	EventAutomationDispatched EventType = "automation-dispatched"
	// EventAutomationFailed fires when a webhook POST fails permanently.
	EventAutomationFailed EventType = "automation-failed"
)

// NewBase constructs a Base event with the given type, session and item
// scope, and payload. The event is timestamped at creation.
func NewBase(t EventType, sessionID, itemID string, payload any) Base {
	return Base{t: t, at: time.Now().UTC(), s: sessionID, i: itemID, p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// At implements Event.At.
func (e Base) At() time.Time { return e.at }

// SessionID implements Event.SessionID.
func (e Base) SessionID() string { return e.s }

// ItemID implements Event.ItemID.
func (e Base) ItemID() string { return e.i }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }

// Envelope is the generic wire form of an event. Sinks that marshal events
// for external consumers (the UI bridge) use this shape; every envelope
// carries the event type and an ISO-8601 timestamp.
type Envelope struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	SessionID string    `json:"sessionId,omitempty"`
	ItemID    string    `json:"itemId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// Envelop wraps an event into its wire envelope.
func Envelop(e Event) Envelope {
	return Envelope{
		Type:      e.Type(),
		At:        e.At(),
		SessionID: e.SessionID(),
		ItemID:    e.ItemID(),
		Payload:   e.Payload(),
	}
}
