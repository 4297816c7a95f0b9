package bus

// Constructors for concrete events. Each stamps the event at creation time
// and fills the generic envelope scope (session, item) alongside the typed
// payload.

// NewItemAdded constructs a clipboard-item-added event.
func NewItemAdded(itemID string, data ItemPayload) *ItemAdded {
	return &ItemAdded{Base: NewBase(EventItemAdded, "", itemID, data), Data: data}
}

// NewItemUpdated constructs a clipboard-item-updated event.
func NewItemUpdated(itemID string, data ItemPayload) *ItemUpdated {
	return &ItemUpdated{Base: NewBase(EventItemUpdated, "", itemID, data), Data: data}
}

// NewWorkflowStarted constructs a workflow-started event.
func NewWorkflowStarted(workflow, itemID string) *WorkflowStarted {
	return &WorkflowStarted{
		Base:     NewBase(EventWorkflowStarted, "", itemID, map[string]any{"name": workflow}),
		Workflow: workflow,
	}
}

// NewWorkflowNodeCompleted constructs a workflow-node-completed event.
func NewWorkflowNodeCompleted(workflow, node, itemID string, millis int64) *WorkflowNodeCompleted {
	return &WorkflowNodeCompleted{
		Base:     NewBase(EventWorkflowNodeCompleted, "", itemID, map[string]any{"name": node, "ms": millis}),
		Workflow: workflow,
		Node:     node,
		Millis:   millis,
	}
}

// NewWorkflowCompleted constructs a workflow-completed event.
func NewWorkflowCompleted(workflow, itemID string, ok bool) *WorkflowCompleted {
	return &WorkflowCompleted{
		Base:     NewBase(EventWorkflowCompleted, "", itemID, map[string]any{"name": workflow, "ok": ok}),
		Workflow: workflow,
		OK:       ok,
	}
}

// NewWorkflowFailed constructs a workflow-failed event.
func NewWorkflowFailed(workflow, itemID, errMsg string) *WorkflowFailed {
	return &WorkflowFailed{
		Base:     NewBase(EventWorkflowFailed, "", itemID, map[string]any{"name": workflow, "error": errMsg}),
		Workflow: workflow,
		Err:      errMsg,
	}
}

// NewSessionCreated constructs a session-created event.
func NewSessionCreated(data SessionPayload) *SessionCreated {
	return &SessionCreated{Base: NewBase(EventSessionCreated, data.SessionID, "", data), Data: data}
}

// NewSessionUpdated constructs a session-updated event.
func NewSessionUpdated(data SessionPayload) *SessionUpdated {
	return &SessionUpdated{Base: NewBase(EventSessionUpdated, data.SessionID, "", data), Data: data}
}

// NewSessionResearchStarted constructs a session-research-started event.
func NewSessionResearchStarted(sessionID string) *SessionResearchStarted {
	return &SessionResearchStarted{Base: NewBase(EventSessionResearchStarted, sessionID, "", nil)}
}

// NewSessionResearchProgress constructs a session-research-progress event.
func NewSessionResearchProgress(sessionID string, data ResearchProgressPayload) *SessionResearchProgress {
	return &SessionResearchProgress{
		Base: NewBase(EventSessionResearchProgress, sessionID, "", data),
		Data: data,
	}
}

// NewSessionResearchCompleted constructs a session-research-completed event.
func NewSessionResearchCompleted(sessionID string, data ResearchCompletedPayload) *SessionResearchCompleted {
	return &SessionResearchCompleted{
		Base: NewBase(EventSessionResearchCompleted, sessionID, "", data),
		Data: data,
	}
}

// NewSessionResearchFailed constructs a session-research-failed event.
func NewSessionResearchFailed(sessionID, reason string) *SessionResearchFailed {
	return &SessionResearchFailed{
		Base:   NewBase(EventSessionResearchFailed, sessionID, "", map[string]any{"reason": reason}),
		Reason: reason,
	}
}

// NewAutomationDispatched constructs an automation-dispatched event.
func NewAutomationDispatched(data AutomationPayload) *AutomationDispatched {
	return &AutomationDispatched{Base: NewBase(EventAutomationDispatched, data.SessionID, "", data), Data: data}
}

// NewAutomationFailed constructs an automation-failed event.
func NewAutomationFailed(data AutomationPayload, errMsg string) *AutomationFailed {
	return &AutomationFailed{
		Base: NewBase(EventAutomationFailed, data.SessionID, "", data),
		Data: data,
		Err:  errMsg,
	}
}
