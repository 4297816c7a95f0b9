package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations. Callers match with
// errors.Is; implementations wrap them with operation detail.
var (
	// ErrNotFound indicates the referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStateTransition indicates a rejected lifecycle transition or
	// an insert that violates a lifecycle precondition (for example, an item
	// with empty content).
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrConflict indicates a uniqueness violation, such as adding an item to
	// a second session.
	ErrConflict = errors.New("conflict")

	// ErrStoreIO indicates an underlying storage failure.
	ErrStoreIO = errors.New("store i/o failure")
)

// Store is the durable repository for the capture pipeline. Every method is a
// single atomic operation: the full-text index is updated together with row
// writes and concurrent readers never observe torn rows. All mutations of
// persistent state in the system flow through this interface.
type Store interface {
	// InsertItem persists a new clipboard item and indexes it for search.
	// Returns ErrInvalidStateTransition when the content is empty and
	// ErrConflict when the ID already exists.
	InsertItem(ctx context.Context, item Item) error

	// UpdateItemAnalysis atomically replaces the item's analysis blob and tag
	// set, reindexing the item.
	UpdateItemAnalysis(ctx context.Context, itemID string, analysis []byte, tags []string) error

	// DeleteItem removes the item, its search entry, and all dependent rows
	// (tasks, workflow results, session membership). Member sequences in the
	// affected session are re-densified.
	DeleteItem(ctx context.Context, itemID string) error

	// GetItem returns the item by ID.
	GetItem(ctx context.Context, itemID string) (Item, error)

	// ListItems returns items matching the filter, newest-first.
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)

	// Search performs ranked full-text search over content, window title,
	// surrounding text, and tags. Ties in rank are broken by descending
	// timestamp.
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)

	// UpsertTask inserts the task or transitions its status. Illegal
	// transitions are rejected with ErrInvalidStateTransition; previous rows
	// for the same (item, task type) are preserved.
	UpsertTask(ctx context.Context, task Task) error

	// GetTask returns the task by ID.
	GetTask(ctx context.Context, taskID string) (Task, error)

	// ListTasks returns all tasks for an item, newest-first.
	ListTasks(ctx context.Context, itemID string) ([]Task, error)

	// InsertWorkflowResult records a completed workflow payload for an item.
	InsertWorkflowResult(ctx context.Context, result WorkflowResult) error

	// ListWorkflowResults returns the item's workflow results, newest-first.
	ListWorkflowResults(ctx context.Context, itemID string) ([]WorkflowResult, error)

	// CreateSession persists a new session.
	CreateSession(ctx context.Context, session Session) error

	// GetSession returns the session by ID.
	GetSession(ctx context.Context, sessionID string) (Session, error)

	// UpdateSessionStatus transitions the session status, enforcing the
	// lifecycle predicate. Illegal transitions return
	// ErrInvalidStateTransition.
	UpdateSessionStatus(ctx context.Context, sessionID string, to SessionStatus) error

	// UpdateSessionAnalysis overwrites the session's consolidated research
	// blobs in place; the latest write wins.
	UpdateSessionAnalysis(ctx context.Context, sessionID string, contextSummary, intentAnalysis []byte) error

	// UpdateSessionLabel replaces the session label.
	UpdateSessionLabel(ctx context.Context, sessionID, label string) error

	// AddSessionMember appends the item to the session with the next dense
	// sequence order and advances the session's last activity to the item
	// timestamp when it is later. Returns the member count after the add.
	// Adding an item that already belongs to any session returns ErrConflict.
	AddSessionMember(ctx context.Context, sessionID, itemID string, at time.Time) (int, error)

	// MoveMember moves an item between sessions, re-densifying sequence
	// orders on both sides.
	MoveMember(ctx context.Context, fromSessionID, toSessionID, itemID string) error

	// GetSessionMembersOrdered returns the session's members in sequence order.
	GetSessionMembersOrdered(ctx context.Context, sessionID string) ([]Member, error)

	// GetActiveSessions returns active sessions matching the filter, most
	// recently active first.
	GetActiveSessions(ctx context.Context, filter SessionFilter) ([]Session, error)

	// ListSessions returns sessions matching the filter, most recently active
	// first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)

	// FindSessionCandidates returns sessions eligible to receive the item:
	// active or inactive sessions whose last activity is strictly within the
	// join window before the item timestamp. Ordered by recency. Sessions
	// whose last activity falls exactly on the window boundary are excluded.
	FindSessionCandidates(ctx context.Context, item Item, window time.Duration) ([]Session, error)

	// ExpireIdleSessions transitions every active or inactive session whose
	// last activity is older than the cutoff to expired, returning the
	// transitioned sessions.
	ExpireIdleSessions(ctx context.Context, cutoff time.Time) ([]Session, error)

	// Close releases resources owned by the store.
	Close(ctx context.Context) error
}
