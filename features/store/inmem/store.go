// Package inmem provides an in-memory implementation of the persistence
// contract for tests, local development, and simple single-process runs. It
// mirrors the durable store's semantics — atomic operations, ranked search,
// lifecycle transition enforcement, dense member sequences — without the
// database dependency. It is not crash-safe.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowclip/flowclip/runtime/store"
)

// Store is the in-memory store. All operations take the store lock, so every
// public operation is atomic and readers never observe torn rows.
type Store struct {
	mu sync.RWMutex

	items    map[string]store.Item
	tasks    map[string]store.Task
	results  []store.WorkflowResult
	sessions map[string]store.Session
	// members holds the dense member list per session, in sequence order.
	members map[string][]store.Member
	// itemSession indexes the owning session per item, enforcing the
	// at-most-one-session invariant.
	itemSession map[string]string
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		items:       make(map[string]store.Item),
		tasks:       make(map[string]store.Task),
		sessions:    make(map[string]store.Session),
		members:     make(map[string][]store.Member),
		itemSession: make(map[string]string),
	}
}

// InsertItem implements store.Store.
func (s *Store) InsertItem(_ context.Context, item store.Item) error {
	if strings.TrimSpace(item.Content) == "" {
		return fmt.Errorf("%w: empty content", store.ErrInvalidStateTransition)
	}
	if item.ID == "" {
		return fmt.Errorf("%w: item id is required", store.ErrInvalidStateTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.items[item.ID]; dup {
		return fmt.Errorf("%w: item %s already exists", store.ErrConflict, item.ID)
	}
	item.Timestamp = item.Timestamp.UTC()
	item.Tags = normalizeTags(item.Tags)
	s.items[item.ID] = item
	return nil
}

// UpdateItemAnalysis implements store.Store.
func (s *Store) UpdateItemAnalysis(_ context.Context, itemID string, analysis []byte, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	item.Analysis = append([]byte(nil), analysis...)
	item.Tags = normalizeTags(tags)
	s.items[itemID] = item
	return nil
}

// DeleteItem implements store.Store. Dependent rows cascade: tasks, workflow
// results, and session membership are removed, member sequences re-densified,
// and a session left without members is deleted.
func (s *Store) DeleteItem(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	delete(s.items, itemID)
	for id, t := range s.tasks {
		if t.ItemID == itemID {
			delete(s.tasks, id)
		}
	}
	kept := s.results[:0]
	for _, r := range s.results {
		if r.ItemID != itemID {
			kept = append(kept, r)
		}
	}
	s.results = kept
	if sessionID, ok := s.itemSession[itemID]; ok {
		delete(s.itemSession, itemID)
		s.removeMemberLocked(sessionID, itemID)
		if len(s.members[sessionID]) == 0 {
			delete(s.members, sessionID)
			delete(s.sessions, sessionID)
		} else {
			s.refreshActivityLocked(sessionID)
		}
	}
	return nil
}

// GetItem implements store.Store.
func (s *Store) GetItem(_ context.Context, itemID string) (store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return store.Item{}, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	return item, nil
}

// ListItems implements store.Store.
func (s *Store) ListItems(_ context.Context, filter store.ItemFilter) ([]store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Item
	for _, item := range s.items {
		if filter.ContentType != nil && item.ContentType != *filter.ContentType {
			continue
		}
		if filter.SourceApp != "" && item.SourceApp != filter.SourceApp {
			continue
		}
		if filter.From != nil && item.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !item.Timestamp.Before(*filter.To) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Search implements store.Store: token-match ranking over content, window
// title, surrounding text, and tags, ties broken by descending timestamp.
func (s *Store) Search(_ context.Context, query string, limit int) ([]store.SearchHit, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []store.SearchHit
	for _, item := range s.items {
		haystack := strings.ToLower(strings.Join(append([]string{
			item.Content, item.WindowTitle, item.SurroundingText,
		}, item.Tags...), " "))
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, store.SearchHit{
			Item:  item,
			Score: float64(matched) / float64(len(tokens)),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Item.Timestamp.After(hits[j].Item.Timestamp)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// UpsertTask implements store.Store.
func (s *Store) UpsertTask(_ context.Context, task store.Task) error {
	if task.ID == "" {
		return fmt.Errorf("%w: task id is required", store.ErrInvalidStateTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[task.ID]; ok {
		if !store.CanTransitionTask(cur.Status, task.Status) {
			return fmt.Errorf("%w: task %s %s -> %s", store.ErrInvalidStateTransition, task.ID, cur.Status, task.Status)
		}
		if store.TerminalTask(cur.Status) && cur.Status != task.Status {
			return fmt.Errorf("%w: task %s already terminal", store.ErrInvalidStateTransition, task.ID)
		}
	}
	s.tasks[task.ID] = task
	return nil
}

// GetTask implements store.Store.
func (s *Store) GetTask(_ context.Context, taskID string) (store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return store.Task{}, fmt.Errorf("%w: task %s", store.ErrNotFound, taskID)
	}
	return task, nil
}

// ListTasks implements store.Store.
func (s *Store) ListTasks(_ context.Context, itemID string) ([]store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Task
	for _, t := range s.tasks {
		if t.ItemID == itemID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// InsertWorkflowResult implements store.Store.
func (s *Store) InsertWorkflowResult(_ context.Context, result store.WorkflowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[result.ItemID]; !ok {
		return fmt.Errorf("%w: item %s", store.ErrNotFound, result.ItemID)
	}
	s.results = append(s.results, result)
	return nil
}

// ListWorkflowResults implements store.Store.
func (s *Store) ListWorkflowResults(_ context.Context, itemID string) ([]store.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.WorkflowResult
	for _, r := range s.results {
		if r.ItemID == itemID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	return out, nil
}

// CreateSession implements store.Store.
func (s *Store) CreateSession(_ context.Context, session store.Session) error {
	if session.ID == "" {
		return fmt.Errorf("%w: session id is required", store.ErrInvalidStateTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.sessions[session.ID]; dup {
		return fmt.Errorf("%w: session %s already exists", store.ErrConflict, session.ID)
	}
	if session.Status == "" {
		session.Status = store.SessionInactive
	}
	s.sessions[session.ID] = session
	return nil
}

// GetSession implements store.Store.
func (s *Store) GetSession(_ context.Context, sessionID string) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.Session{}, fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	return sess, nil
}

// UpdateSessionStatus implements store.Store.
func (s *Store) UpdateSessionStatus(_ context.Context, sessionID string, to store.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	if !store.CanTransitionSession(sess.Status, to) {
		return fmt.Errorf("%w: session %s %s -> %s", store.ErrInvalidStateTransition, sessionID, sess.Status, to)
	}
	sess.Status = to
	s.sessions[sessionID] = sess
	return nil
}

// UpdateSessionAnalysis implements store.Store. The blobs are overwritten in
// place; nil leaves the existing blob untouched.
func (s *Store) UpdateSessionAnalysis(_ context.Context, sessionID string, contextSummary, intentAnalysis []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	if contextSummary != nil {
		sess.ContextSummary = append([]byte(nil), contextSummary...)
	}
	if intentAnalysis != nil {
		sess.IntentAnalysis = append([]byte(nil), intentAnalysis...)
	}
	s.sessions[sessionID] = sess
	return nil
}

// UpdateSessionLabel implements store.Store.
func (s *Store) UpdateSessionLabel(_ context.Context, sessionID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	sess.Label = label
	s.sessions[sessionID] = sess
	return nil
}

// AddSessionMember implements store.Store.
func (s *Store) AddSessionMember(_ context.Context, sessionID, itemID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	if _, ok := s.items[itemID]; !ok {
		return 0, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	if owner, ok := s.itemSession[itemID]; ok {
		return 0, fmt.Errorf("%w: item %s already belongs to session %s", store.ErrConflict, itemID, owner)
	}
	members := s.members[sessionID]
	members = append(members, store.Member{
		SessionID:     sessionID,
		ItemID:        itemID,
		SequenceOrder: len(members) + 1,
	})
	s.members[sessionID] = members
	s.itemSession[itemID] = sessionID
	if at.After(sess.LastActivity) {
		sess.LastActivity = at.UTC()
		s.sessions[sessionID] = sess
	}
	return len(members), nil
}

// MoveMember implements store.Store. Sequence orders stay dense on both
// sides and both sessions' last activity is recomputed from their members.
func (s *Store) MoveMember(_ context.Context, fromSessionID, toSessionID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.itemSession[itemID] != fromSessionID {
		return fmt.Errorf("%w: item %s is not a member of session %s", store.ErrNotFound, itemID, fromSessionID)
	}
	if _, ok := s.sessions[toSessionID]; !ok {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, toSessionID)
	}
	s.removeMemberLocked(fromSessionID, itemID)
	members := s.members[toSessionID]
	members = append(members, store.Member{
		SessionID:     toSessionID,
		ItemID:        itemID,
		SequenceOrder: len(members) + 1,
	})
	s.members[toSessionID] = members
	s.itemSession[itemID] = toSessionID
	s.refreshActivityLocked(fromSessionID)
	s.refreshActivityLocked(toSessionID)
	return nil
}

// GetSessionMembersOrdered implements store.Store.
func (s *Store) GetSessionMembersOrdered(_ context.Context, sessionID string) ([]store.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	members := s.members[sessionID]
	out := make([]store.Member, len(members))
	copy(out, members)
	return out, nil
}

// GetActiveSessions implements store.Store.
func (s *Store) GetActiveSessions(ctx context.Context, filter store.SessionFilter) ([]store.Session, error) {
	filter.Statuses = []store.SessionStatus{store.SessionActive}
	return s.ListSessions(ctx, filter)
}

// ListSessions implements store.Store.
func (s *Store) ListSessions(_ context.Context, filter store.SessionFilter) ([]store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Session
	for _, sess := range s.sessions {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, sess.Status) {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, sess.Type) {
			continue
		}
		if filter.From != nil && sess.LastActivity.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sess.LastActivity.Before(*filter.To) {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// FindSessionCandidates implements store.Store: active or inactive sessions
// whose last activity is strictly inside the join window before the item
// timestamp, most recent first. A session exactly on the window boundary is
// not a candidate.
func (s *Store) FindSessionCandidates(_ context.Context, item store.Item, window time.Duration) ([]store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	horizon := item.Timestamp.Add(-window)
	var out []store.Session
	for _, sess := range s.sessions {
		if sess.Status != store.SessionActive && sess.Status != store.SessionInactive {
			continue
		}
		if !sess.LastActivity.After(horizon) {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// ExpireIdleSessions implements store.Store.
func (s *Store) ExpireIdleSessions(_ context.Context, cutoff time.Time) ([]store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Session
	for id, sess := range s.sessions {
		if sess.Status != store.SessionActive && sess.Status != store.SessionInactive {
			continue
		}
		if !sess.LastActivity.Before(cutoff) {
			continue
		}
		sess.Status = store.SessionExpired
		s.sessions[id] = sess
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// Close implements store.Store.
func (s *Store) Close(context.Context) error { return nil }

// removeMemberLocked drops the item from the session member list and
// re-densifies the remaining sequence orders.
func (s *Store) removeMemberLocked(sessionID, itemID string) {
	members := s.members[sessionID]
	kept := members[:0]
	for _, m := range members {
		if m.ItemID != itemID {
			kept = append(kept, m)
		}
	}
	for i := range kept {
		kept[i].SequenceOrder = i + 1
	}
	s.members[sessionID] = kept
}

// refreshActivityLocked recomputes a session's last activity from its
// members' timestamps.
func (s *Store) refreshActivityLocked(sessionID string) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	var last time.Time
	for _, m := range s.members[sessionID] {
		if item, ok := s.items[m.ItemID]; ok && item.Timestamp.After(last) {
			last = item.Timestamp
		}
	}
	if !last.IsZero() {
		sess.LastActivity = last
		s.sessions[sessionID] = sess
	}
}

func tokenize(query string) []string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,!?:;\"'()[]")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func containsStatus(list []store.SessionStatus, s store.SessionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(list []store.SessionType, t store.SessionType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
