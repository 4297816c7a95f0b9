package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowclip/flowclip/runtime/store"
)

// CreateSession implements store.Store.
func (s *Store) CreateSession(ctx context.Context, sess store.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("%w: session id is required", store.ErrInvalidStateTransition)
	}
	if sess.Status == "" {
		sess.Status = store.SessionInactive
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.sessions.InsertOne(ctx, fromSession(sess)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: session %s already exists", store.ErrConflict, sess.ID)
		}
		return storeIO("create session", err)
	}
	return nil
}

// GetSession implements store.Store.
func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDocument
	if err := s.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if err == mongodriver.ErrNoDocuments {
			return store.Session{}, fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
		}
		return store.Session{}, storeIO("load session", err)
	}
	return doc.toSession(), nil
}

// UpdateSessionStatus implements store.Store. The update filters on the
// statuses from which the target is legally reachable so racing writers
// cannot produce an illegal transition.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, to store.SessionStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.sessions.UpdateOne(ctx,
		bson.M{
			"session_id": sessionID,
			"status":     bson.M{"$in": legalSessionSources(to)},
		},
		bson.M{"$set": bson.M{"status": string(to)}},
	)
	if err != nil {
		return storeIO("update session status", err)
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.GetSession(ctx, sessionID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: session %s -> %s", store.ErrInvalidStateTransition, sessionID, to)
	}
	return nil
}

func legalSessionSources(to store.SessionStatus) []string {
	sources := []string{string(to)}
	for _, from := range []store.SessionStatus{store.SessionInactive, store.SessionActive} {
		if from != to && store.CanTransitionSession(from, to) {
			sources = append(sources, string(from))
		}
	}
	return sources
}

// UpdateSessionAnalysis implements store.Store. Nil blobs leave the existing
// values untouched; the latest write wins.
func (s *Store) UpdateSessionAnalysis(ctx context.Context, sessionID string, contextSummary, intentAnalysis []byte) error {
	set := bson.M{}
	if contextSummary != nil {
		set["context_summary"] = contextSummary
	}
	if intentAnalysis != nil {
		set["intent_analysis"] = intentAnalysis
	}
	if len(set) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.sessions.UpdateOne(ctx, bson.M{"session_id": sessionID}, bson.M{"$set": set})
	if err != nil {
		return storeIO("update session analysis", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	return nil
}

// UpdateSessionLabel implements store.Store.
func (s *Store) UpdateSessionLabel(ctx context.Context, sessionID, label string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.sessions.UpdateOne(ctx, bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"session_label": label}})
	if err != nil {
		return storeIO("update session label", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	return nil
}

// AddSessionMember implements store.Store. The unique index on
// clipboard_item_id enforces the at-most-one-session invariant; the
// sequence order is dense by construction.
func (s *Store) AddSessionMember(ctx context.Context, sessionID, itemID string, at time.Time) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return 0, err
	}
	count, err := s.members.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, storeIO("count session members", err)
	}
	doc := memberDocument{
		SessionID:     sessionID,
		ItemID:        itemID,
		SequenceOrder: int(count) + 1,
	}
	if err := s.members.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("%w: item %s already belongs to a session", store.ErrConflict, itemID)
		}
		return 0, storeIO("insert session member", err)
	}
	if _, err := s.sessions.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "last_activity": bson.M{"$lt": at.UTC()}},
		bson.M{"$set": bson.M{"last_activity": at.UTC()}},
	); err != nil {
		return 0, storeIO("advance session activity", err)
	}
	return int(count) + 1, nil
}

// MoveMember implements store.Store: remove from the source, re-densify,
// append to the destination, and recompute both sessions' last activity.
func (s *Store) MoveMember(ctx context.Context, fromSessionID, toSessionID, itemID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	deleted, err := s.members.DeleteOne(ctx, bson.M{"session_id": fromSessionID, "clipboard_item_id": itemID})
	if err != nil {
		return storeIO("remove session member", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: item %s is not a member of session %s", store.ErrNotFound, itemID, fromSessionID)
	}
	if err := s.densifyMembers(ctx, fromSessionID); err != nil {
		return err
	}
	count, err := s.members.CountDocuments(ctx, bson.M{"session_id": toSessionID})
	if err != nil {
		return storeIO("count session members", err)
	}
	if err := s.members.InsertOne(ctx, memberDocument{
		SessionID:     toSessionID,
		ItemID:        itemID,
		SequenceOrder: int(count) + 1,
	}); err != nil {
		return storeIO("insert session member", err)
	}
	if err := s.refreshActivity(ctx, fromSessionID); err != nil {
		return err
	}
	return s.refreshActivity(ctx, toSessionID)
}

// GetSessionMembersOrdered implements store.Store.
func (s *Store) GetSessionMembersOrdered(ctx context.Context, sessionID string) ([]store.Member, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.members.Find(ctx, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "sequence_order", Value: 1}}))
	if err != nil {
		return nil, storeIO("list session members", err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []store.Member
	for cur.Next(ctx) {
		var doc memberDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, storeIO("decode session member", err)
		}
		out = append(out, doc.toMember())
	}
	if err := cur.Err(); err != nil {
		return nil, storeIO("iterate session members", err)
	}
	return out, nil
}

// GetActiveSessions implements store.Store.
func (s *Store) GetActiveSessions(ctx context.Context, filter store.SessionFilter) ([]store.Session, error) {
	filter.Statuses = []store.SessionStatus{store.SessionActive}
	return s.ListSessions(ctx, filter)
}

// ListSessions implements store.Store, most recently active first.
func (s *Store) ListSessions(ctx context.Context, filter store.SessionFilter) ([]store.Session, error) {
	q := bson.M{}
	if len(filter.Statuses) > 0 {
		q["status"] = bson.M{"$in": statusStrings(filter.Statuses)}
	}
	if len(filter.Types) > 0 {
		q["session_type"] = bson.M{"$in": typeStrings(filter.Types)}
	}
	if filter.From != nil || filter.To != nil {
		span := bson.M{}
		if filter.From != nil {
			span["$gte"] = filter.From.UTC()
		}
		if filter.To != nil {
			span["$lt"] = filter.To.UTC()
		}
		q["last_activity"] = span
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.decodeSessions(ctx, q, opts)
}

// FindSessionCandidates implements store.Store: active or inactive sessions
// whose last activity is strictly inside the join window before the item's
// timestamp, most recent first. Boundary-exact sessions are excluded.
func (s *Store) FindSessionCandidates(ctx context.Context, item store.Item, window time.Duration) ([]store.Session, error) {
	horizon := item.Timestamp.UTC().Add(-window)
	q := bson.M{
		"status":        bson.M{"$in": []string{string(store.SessionActive), string(store.SessionInactive)}},
		"last_activity": bson.M{"$gt": horizon},
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.decodeSessions(ctx, q, options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}}))
}

// ExpireIdleSessions implements store.Store.
func (s *Store) ExpireIdleSessions(ctx context.Context, cutoff time.Time) ([]store.Session, error) {
	q := bson.M{
		"status":        bson.M{"$in": []string{string(store.SessionActive), string(store.SessionInactive)}},
		"last_activity": bson.M{"$lt": cutoff.UTC()},
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	expired, err := s.decodeSessions(ctx, q, options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}}))
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if _, err := s.sessions.UpdateMany(ctx, q, bson.M{"$set": bson.M{"status": string(store.SessionExpired)}}); err != nil {
		return nil, storeIO("expire sessions", err)
	}
	for i := range expired {
		expired[i].Status = store.SessionExpired
	}
	return expired, nil
}

func (s *Store) decodeSessions(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]store.Session, error) {
	cur, err := s.sessions.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeIO("list sessions", err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []store.Session
	for cur.Next(ctx) {
		var doc sessionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, storeIO("decode session", err)
		}
		out = append(out, doc.toSession())
	}
	if err := cur.Err(); err != nil {
		return nil, storeIO("iterate sessions", err)
	}
	return out, nil
}

// densifyMembers rewrites sequence orders 1..N for the session's remaining
// members in their current order.
func (s *Store) densifyMembers(ctx context.Context, sessionID string) error {
	members, err := s.GetSessionMembersOrdered(ctx, sessionID)
	if err != nil {
		return err
	}
	for i, m := range members {
		if m.SequenceOrder == i+1 {
			continue
		}
		if _, err := s.members.UpdateOne(ctx,
			bson.M{"session_id": sessionID, "clipboard_item_id": m.ItemID},
			bson.M{"$set": bson.M{"sequence_order": i + 1}},
		); err != nil {
			return storeIO("densify session members", err)
		}
	}
	return nil
}

// refreshActivity recomputes the session's last activity from its members'
// item timestamps.
func (s *Store) refreshActivity(ctx context.Context, sessionID string) error {
	members, err := s.GetSessionMembersOrdered(ctx, sessionID)
	if err != nil {
		return err
	}
	var last time.Time
	for _, m := range members {
		item, err := s.GetItem(ctx, m.ItemID)
		if err != nil {
			continue
		}
		if item.Timestamp.After(last) {
			last = item.Timestamp
		}
	}
	if last.IsZero() {
		return nil
	}
	if _, err := s.sessions.UpdateOne(ctx, bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"last_activity": last.UTC()}}); err != nil {
		return storeIO("refresh session activity", err)
	}
	return nil
}

func statusStrings(in []store.SessionStatus) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func typeStrings(in []store.SessionType) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}
