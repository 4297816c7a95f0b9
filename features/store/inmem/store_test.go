package inmem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/runtime/store"
)

func item(id, content string, at time.Time) store.Item {
	return store.Item{
		ID:          id,
		Content:     content,
		ContentType: store.ContentTypeText,
		Timestamp:   at,
		SourceApp:   "Safari",
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	content := "Renaissance Hotel Austin — weekend rates from $189/night\n\ttabs and unicode ✓ preserved"
	require.NoError(t, s.InsertItem(ctx, item("a", content, time.Now().UTC())))

	got, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, content, got.Content)
}

func TestInsertRejectsEmptyContent(t *testing.T) {
	s := New()
	err := s.InsertItem(context.Background(), item("a", "   ", time.Now()))
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, item("a", "one", time.Now())))
	require.ErrorIs(t, s.InsertItem(ctx, item("a", "two", time.Now())), store.ErrConflict)
}

func TestSearchRanksAndOrdersByTimestamp(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		content := fmt.Sprintf("Renaissance Hotel Austin option %d", i)
		require.NoError(t, s.InsertItem(ctx, item(fmt.Sprintf("i%d", i), content, base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.InsertItem(ctx, item("other", "JavaScript tutorial", base)))

	hits, err := s.Search(ctx, "Renaissance Austin", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	require.Equal(t, "i2", hits[0].Item.ID)
	require.Equal(t, "i1", hits[1].Item.ID)
	require.Equal(t, "i0", hits[2].Item.ID)
}

func TestSearchCoversTagsAndWindowTitle(t *testing.T) {
	s := New()
	ctx := context.Background()
	it := item("a", "some text", time.Now().UTC())
	it.WindowTitle = "Booking.com — Hotels in Toronto"
	it.Tags = []string{"travel"}
	require.NoError(t, s.InsertItem(ctx, it))

	hits, err := s.Search(ctx, "booking", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	hits, err = s.Search(ctx, "travel", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestUpdateItemAnalysisNormalizesTags(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, item("a", "content", time.Now())))
	require.NoError(t, s.UpdateItemAnalysis(ctx, "a", []byte(`{"purpose":"x"}`), []string{"Hotel", "hotel", " Toronto "}))
	got, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []string{"hotel", "toronto"}, got.Tags)
	require.JSONEq(t, `{"purpose":"x"}`, string(got.Analysis))
}

func TestTaskTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := store.Task{ID: "t1", ItemID: "a", TaskType: "content_analysis", Status: store.TaskPending, CreatedAt: time.Now()}
	require.NoError(t, s.UpsertTask(ctx, task))

	task.Status = store.TaskRunning
	require.NoError(t, s.UpsertTask(ctx, task))

	task.Status = store.TaskCompleted
	require.NoError(t, s.UpsertTask(ctx, task))

	task.Status = store.TaskRunning
	require.ErrorIs(t, s.UpsertTask(ctx, task), store.ErrInvalidStateTransition)

	// pending -> completed skips running and is rejected.
	other := store.Task{ID: "t2", Status: store.TaskPending, CreatedAt: time.Now()}
	require.NoError(t, s.UpsertTask(ctx, other))
	other.Status = store.TaskCompleted
	require.ErrorIs(t, s.UpsertTask(ctx, other), store.ErrInvalidStateTransition)
}

func TestWorkflowResultsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, item("a", "content", time.Now())))
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertWorkflowResult(ctx, store.WorkflowResult{
			ID:           fmt.Sprintf("r%d", i),
			ItemID:       "a",
			WorkflowType: "research",
			ExecutedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
	results, err := s.ListWorkflowResults(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "r2", results[0].ID)
	require.Equal(t, "r0", results[2].ID)
}

func newSession(id string, at time.Time) store.Session {
	return store.Session{
		ID:           id,
		Type:         store.TypeHotel,
		Status:       store.SessionInactive,
		StartTime:    at,
		LastActivity: at,
	}
}

func TestMembersDenseAndExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", base)))
	require.NoError(t, s.CreateSession(ctx, newSession("s2", base)))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertItem(ctx, item(fmt.Sprintf("i%d", i), "hotel", base.Add(time.Duration(i)*time.Second))))
		count, err := s.AddSessionMember(ctx, "s1", fmt.Sprintf("i%d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.Equal(t, i+1, count)
	}

	// An item belongs to at most one session.
	_, err := s.AddSessionMember(ctx, "s2", "i1", base)
	require.ErrorIs(t, err, store.ErrConflict)

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, base.Add(2*time.Second), sess.LastActivity)

	// Moving preserves densification on both sides.
	require.NoError(t, s.MoveMember(ctx, "s1", "s2", "i1"))
	m1, err := s.GetSessionMembersOrdered(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, m1, 2)
	require.Equal(t, 1, m1[0].SequenceOrder)
	require.Equal(t, 2, m1[1].SequenceOrder)
	m2, err := s.GetSessionMembersOrdered(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, m2, 1)
	require.Equal(t, 1, m2[0].SequenceOrder)
}

func TestFindSessionCandidatesWindowBoundary(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	window := 20 * time.Minute

	require.NoError(t, s.CreateSession(ctx, newSession("inside", now.Add(-window+time.Second))))
	require.NoError(t, s.CreateSession(ctx, newSession("boundary", now.Add(-window))))
	require.NoError(t, s.CreateSession(ctx, newSession("outside", now.Add(-window-time.Second))))
	expired := newSession("expired", now)
	expired.Status = store.SessionExpired
	require.NoError(t, s.CreateSession(ctx, expired))

	candidates, err := s.FindSessionCandidates(ctx, item("x", "hotel", now), window)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "inside", candidates[0].ID)
}

func TestExpireIdleSessions(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateSession(ctx, newSession("old", now.Add(-time.Hour))))
	require.NoError(t, s.CreateSession(ctx, newSession("fresh", now)))

	expired, err := s.ExpireIdleSessions(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "old", expired[0].ID)
	require.Equal(t, store.SessionExpired, expired[0].Status)

	// Expired sessions never transition back.
	err = s.UpdateSessionStatus(ctx, "old", store.SessionActive)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestSessionStatusMachine(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", time.Now())))

	require.NoError(t, s.UpdateSessionStatus(ctx, "s1", store.SessionActive))
	require.NoError(t, s.UpdateSessionStatus(ctx, "s1", store.SessionCompleted))
	require.ErrorIs(t, s.UpdateSessionStatus(ctx, "s1", store.SessionActive), store.ErrInvalidStateTransition)
}

func TestDeleteItemCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()
	require.NoError(t, s.InsertItem(ctx, item("a", "hotel", base)))
	require.NoError(t, s.CreateSession(ctx, newSession("s1", base)))
	_, err := s.AddSessionMember(ctx, "s1", "a", base)
	require.NoError(t, err)
	require.NoError(t, s.UpsertTask(ctx, store.Task{ID: "t1", ItemID: "a", Status: store.TaskPending, CreatedAt: base}))
	require.NoError(t, s.InsertWorkflowResult(ctx, store.WorkflowResult{ID: "r1", ItemID: "a", ExecutedAt: base}))

	require.NoError(t, s.DeleteItem(ctx, "a"))

	_, err = s.GetItem(ctx, "a")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTask(ctx, "t1")
	require.ErrorIs(t, err, store.ErrNotFound)
	// The session lost its only member and is gone with it.
	_, err = s.GetSession(ctx, "s1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// TestMemberExclusivityProperty verifies that no interleaving of adds and
// moves ever leaves an item in two sessions or a session with a sparse
// sequence.
func TestMemberExclusivityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("items belong to at most one session with dense sequences", prop.ForAll(
		func(ops []int) bool {
			s := New()
			ctx := context.Background()
			base := time.Now().UTC()
			sessions := []string{"s1", "s2", "s3"}
			for _, id := range sessions {
				if err := s.CreateSession(ctx, newSession(id, base)); err != nil {
					return false
				}
			}
			for i := 0; i < 8; i++ {
				id := fmt.Sprintf("i%d", i)
				if err := s.InsertItem(ctx, item(id, "content", base.Add(time.Duration(i)*time.Second))); err != nil {
					return false
				}
			}
			for i, op := range ops {
				itemID := fmt.Sprintf("i%d", op%8)
				target := sessions[(op/8)%3]
				if _, err := s.AddSessionMember(ctx, target, itemID, base.Add(time.Duration(i)*time.Second)); err != nil {
					// Conflicts resolve into moves half the time.
					if op%2 == 0 {
						from := sessions[(op/24)%3]
						_ = s.MoveMember(ctx, from, target, itemID)
					}
				}
			}
			// Invariant: every item appears in at most one session, and
			// sequences are dense 1..N.
			seen := make(map[string]int)
			for _, id := range sessions {
				members, err := s.GetSessionMembersOrdered(ctx, id)
				if err != nil {
					return false
				}
				for i, m := range members {
					if m.SequenceOrder != i+1 {
						return false
					}
					seen[m.ItemID]++
					if seen[m.ItemID] > 1 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 71)),
	))

	properties.TestingRun(t)
}
