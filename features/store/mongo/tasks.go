package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowclip/flowclip/runtime/store"
)

// UpsertTask implements store.Store. Transitions are guarded by filtering on
// the statuses the target status may legally follow, so a racing writer
// cannot produce an illegal transition: the update simply matches nothing
// and the caller gets ErrInvalidStateTransition.
func (s *Store) UpsertTask(ctx context.Context, task store.Task) error {
	if task.ID == "" {
		return fmt.Errorf("%w: task id is required", store.ErrInvalidStateTransition)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := fromTask(task)
	var existing taskDocument
	err := s.tasks.FindOne(ctx, bson.M{"task_id": task.ID}).Decode(&existing)
	if err != nil {
		if err != mongodriver.ErrNoDocuments {
			return storeIO("load task", err)
		}
		if insErr := s.tasks.InsertOne(ctx, doc); insErr != nil {
			if mongodriver.IsDuplicateKeyError(insErr) {
				// Lost the insert race; fall through to the guarded update.
				return s.transitionTask(ctx, doc)
			}
			return storeIO("insert task", insErr)
		}
		return nil
	}
	if !store.CanTransitionTask(store.TaskStatus(existing.Status), task.Status) {
		return fmt.Errorf("%w: task %s %s -> %s", store.ErrInvalidStateTransition, task.ID, existing.Status, task.Status)
	}
	return s.transitionTask(ctx, doc)
}

// transitionTask applies a guarded status transition: the filter admits only
// source statuses from which the target status is reachable.
func (s *Store) transitionTask(ctx context.Context, doc taskDocument) error {
	res, err := s.tasks.UpdateOne(ctx,
		bson.M{
			"task_id": doc.TaskID,
			"status":  bson.M{"$in": legalSources(store.TaskStatus(doc.Status))},
		},
		bson.M{"$set": bson.M{
			"status":       doc.Status,
			"attempts":     doc.Attempts,
			"result":       doc.Result,
			"error":        doc.Error,
			"completed_at": doc.CompletedAt,
		}},
	)
	if err != nil {
		return storeIO("transition task", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: task %s -> %s", store.ErrInvalidStateTransition, doc.TaskID, doc.Status)
	}
	return nil
}

// legalSources lists the statuses from which the target status may be
// reached, including the target itself for idempotent upserts.
func legalSources(to store.TaskStatus) []string {
	sources := []string{string(to)}
	for _, from := range []store.TaskStatus{store.TaskPending, store.TaskRunning} {
		if from != to && store.CanTransitionTask(from, to) {
			sources = append(sources, string(from))
		}
	}
	return sources
}

// GetTask implements store.Store.
func (s *Store) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc taskDocument
	if err := s.tasks.FindOne(ctx, bson.M{"task_id": taskID}).Decode(&doc); err != nil {
		if err == mongodriver.ErrNoDocuments {
			return store.Task{}, fmt.Errorf("%w: task %s", store.ErrNotFound, taskID)
		}
		return store.Task{}, storeIO("load task", err)
	}
	return doc.toTask(), nil
}

// ListTasks implements store.Store.
func (s *Store) ListTasks(ctx context.Context, itemID string) ([]store.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.tasks.Find(ctx, bson.M{"clipboard_item_id": itemID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, storeIO("list tasks", err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []store.Task
	for cur.Next(ctx) {
		var doc taskDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, storeIO("decode task", err)
		}
		out = append(out, doc.toTask())
	}
	if err := cur.Err(); err != nil {
		return nil, storeIO("iterate tasks", err)
	}
	return out, nil
}

// InsertWorkflowResult implements store.Store. Historical rows are retained.
func (s *Store) InsertWorkflowResult(ctx context.Context, result store.WorkflowResult) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.results.InsertOne(ctx, fromResult(result)); err != nil {
		return storeIO("insert workflow result", err)
	}
	return nil
}

// ListWorkflowResults implements store.Store, newest-first.
func (s *Store) ListWorkflowResults(ctx context.Context, itemID string) ([]store.WorkflowResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.results.Find(ctx, bson.M{"clipboard_item_id": itemID},
		options.Find().SetSort(bson.D{{Key: "executed_at", Value: -1}}))
	if err != nil {
		return nil, storeIO("list workflow results", err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []store.WorkflowResult
	for cur.Next(ctx) {
		var doc resultDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, storeIO("decode workflow result", err)
		}
		out = append(out, doc.toResult())
	}
	if err := cur.Err(); err != nil {
		return nil, storeIO("iterate workflow results", err)
	}
	return out, nil
}
