package mongo

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowclip/flowclip/runtime/store"
)

// InsertItem implements store.Store.
func (s *Store) InsertItem(ctx context.Context, item store.Item) error {
	if strings.TrimSpace(item.Content) == "" {
		return fmt.Errorf("%w: empty content", store.ErrInvalidStateTransition)
	}
	if item.ID == "" {
		return fmt.Errorf("%w: item id is required", store.ErrInvalidStateTransition)
	}
	item.Tags = normalizeTags(item.Tags)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.items.InsertOne(ctx, fromItem(item)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: item %s already exists", store.ErrConflict, item.ID)
		}
		return storeIO("insert item", err)
	}
	s.bumpTags(ctx, item.Tags)
	return nil
}

// UpdateItemAnalysis implements store.Store. The analysis blob and tag set
// are replaced in one document write, which also refreshes the text index.
func (s *Store) UpdateItemAnalysis(ctx context.Context, itemID string, analysis []byte, tags []string) error {
	tags = normalizeTags(tags)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var prev itemDocument
	if err := s.items.FindOne(ctx, bson.M{"item_id": itemID}).Decode(&prev); err != nil {
		if err == mongodriver.ErrNoDocuments {
			return fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
		}
		return storeIO("load item", err)
	}
	res, err := s.items.UpdateOne(ctx,
		bson.M{"item_id": itemID},
		bson.M{"$set": bson.M{"analysis": analysis, "tags": tags}},
	)
	if err != nil {
		return storeIO("update item analysis", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	s.dropTags(ctx, prev.Tags)
	s.bumpTags(ctx, tags)
	return nil
}

// DeleteItem implements store.Store. Dependent rows cascade: tasks, results,
// and membership; member sequences re-densify and an emptied session is
// removed.
func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc itemDocument
	if err := s.items.FindOne(ctx, bson.M{"item_id": itemID}).Decode(&doc); err != nil {
		if err == mongodriver.ErrNoDocuments {
			return fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
		}
		return storeIO("load item", err)
	}
	deleted, err := s.items.DeleteOne(ctx, bson.M{"item_id": itemID})
	if err != nil {
		return storeIO("delete item", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	s.dropTags(ctx, doc.Tags)
	if _, err := s.tasks.DeleteMany(ctx, bson.M{"clipboard_item_id": itemID}); err != nil {
		return storeIO("delete item tasks", err)
	}
	if _, err := s.results.DeleteMany(ctx, bson.M{"clipboard_item_id": itemID}); err != nil {
		return storeIO("delete item results", err)
	}
	var member memberDocument
	err = s.members.FindOne(ctx, bson.M{"clipboard_item_id": itemID}).Decode(&member)
	if err != nil {
		if err == mongodriver.ErrNoDocuments {
			return nil
		}
		return storeIO("load item membership", err)
	}
	if _, err := s.members.DeleteOne(ctx, bson.M{"clipboard_item_id": itemID}); err != nil {
		return storeIO("delete item membership", err)
	}
	if err := s.densifyMembers(ctx, member.SessionID); err != nil {
		return err
	}
	count, err := s.members.CountDocuments(ctx, bson.M{"session_id": member.SessionID})
	if err != nil {
		return storeIO("count session members", err)
	}
	if count == 0 {
		if _, err := s.sessions.DeleteOne(ctx, bson.M{"session_id": member.SessionID}); err != nil {
			return storeIO("delete empty session", err)
		}
	}
	return nil
}

// GetItem implements store.Store.
func (s *Store) GetItem(ctx context.Context, itemID string) (store.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc itemDocument
	if err := s.items.FindOne(ctx, bson.M{"item_id": itemID}).Decode(&doc); err != nil {
		if err == mongodriver.ErrNoDocuments {
			return store.Item{}, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
		}
		return store.Item{}, storeIO("load item", err)
	}
	return doc.toItem(), nil
}

// ListItems implements store.Store.
func (s *Store) ListItems(ctx context.Context, filter store.ItemFilter) ([]store.Item, error) {
	q := bson.M{}
	if filter.ContentType != nil {
		q["content_type"] = string(*filter.ContentType)
	}
	if filter.SourceApp != "" {
		q["source_app"] = filter.SourceApp
	}
	if filter.From != nil || filter.To != nil {
		span := bson.M{}
		if filter.From != nil {
			span["$gte"] = filter.From.UTC()
		}
		if filter.To != nil {
			span["$lt"] = filter.To.UTC()
		}
		q["timestamp"] = span
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.items.Find(ctx, q, opts)
	if err != nil {
		return nil, storeIO("list items", err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []store.Item
	for cur.Next(ctx) {
		var doc itemDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, storeIO("decode item", err)
		}
		out = append(out, doc.toItem())
	}
	if err := cur.Err(); err != nil {
		return nil, storeIO("iterate items", err)
	}
	return out, nil
}

// Search implements store.Store: a $text query over the clipboard_search
// index ranked by text score with descending timestamp as the tie-break.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]store.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.D{
			{Key: "score", Value: bson.M{"$meta": "textScore"}},
			{Key: "timestamp", Value: -1},
		})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.items.Find(ctx, bson.M{"$text": bson.M{"$search": query}}, opts)
	if err != nil {
		return nil, storeIO("search items", err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []store.SearchHit
	for cur.Next(ctx) {
		var doc itemDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, storeIO("decode search hit", err)
		}
		out = append(out, store.SearchHit{Item: doc.toItem(), Score: doc.Score})
	}
	if err := cur.Err(); err != nil {
		return nil, storeIO("iterate search hits", err)
	}
	return out, nil
}

// bumpTags upserts the normalized tag rows. Tag bookkeeping is best-effort:
// the authoritative tag set lives on the item document.
func (s *Store) bumpTags(ctx context.Context, tags []string) {
	for _, t := range tags {
		_, _ = s.tags.UpdateOne(ctx,
			bson.M{"name": t},
			bson.M{"$inc": bson.M{"count": 1}, "$setOnInsert": bson.M{"name": t}},
			options.Update().SetUpsert(true),
		)
	}
}

// dropTags decrements the tag rows for a deleted item and removes rows that
// reach zero. Best-effort, like bumpTags.
func (s *Store) dropTags(ctx context.Context, tags []string) {
	for _, t := range tags {
		_, _ = s.tags.UpdateOne(ctx, bson.M{"name": t}, bson.M{"$inc": bson.M{"count": -1}})
	}
	_, _ = s.tags.DeleteMany(ctx, bson.M{"count": bson.M{"$lte": 0}})
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

func storeIO(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrStoreIO, op, err)
}
