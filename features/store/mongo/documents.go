package mongo

import (
	"time"

	"github.com/flowclip/flowclip/runtime/store"
)

type itemDocument struct {
	ItemID          string    `bson:"item_id"`
	Content         string    `bson:"content"`
	ContentType     string    `bson:"content_type"`
	Timestamp       time.Time `bson:"timestamp"`
	SourceApp       string    `bson:"source_app,omitempty"`
	WindowTitle     string    `bson:"window_title,omitempty"`
	ScreenshotPath  string    `bson:"screenshot_path,omitempty"`
	SurroundingText string    `bson:"surrounding_text,omitempty"`
	Tags            []string  `bson:"tags,omitempty"`
	Analysis        []byte    `bson:"analysis,omitempty"`
	Score           float64   `bson:"score,omitempty"`
}

type taskDocument struct {
	TaskID      string     `bson:"task_id"`
	ItemID      string     `bson:"clipboard_item_id"`
	TaskType    string     `bson:"task_type"`
	Status      string     `bson:"status"`
	Attempts    int        `bson:"attempts"`
	Result      []byte     `bson:"result,omitempty"`
	Error       string     `bson:"error,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
}

type sessionDocument struct {
	SessionID      string    `bson:"session_id"`
	SessionType    string    `bson:"session_type"`
	SessionLabel   string    `bson:"session_label,omitempty"`
	Status         string    `bson:"status"`
	StartTime      time.Time `bson:"start_time"`
	LastActivity   time.Time `bson:"last_activity"`
	ContextSummary []byte    `bson:"context_summary,omitempty"`
	IntentAnalysis []byte    `bson:"intent_analysis,omitempty"`
}

type memberDocument struct {
	SessionID     string `bson:"session_id"`
	ItemID        string `bson:"clipboard_item_id"`
	SequenceOrder int    `bson:"sequence_order"`
}

type resultDocument struct {
	ResultID     string    `bson:"result_id"`
	ItemID       string    `bson:"clipboard_item_id"`
	WorkflowType string    `bson:"workflow_type"`
	ExecutedAt   time.Time `bson:"executed_at"`
	Payload      []byte    `bson:"payload,omitempty"`
	Confidence   *float64  `bson:"confidence,omitempty"`
}

func fromItem(item store.Item) itemDocument {
	return itemDocument{
		ItemID:          item.ID,
		Content:         item.Content,
		ContentType:     string(item.ContentType),
		Timestamp:       item.Timestamp.UTC(),
		SourceApp:       item.SourceApp,
		WindowTitle:     item.WindowTitle,
		ScreenshotPath:  item.ScreenshotPath,
		SurroundingText: item.SurroundingText,
		Tags:            item.Tags,
		Analysis:        item.Analysis,
	}
}

func (doc itemDocument) toItem() store.Item {
	return store.Item{
		ID:              doc.ItemID,
		Content:         doc.Content,
		ContentType:     store.ContentType(doc.ContentType),
		Timestamp:       doc.Timestamp.UTC(),
		SourceApp:       doc.SourceApp,
		WindowTitle:     doc.WindowTitle,
		ScreenshotPath:  doc.ScreenshotPath,
		SurroundingText: doc.SurroundingText,
		Tags:            doc.Tags,
		Analysis:        doc.Analysis,
	}
}

func fromTask(task store.Task) taskDocument {
	return taskDocument{
		TaskID:      task.ID,
		ItemID:      task.ItemID,
		TaskType:    task.TaskType,
		Status:      string(task.Status),
		Attempts:    task.Attempts,
		Result:      task.Result,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt.UTC(),
		CompletedAt: task.CompletedAt,
	}
}

func (doc taskDocument) toTask() store.Task {
	return store.Task{
		ID:          doc.TaskID,
		ItemID:      doc.ItemID,
		TaskType:    doc.TaskType,
		Status:      store.TaskStatus(doc.Status),
		Attempts:    doc.Attempts,
		Result:      doc.Result,
		Error:       doc.Error,
		CreatedAt:   doc.CreatedAt.UTC(),
		CompletedAt: doc.CompletedAt,
	}
}

func fromSession(sess store.Session) sessionDocument {
	return sessionDocument{
		SessionID:      sess.ID,
		SessionType:    string(sess.Type),
		SessionLabel:   sess.Label,
		Status:         string(sess.Status),
		StartTime:      sess.StartTime.UTC(),
		LastActivity:   sess.LastActivity.UTC(),
		ContextSummary: sess.ContextSummary,
		IntentAnalysis: sess.IntentAnalysis,
	}
}

func (doc sessionDocument) toSession() store.Session {
	return store.Session{
		ID:             doc.SessionID,
		Type:           store.SessionType(doc.SessionType),
		Label:          doc.SessionLabel,
		Status:         store.SessionStatus(doc.Status),
		StartTime:      doc.StartTime.UTC(),
		LastActivity:   doc.LastActivity.UTC(),
		ContextSummary: doc.ContextSummary,
		IntentAnalysis: doc.IntentAnalysis,
	}
}

func (doc memberDocument) toMember() store.Member {
	return store.Member{
		SessionID:     doc.SessionID,
		ItemID:        doc.ItemID,
		SequenceOrder: doc.SequenceOrder,
	}
}

func fromResult(r store.WorkflowResult) resultDocument {
	return resultDocument{
		ResultID:     r.ID,
		ItemID:       r.ItemID,
		WorkflowType: r.WorkflowType,
		ExecutedAt:   r.ExecutedAt.UTC(),
		Payload:      r.Payload,
		Confidence:   r.Confidence,
	}
}

func (doc resultDocument) toResult() store.WorkflowResult {
	return store.WorkflowResult{
		ID:           doc.ResultID,
		ItemID:       doc.ItemID,
		WorkflowType: doc.WorkflowType,
		ExecutedAt:   doc.ExecutedAt.UTC(),
		Payload:      doc.Payload,
		Confidence:   doc.Confidence,
	}
}
