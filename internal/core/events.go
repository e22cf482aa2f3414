package core

import (
	"context"
	"time"
)

// Event names emitted by the engine.
const (
	EventBatchCreated    = "import.batch.created"
	EventBatchValidated  = "import.batch.validated"
	EventBatchCommitted  = "import.batch.committed"
	EventBatchReverted   = "import.batch.reverted"
	EventExportCompleted = "export.completed"
)

// Event is a named notification with a JSON-serialisable payload.
type Event struct {
	Name       string      `json:"name"`
	Payload    any         `json:"payload"`
	OccurredAt time.Time   `json:"occurredAt"`
	Meta       RequestMeta `json:"meta"`
}

// EventPublisher delivers engine events. Delivery failures are logged by the
// engine and never fail the operation that emitted the event.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// BatchCreatedPayload accompanies import.batch.created.
type BatchCreatedPayload struct {
	Batch *ImportBatch `json:"batch"`
}

// BatchValidatedPayload accompanies import.batch.validated.
type BatchValidatedPayload struct {
	BatchID      string `json:"batchId"`
	Valid        bool   `json:"valid"`
	ErrorCount   int    `json:"errorCount"`
	WarningCount int    `json:"warningCount"`
}

// BatchCommittedPayload accompanies import.batch.committed.
type BatchCommittedPayload struct {
	BatchID      string `json:"batchId"`
	ImportedRows int    `json:"importedRows"`
	SkippedRows  int    `json:"skippedRows"`
	ErrorRows    int    `json:"errorRows"`
}

// BatchRevertedPayload accompanies import.batch.reverted.
type BatchRevertedPayload struct {
	BatchID       string `json:"batchId"`
	RevertedCount int    `json:"revertedCount"`
}

// ExportCompletedPayload accompanies export.completed.
type ExportCompletedPayload struct {
	JobID       string       `json:"jobId"`
	Format      ExportFormat `json:"format"`
	Collection  string       `json:"collection"`
	RecordCount int          `json:"recordCount"`
}

func (s *Service) emit(ctx context.Context, name string, payload any) {
	event := Event{
		Name:       name,
		Payload:    payload,
		OccurredAt: s.now(),
		Meta:       RequestMetaFrom(ctx),
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("event publish failed", "event", name, "error", err)
	}
}
