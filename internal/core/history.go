package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// HistoryAction names a batch lifecycle step recorded in the history.
type HistoryAction string

const (
	HistoryCreated       HistoryAction = "created"
	HistoryUploaded      HistoryAction = "uploaded"
	HistoryMappingsSaved HistoryAction = "mappings_saved"
	HistoryValidated     HistoryAction = "validated"
	HistoryCommitted     HistoryAction = "committed"
	HistoryFailed        HistoryAction = "failed"
	HistoryReverted      HistoryAction = "reverted"
	HistoryDeleted       HistoryAction = "deleted"
)

// HistoryEntry is one audited step of a batch.
type HistoryEntry struct {
	ID           string        `json:"id,omitempty"`
	BatchID      string        `json:"batchId"`
	Action       HistoryAction `json:"action"`
	Status       BatchStatus   `json:"status"`
	Collection   string        `json:"collection"`
	Detail       string        `json:"detail,omitempty"`
	RowsAffected int           `json:"rowsAffected"`
	RequestID    string        `json:"requestId,omitempty"`
	IPAddress    string        `json:"ipAddress,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	Actor        string        `json:"actor,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// recordHistory appends a history entry. Failures are logged, never
// returned; history must not break the operation it describes.
func (s *Service) recordHistory(ctx context.Context, b *ImportBatch, action HistoryAction, detail string, rows int) {
	meta := RequestMetaFrom(ctx)
	entry := HistoryEntry{
		BatchID:      b.ID,
		Action:       action,
		Status:       b.Status,
		Collection:   b.TargetCollection,
		Detail:       detail,
		RowsAffected: rows,
		RequestID:    meta.RequestID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Actor:        meta.Actor,
		CreatedAt:    s.now(),
	}

	ctx = context.WithoutCancel(ctx)
	c, err := s.collection(ctx, HistoryCollection)
	if err == nil {
		var rec record.Record
		if rec, err = toRecord(entry); err == nil {
			delete(rec, record.IDField)
			_, err = c.Insert(ctx, rec)
		}
	}
	if err != nil {
		s.logger.Warn("history write failed", "batch_id", b.ID, "action", action, "error", err)
	}
}

// GetHistory returns a batch's history oldest first. The history outlives
// DeleteBatch.
func (s *Service) GetHistory(ctx context.Context, batchID string) ([]HistoryEntry, error) {
	c, err := s.collection(ctx, HistoryCollection)
	if err != nil {
		return nil, err
	}
	recs, err := c.Find(ctx, record.Where("batchId", record.OpEq, batchID))
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", batchID, err)
	}
	out := make([]HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		var e HistoryEntry
		if err := fromRecord(rec, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PurgeHistory removes history entries created before cutoff.
func (s *Service) PurgeHistory(ctx context.Context, cutoff time.Time) (int, error) {
	c, err := s.collection(ctx, HistoryCollection)
	if err != nil {
		return 0, err
	}
	recs, err := c.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("read history: %w", err)
	}
	purged := 0
	for _, rec := range recs {
		var e HistoryEntry
		if err := fromRecord(rec, &e); err != nil {
			return purged, err
		}
		if !e.CreatedAt.Before(cutoff) {
			continue
		}
		if err := c.Remove(ctx, rec.ID()); err != nil && !record.IsNotFound(err) {
			return purged, fmt.Errorf("purge history %s: %w", rec.ID(), err)
		}
		purged++
	}
	return purged, nil
}
