package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// RevertResult reports what Revert undid.
type RevertResult struct {
	BatchID       string      `json:"batchId"`
	Status        BatchStatus `json:"status"`
	Removed       int         `json:"removed"`
	Restored      int         `json:"restored"`
	Missing       int         `json:"missing"`
	RevertedCount int         `json:"revertedCount"`
}

// Revert undoes a completed commit: records the batch inserted are removed
// and records it updated get their previous field values back. Records
// that no longer exist are counted as missing and otherwise ignored.
func (s *Service) Revert(ctx context.Context, id string) (*RevertResult, error) {
	unlock := s.lockBatch(id)
	defer unlock()

	b, err := s.loadBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(b, "revert", StatusCompleted); err != nil {
		return nil, err
	}
	target, err := s.collection(ctx, b.TargetCollection)
	if err != nil {
		return nil, err
	}

	result := &RevertResult{BatchID: id}

	for _, rid := range b.AffectedIDs {
		err := target.Remove(ctx, rid)
		switch {
		case err == nil:
			result.Removed++
		case record.IsNotFound(err):
			result.Missing++
		default:
			return nil, fmt.Errorf("revert %s: remove %s: %w", id, rid, err)
		}
	}

	for _, snap := range b.Snapshots {
		patch := snap.Previous.Clone()
		if patch == nil {
			patch = record.Record{}
		}
		for k, v := range patch {
			if v == nil {
				patch[k] = record.Null
			}
		}
		for _, k := range snap.Removed {
			patch[k] = nil
		}
		_, err := target.Update(ctx, snap.ID, patch)
		switch {
		case err == nil:
			result.Restored++
		case record.IsNotFound(err):
			result.Missing++
		default:
			return nil, fmt.Errorf("revert %s: restore %s: %w", id, snap.ID, err)
		}
	}

	now := s.now()
	b.Status = StatusReverted
	b.RevertedAt = &now
	if err := s.saveBatch(ctx, b); err != nil {
		return nil, err
	}

	result.Status = b.Status
	result.RevertedCount = result.Removed + result.Restored

	s.logger.Info("batch reverted",
		"batch_id", id,
		"removed", result.Removed,
		"restored", result.Restored,
		"missing", result.Missing,
	)
	s.recordHistory(ctx, b, HistoryReverted, "", result.RevertedCount)
	s.emit(ctx, EventBatchReverted, BatchRevertedPayload{
		BatchID:       id,
		RevertedCount: result.RevertedCount,
	})
	return result, nil
}
