package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// CommitOptions tunes a commit.
type CommitOptions struct {
	// Resolutions override the computed action of key-matched rows, by
	// 1-based row number. Allowed values are add, update and skip.
	// Conflicting rows without a resolution are skipped.
	Resolutions map[int]RowAction `json:"resolutions,omitempty"`
	// Progress, when set, receives percent complete after every row.
	Progress ProgressFunc `json:"-"`
}

// Commit writes the batch's rows into the target collection. Rows are
// processed in order; a failing row is recorded as a commit error and the
// loop continues. The batch ends completed, or failed when nothing was
// imported and at least one row errored.
func (s *Service) Commit(ctx context.Context, id string, opts CommitOptions) (*ImportBatch, error) {
	unlock := s.lockBatch(id)
	defer unlock()

	b, err := s.loadBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(b, "commit", StatusPreview); err != nil {
		return nil, err
	}
	for row, action := range opts.Resolutions {
		switch action {
		case ActionAdd, ActionUpdate, ActionSkip:
		default:
			return nil, invalidf("row %d: resolution must be add, update or skip, got %q", row, action)
		}
	}

	if err := s.limiter.Acquire(ctx, id); err != nil {
		return nil, err
	}
	defer s.limiter.Release(id)

	started := s.now()
	b.Status = StatusImporting
	b.StartedAt = &started
	b.ImportedRows, b.SkippedRows, b.ErrorRows = 0, 0, 0
	b.AffectedIDs = nil
	b.Snapshots = nil
	if err := s.saveBatch(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info("batch commit started", "batch_id", id, "rows", len(b.Rows), "collection", b.TargetCollection)

	p, refIssues, err := s.planBatch(ctx, b, StageCommit)
	if err != nil {
		s.failBatch(ctx, b, nil, err)
		return nil, err
	}

	commitIssues := append([]ImportError(nil), refIssues...)
	total := len(p.rows)

	for i, row := range p.rows {
		if err := ctx.Err(); err != nil {
			commitIssues = append(commitIssues, ImportError{
				BatchID:   id,
				RowNumber: row.Number,
				Message:   fmt.Sprintf("commit interrupted: %v", err),
				Severity:  SeverityError,
				Stage:     StageCommit,
			})
			s.failBatch(ctx, b, commitIssues, err)
			return nil, fmt.Errorf("commit %s interrupted at row %d: %w", id, row.Number, err)
		}

		if err := s.commitRow(ctx, b, p, row, opts.Resolutions); err != nil {
			b.ErrorRows++
			commitIssues = append(commitIssues, ImportError{
				BatchID:   id,
				RowNumber: row.Number,
				Message:   err.Error(),
				Severity:  SeverityError,
				Stage:     StageCommit,
			})
			s.logger.Warn("row commit failed", "batch_id", id, "row", row.Number, "error", err)
		}

		if opts.Progress != nil {
			opts.Progress((i + 1) * 100 / total)
		}
	}

	completed := s.now()
	b.CompletedAt = &completed
	if b.ErrorRows > 0 && b.ImportedRows == 0 {
		b.Status = StatusFailed
	} else {
		b.Status = StatusCompleted
	}

	saveCtx := context.WithoutCancel(ctx)
	if err := s.insertErrors(saveCtx, id, commitIssues); err != nil {
		s.logger.Error("store commit errors failed", "batch_id", id, "error", err)
	}
	if err := s.saveBatch(saveCtx, b); err != nil {
		return nil, err
	}

	s.logger.Info("batch commit finished",
		"batch_id", id,
		"status", b.Status,
		"imported", b.ImportedRows,
		"skipped", b.SkippedRows,
		"errors", b.ErrorRows,
		"duration_ms", completed.Sub(started).Milliseconds(),
	)
	s.recordHistory(saveCtx, b, HistoryCommitted, string(b.Status), b.ImportedRows)
	s.emit(ctx, EventBatchCommitted, BatchCommittedPayload{
		BatchID:      id,
		ImportedRows: b.ImportedRows,
		SkippedRows:  b.SkippedRows,
		ErrorRows:    b.ErrorRows,
	})
	return b, nil
}

// commitRow applies one row and updates the batch counters for imported
// and skipped rows. A returned error means the row's mutation failed.
func (s *Service) commitRow(ctx context.Context, b *ImportBatch, p *batchPlan, row MappedRow, resolutions map[int]RowAction) error {
	plan := classify(row, p.blocked(row.Number), b.MergeStrategy, p.index)

	action := plan.Action
	if plan.Existing != nil {
		if r, ok := resolutions[row.Number]; ok {
			action = r
		} else if action == ActionConflict {
			action = ActionSkip
		}
	}

	switch action {
	case ActionAdd:
		stored, err := p.target.Insert(ctx, row.Record())
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		b.AffectedIDs = append(b.AffectedIDs, stored.ID())
		b.ImportedRows++
		p.index.put(plan.Key, stored, false)

	case ActionUpdate:
		patch := updatePatch(row)
		snap := snapshotFor(plan.Existing, patch)
		updated, err := p.target.Update(ctx, plan.Existing.ID(), patch)
		if err != nil {
			return fmt.Errorf("update %s: %w", plan.Existing.ID(), err)
		}
		b.Snapshots = mergeSnapshot(b.Snapshots, snap)
		b.ImportedRows++
		p.index.put(plan.Key, updated, true)

	default:
		b.SkippedRows++
	}
	return nil
}

// snapshotFor captures the fields of existing that patch will overwrite.
func snapshotFor(existing, patch record.Record) RecordSnapshot {
	snap := RecordSnapshot{ID: existing.ID(), Previous: record.Record{}}
	for _, k := range sortedKeys(patch) {
		if v, ok := existing[k]; ok {
			snap.Previous[k] = v
		} else {
			snap.Removed = append(snap.Removed, k)
		}
	}
	return snap
}

// mergeSnapshot adds snap to snaps. When the record was already updated by
// an earlier row, only fields not yet captured are added, so revert
// restores the values from before the commit.
func mergeSnapshot(snaps []RecordSnapshot, snap RecordSnapshot) []RecordSnapshot {
	for i := range snaps {
		if snaps[i].ID != snap.ID {
			continue
		}
		captured := make(map[string]bool)
		for k := range snaps[i].Previous {
			captured[k] = true
		}
		for _, k := range snaps[i].Removed {
			captured[k] = true
		}
		for k, v := range snap.Previous {
			if !captured[k] {
				snaps[i].Previous[k] = v
			}
		}
		for _, k := range snap.Removed {
			if !captured[k] {
				snaps[i].Removed = append(snaps[i].Removed, k)
			}
		}
		return snaps
	}
	return append(snaps, snap)
}

// failBatch marks b failed after an aborted commit. It runs detached from
// ctx so a cancelled caller still leaves a consistent batch.
func (s *Service) failBatch(ctx context.Context, b *ImportBatch, issues []ImportError, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	b.Status = StatusFailed
	b.CompletedAt = &now

	if err := s.insertErrors(ctx, b.ID, issues); err != nil {
		s.logger.Error("store commit errors failed", "batch_id", b.ID, "error", err)
	}
	if err := s.saveBatch(ctx, b); err != nil {
		s.logger.Error("mark batch failed", "batch_id", b.ID, "error", err)
	}

	s.logger.Error("batch commit aborted",
		"batch_id", b.ID,
		"error", cause,
		"imported", b.ImportedRows,
		"cancelled", errors.Is(cause, context.Canceled),
	)
	s.recordHistory(ctx, b, HistoryFailed, cause.Error(), b.ImportedRows)
}
