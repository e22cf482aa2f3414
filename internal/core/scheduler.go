package core

// scheduler.go runs periodic maintenance.
//
// Two jobs run each cycle:
//  1. Batches left in importing (for example after a crash) with no
//     commit in flight are marked failed once they exceed StaleAfter.
//  2. History entries older than HistoryRetention are purged.
//
// Failures are logged and the loop keeps going.

import (
	"context"
	"errors"
	"time"
)

var errStaleBatch = errors.New("stale importing batch")

// MaintenanceConfig holds the maintenance settings. Zero values get
// defaults.
type MaintenanceConfig struct {
	StaleAfter       time.Duration // importing batches older than this are failed (default: 1h)
	HistoryRetention time.Duration // history kept this long (default: 90 days)
	CheckInterval    time.Duration // how often to run (default: 15m)
}

func (c *MaintenanceConfig) applyDefaults() {
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 90 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 15 * time.Minute
	}
}

// StartMaintenance runs maintenance immediately and then every
// CheckInterval until ctx is cancelled.
func (s *Service) StartMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	cfg.applyDefaults()
	s.logger.Info("maintenance scheduler started",
		"stale_after", cfg.StaleAfter.String(),
		"history_retention", cfg.HistoryRetention.String(),
		"interval", cfg.CheckInterval.String(),
	)

	s.RunMaintenance(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.RunMaintenance(ctx, cfg)
		}
	}
}

// RunMaintenance performs one maintenance cycle.
func (s *Service) RunMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	cfg.applyDefaults()
	start := time.Now()

	failed, err := s.FailStaleBatches(ctx, cfg.StaleAfter)
	if err != nil {
		s.logger.Error("stale batch sweep failed", "error", err)
	} else if failed > 0 {
		s.logger.Info("stale batches failed", "count", failed)
	}

	purged, err := s.PurgeHistory(ctx, s.now().Add(-cfg.HistoryRetention))
	if err != nil {
		s.logger.Error("history purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("history purged", "entries", purged)
	}

	s.logger.Debug("maintenance completed", "duration_ms", time.Since(start).Milliseconds())
}

// FailStaleBatches marks importing batches that started more than
// staleAfter ago, and hold no commit slot, as failed.
func (s *Service) FailStaleBatches(ctx context.Context, staleAfter time.Duration) (int, error) {
	batches, err := s.ListBatches(ctx, BatchFilter{Status: StatusImporting})
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-staleAfter)

	failed := 0
	for _, summary := range batches {
		if s.limiter.Active(summary.ID) {
			continue
		}
		if summary.StartedAt != nil && summary.StartedAt.After(cutoff) {
			continue
		}
		if s.failIfStale(ctx, summary.ID, cutoff) {
			failed++
		}
	}
	return failed, nil
}

func (s *Service) failIfStale(ctx context.Context, id string, cutoff time.Time) bool {
	unlock := s.lockBatch(id)
	defer unlock()

	b, err := s.loadBatch(ctx, id)
	if err != nil || b.Status != StatusImporting || s.limiter.Active(id) {
		return false
	}
	if b.StartedAt != nil && b.StartedAt.After(cutoff) {
		return false
	}
	s.failBatch(ctx, b, []ImportError{{
		BatchID:  id,
		Message:  "commit did not finish; batch marked failed by maintenance",
		Severity: SeverityError,
		Stage:    StageCommit,
	}}, errStaleBatch)
	return true
}
