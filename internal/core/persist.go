package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// toRecord converts an engine value into its stored form.
func toRecord(v any) (record.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, nil
}

// fromRecord decodes a stored record into out.
func fromRecord(rec record.Record, out any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

func (s *Service) collection(ctx context.Context, name string) (record.Collection, error) {
	c, err := s.store.Collection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}
	return c, nil
}

// loadBatch reads a batch by id.
func (s *Service) loadBatch(ctx context.Context, id string) (*ImportBatch, error) {
	c, err := s.collection(ctx, BatchCollection)
	if err != nil {
		return nil, err
	}
	rec, err := c.Get(ctx, id)
	if err != nil {
		if record.IsNotFound(err) {
			return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load batch %s: %w", id, err)
	}
	var b ImportBatch
	if err := fromRecord(rec, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// saveBatch writes the whole batch back.
func (s *Service) saveBatch(ctx context.Context, b *ImportBatch) error {
	c, err := s.collection(ctx, BatchCollection)
	if err != nil {
		return err
	}
	rec, err := toRecord(b)
	if err != nil {
		return err
	}
	// Optional fields dropped by omitempty must be cleared explicitly.
	for _, k := range []string{"affectedIds", "snapshots", "referenceRules", "startedAt", "completedAt", "revertedAt"} {
		if _, ok := rec[k]; !ok {
			rec[k] = nil
		}
	}
	if _, err := c.Update(ctx, b.ID, rec); err != nil {
		return fmt.Errorf("save batch %s: %w", b.ID, err)
	}
	return nil
}

// batchErrors returns the stored errors of a batch ordered by row and field.
func (s *Service) batchErrors(ctx context.Context, batchID string) ([]ImportError, error) {
	c, err := s.collection(ctx, ErrorCollection)
	if err != nil {
		return nil, err
	}
	recs, err := c.Find(ctx, record.Where("batchId", record.OpEq, batchID))
	if err != nil {
		return nil, fmt.Errorf("load errors for %s: %w", batchID, err)
	}
	out := make([]ImportError, 0, len(recs))
	for _, rec := range recs {
		var e ImportError
		if err := fromRecord(rec, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RowNumber != out[j].RowNumber {
			return out[i].RowNumber < out[j].RowNumber
		}
		return out[i].Field < out[j].Field
	})
	return out, nil
}

// insertErrors stores issues for a batch.
func (s *Service) insertErrors(ctx context.Context, batchID string, issues []ImportError) error {
	if len(issues) == 0 {
		return nil
	}
	c, err := s.collection(ctx, ErrorCollection)
	if err != nil {
		return err
	}
	for _, e := range issues {
		e.ID = ""
		e.BatchID = batchID
		rec, err := toRecord(e)
		if err != nil {
			return err
		}
		delete(rec, "id")
		if _, err := c.Insert(ctx, rec); err != nil {
			return fmt.Errorf("store error for %s row %d: %w", batchID, e.RowNumber, err)
		}
	}
	return nil
}

// removeByBatch deletes every record of collection whose batchId matches.
func (s *Service) removeByBatch(ctx context.Context, collection, batchID string) error {
	c, err := s.collection(ctx, collection)
	if err != nil {
		return err
	}
	recs, err := c.Find(ctx, record.Where("batchId", record.OpEq, batchID))
	if err != nil {
		return fmt.Errorf("find %s for %s: %w", collection, batchID, err)
	}
	for _, rec := range recs {
		if err := c.Remove(ctx, rec.ID()); err != nil && !record.IsNotFound(err) {
			return fmt.Errorf("remove %s/%s: %w", collection, rec.ID(), err)
		}
	}
	return nil
}
