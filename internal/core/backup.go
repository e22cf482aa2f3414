package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// BundleVersion is written into every backup bundle.
const BundleVersion = "2.0.0"

// Bundle is a full backup of one or more collections.
type Bundle struct {
	Version     string                     `json:"version"`
	ExportedAt  time.Time                  `json:"exportedAt"`
	Collections map[string][]record.Record `json:"collections"`
}

// RecordCount returns the number of records across collections.
func (b *Bundle) RecordCount() int {
	n := 0
	for _, recs := range b.Collections {
		n += len(recs)
	}
	return n
}

// RestoreMode decides what happens to records already in a collection.
type RestoreMode string

const (
	// RestoreMerge inserts bundle records and updates those whose id
	// already exists. Other existing records are kept.
	RestoreMerge RestoreMode = "merge"
	// RestoreReplace empties each bundled collection before inserting.
	RestoreReplace RestoreMode = "replace"
)

// CollectionRestore counts what restore did to one collection.
type CollectionRestore struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Removed  int `json:"removed"`
}

// RestoreResult reports a restore per collection.
type RestoreResult struct {
	Version     string                       `json:"version"`
	Mode        RestoreMode                  `json:"mode"`
	Collections map[string]CollectionRestore `json:"collections"`
}

// Backup snapshots the named collections. With no names every collection
// in the store is included.
func (s *Service) Backup(ctx context.Context, collections []string) (*Bundle, error) {
	if len(collections) == 0 {
		names, err := s.store.Collections(ctx)
		if err != nil {
			return nil, fmt.Errorf("list collections: %w", err)
		}
		collections = names
	}

	b := &Bundle{
		Version:     BundleVersion,
		ExportedAt:  s.now(),
		Collections: make(map[string][]record.Record, len(collections)),
	}
	for _, name := range collections {
		if !record.ValidName(name) {
			return nil, invalidf("invalid collection name %q", name)
		}
		c, err := s.collection(ctx, name)
		if err != nil {
			return nil, err
		}
		recs, err := c.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("back up %s: %w", name, err)
		}
		if recs == nil {
			recs = []record.Record{}
		}
		b.Collections[name] = recs
	}

	s.logger.Info("backup created", "collections", len(b.Collections), "records", b.RecordCount())
	return b, nil
}

// MarshalBundle encodes a bundle as indented JSON.
func MarshalBundle(b *Bundle) ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return data, nil
}

// ParseBundle decodes a bundle. version and a collections object are
// required; only 2.x bundles are accepted.
func ParseBundle(data []byte) (*Bundle, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: bundle is not a JSON object: %v", ErrFormat, err)
	}

	rawVersion, ok := top["version"]
	if !ok {
		return nil, fmt.Errorf("%w: bundle has no version", ErrFormat)
	}
	var version string
	if err := json.Unmarshal(rawVersion, &version); err != nil || version == "" {
		return nil, fmt.Errorf("%w: bundle version must be a non-empty string", ErrFormat)
	}
	if !strings.HasPrefix(version, "2.") {
		return nil, fmt.Errorf("%w: unsupported bundle version %s", ErrFormat, version)
	}

	rawCollections, ok := top["collections"]
	if !ok {
		return nil, fmt.Errorf("%w: bundle has no collections", ErrFormat)
	}
	if trimmed := bytes.TrimSpace(rawCollections); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: bundle collections must be an object", ErrFormat)
	}
	var collections map[string][]record.Record
	if err := json.Unmarshal(rawCollections, &collections); err != nil {
		return nil, fmt.Errorf("%w: bundle collections must map names to record arrays: %v", ErrFormat, err)
	}
	for name := range collections {
		if !record.ValidName(name) {
			return nil, fmt.Errorf("%w: bundle has invalid collection name %q", ErrFormat, name)
		}
	}

	b := &Bundle{Version: version, Collections: collections}
	if rawAt, ok := top["exportedAt"]; ok {
		_ = json.Unmarshal(rawAt, &b.ExportedAt)
	}
	return b, nil
}

// Restore loads a bundle into the store. Collections are processed in name
// order; the first store failure stops the restore.
func (s *Service) Restore(ctx context.Context, data []byte, mode RestoreMode) (*RestoreResult, error) {
	if mode == "" {
		mode = RestoreMerge
	}
	if mode != RestoreMerge && mode != RestoreReplace {
		return nil, invalidf("restore mode must be merge or replace, got %q", mode)
	}
	bundle, err := ParseBundle(data)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		Version:     bundle.Version,
		Mode:        mode,
		Collections: make(map[string]CollectionRestore, len(bundle.Collections)),
	}
	for _, name := range sortedKeys(bundle.Collections) {
		stats, err := s.restoreCollection(ctx, name, bundle.Collections[name], mode)
		result.Collections[name] = stats
		if err != nil {
			return result, err
		}
	}

	s.logger.Info("restore completed", "mode", mode, "collections", len(result.Collections))
	return result, nil
}

func (s *Service) restoreCollection(ctx context.Context, name string, recs []record.Record, mode RestoreMode) (CollectionRestore, error) {
	var stats CollectionRestore
	c, err := s.collection(ctx, name)
	if err != nil {
		return stats, err
	}

	if mode == RestoreReplace {
		existing, err := c.All(ctx)
		if err != nil {
			return stats, fmt.Errorf("restore %s: %w", name, err)
		}
		for _, rec := range existing {
			if err := c.Remove(ctx, rec.ID()); err != nil && !record.IsNotFound(err) {
				return stats, fmt.Errorf("restore %s: remove %s: %w", name, rec.ID(), err)
			}
			stats.Removed++
		}
	}

	sorted := append([]record.Record(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	for _, rec := range sorted {
		id := rec.ID()
		if mode == RestoreMerge && id != "" {
			patch := rec.Clone()
			delete(patch, record.IDField)
			_, err := c.Update(ctx, id, patch)
			if err == nil {
				stats.Updated++
				continue
			}
			if !record.IsNotFound(err) {
				return stats, fmt.Errorf("restore %s: update %s: %w", name, id, err)
			}
		}
		if _, err := c.Insert(ctx, rec.Clone()); err != nil {
			return stats, fmt.Errorf("restore %s: insert %s: %w", name, id, err)
		}
		stats.Inserted++
	}
	return stats, nil
}
