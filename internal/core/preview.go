package core

// preview.go holds the diff/merge engine shared by Preview and Commit.
//
// The key index maps a composite key to the record currently holding it. It
// is read from the target collection once per call and then kept current as
// rows are classified (Preview) or written (Commit), so later rows of the
// same batch see what earlier rows did.

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// KeySeparator joins composite key parts.
const KeySeparator = "|"

// FieldConflict is a field whose incoming value would replace a different
// existing value.
type FieldConflict struct {
	Field    string `json:"field"`
	Existing string `json:"existing"`
	Incoming string `json:"incoming"`
}

// PreviewRow is the prospective outcome of one row.
type PreviewRow struct {
	RowNumber int             `json:"rowNumber"`
	Action    RowAction       `json:"action"`
	Key       string          `json:"key,omitempty"`
	Data      record.Record   `json:"data"`
	Existing  record.Record   `json:"existing,omitempty"`
	Conflicts []FieldConflict `json:"conflicts"`
	Errors    []ImportError   `json:"errors"`
}

// DuplicateKey is a composite key carried by more than one incoming row.
type DuplicateKey struct {
	Key  string `json:"key"`
	Rows []int  `json:"rows"`
}

// PreviewSummary counts rows per action.
type PreviewSummary struct {
	TotalRows     int            `json:"totalRows"`
	Add           int            `json:"add"`
	Update        int            `json:"update"`
	Skip          int            `json:"skip"`
	Conflict      int            `json:"conflict"`
	ErrorRows     int            `json:"errorRows"`
	DuplicateKeys []DuplicateKey `json:"duplicateKeys"`
}

// PreviewResult is a dry run of Commit.
type PreviewResult struct {
	BatchID string         `json:"batchId"`
	Status  BatchStatus    `json:"status"`
	Summary PreviewSummary `json:"summary"`
	Rows    []PreviewRow   `json:"rows"`
}

// keyIndex maps composite keys to records.
type keyIndex struct {
	fields []string
	byKey  map[string]record.Record
}

// rowKey joins the key field values of a mapped row. It returns "" when
// the batch has no key fields or every part is empty.
func rowKey(fields []string, row MappedRow) string {
	return joinKey(fields, func(f string) string { return row.String(f) })
}

func recordKey(fields []string, rec record.Record) string {
	return joinKey(fields, func(f string) string { return record.Stringify(rec[f]) })
}

func joinKey(fields []string, get func(string) string) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	blank := true
	for i, f := range fields {
		parts[i] = get(f)
		if parts[i] != "" {
			blank = false
		}
	}
	if blank {
		return ""
	}
	return strings.Join(parts, KeySeparator)
}

// buildKeyIndex reads the whole target collection once. The first record
// in id order wins when existing records share a key.
func buildKeyIndex(ctx context.Context, c record.Collection, fields []string) (*keyIndex, error) {
	idx := &keyIndex{fields: fields, byKey: make(map[string]record.Record)}
	if len(fields) == 0 {
		return idx, nil
	}
	recs, err := c.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", c.Name(), err)
	}
	for _, rec := range recs {
		k := recordKey(fields, rec)
		if k == "" {
			continue
		}
		if _, exists := idx.byKey[k]; !exists {
			idx.byKey[k] = rec
		}
	}
	return idx, nil
}

func (idx *keyIndex) lookup(key string) (record.Record, bool) {
	if key == "" {
		return nil, false
	}
	rec, ok := idx.byKey[key]
	return rec, ok
}

// put records rec under key unless the key is already held by another
// record. Updates replace the holder.
func (idx *keyIndex) put(key string, rec record.Record, replace bool) {
	if key == "" {
		return
	}
	if _, exists := idx.byKey[key]; exists && !replace {
		return
	}
	idx.byKey[key] = rec
}

// rowPlan is the computed outcome for one row before resolutions.
type rowPlan struct {
	Action    RowAction
	Key       string
	Existing  record.Record
	Conflicts []FieldConflict
}

// classify decides what the merge strategy does with row. blocked rows
// (error-severity issues) are always skipped.
func classify(row MappedRow, blocked bool, strategy MergeStrategy, idx *keyIndex) rowPlan {
	plan := rowPlan{Key: rowKey(idx.fields, row)}
	if blocked {
		plan.Action = ActionSkip
		return plan
	}

	existing, matched := idx.lookup(plan.Key)
	if !matched {
		plan.Action = ActionAdd
		return plan
	}
	plan.Existing = existing

	switch strategy {
	case MergeOverwrite:
		plan.Action = ActionUpdate
		plan.Conflicts = conflicts(row, existing)
	case MergeAppend:
		plan.Action = ActionAdd
	case MergeManual:
		plan.Conflicts = conflicts(row, existing)
		if len(plan.Conflicts) > 0 {
			plan.Action = ActionConflict
		} else {
			plan.Action = ActionUpdate
		}
	default:
		plan.Action = ActionSkip
	}
	return plan
}

// conflicts lists mapped fields whose non-empty incoming value differs from
// the existing one.
func conflicts(row MappedRow, existing record.Record) []FieldConflict {
	var out []FieldConflict
	for _, f := range row.Fields() {
		if f == record.IDField {
			continue
		}
		incoming := row.String(f)
		if incoming == "" {
			continue
		}
		current := record.Stringify(existing[f])
		if current != incoming {
			out = append(out, FieldConflict{Field: f, Existing: current, Incoming: incoming})
		}
	}
	return out
}

// mergePreview returns what existing would look like after an update.
func mergePreview(existing record.Record, row MappedRow) record.Record {
	out := existing.Clone()
	for k, v := range updatePatch(row) {
		out[k] = v
	}
	return out
}

// updatePatch is the patch an update writes: every mapped field but id.
func updatePatch(row MappedRow) record.Record {
	patch := row.Record()
	delete(patch, record.IDField)
	return patch
}

// duplicateKeys reports keys shared by more than one row, in first-seen order.
func duplicateKeys(fields []string, rows []MappedRow) []DuplicateKey {
	seen := make(map[string][]int)
	var order []string
	for _, r := range rows {
		k := rowKey(fields, r)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; !ok {
			order = append(order, k)
		}
		seen[k] = append(seen[k], r.Number)
	}
	out := []DuplicateKey{}
	for _, k := range order {
		if len(seen[k]) > 1 {
			out = append(out, DuplicateKey{Key: k, Rows: seen[k]})
		}
	}
	return out
}

// batchPlan is the shared input of Preview and Commit.
type batchPlan struct {
	rows   []MappedRow
	issues map[int][]ImportError
	target record.Collection
	index  *keyIndex
}

func (p *batchPlan) blocked(rowNumber int) bool {
	for _, e := range p.issues[rowNumber] {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// planBatch maps rows, loads stored issues, checks reference rules and
// builds the key index.
func (s *Service) planBatch(ctx context.Context, b *ImportBatch, stage Stage) (*batchPlan, []ImportError, error) {
	mappings, err := s.batchMappings(ctx, b.ID)
	if err != nil {
		return nil, nil, err
	}
	stored, err := s.batchErrors(ctx, b.ID)
	if err != nil {
		return nil, nil, err
	}
	target, err := s.collection(ctx, b.TargetCollection)
	if err != nil {
		return nil, nil, err
	}

	p := &batchPlan{
		rows:   mapRows(b.Rows, mappings),
		issues: make(map[int][]ImportError),
		target: target,
	}
	for _, e := range stored {
		p.issues[e.RowNumber] = append(p.issues[e.RowNumber], e)
	}

	refIssues, err := s.checkReferences(ctx, b, p.rows, stage)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range refIssues {
		p.issues[e.RowNumber] = append(p.issues[e.RowNumber], e)
	}

	if p.index, err = buildKeyIndex(ctx, target, b.KeyFields); err != nil {
		return nil, nil, err
	}
	return p, refIssues, nil
}

// checkReferences evaluates the batch's referentialIntegrity rules.
// Referenced collections are read once per rule.
func (s *Service) checkReferences(ctx context.Context, b *ImportBatch, rows []MappedRow, stage Stage) ([]ImportError, error) {
	var issues []ImportError
	for _, rule := range b.ReferenceRules {
		c, err := s.collection(ctx, rule.Collection)
		if err != nil {
			return nil, err
		}
		recs, err := c.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("read referenced collection %s: %w", rule.Collection, err)
		}
		known := make(map[string]bool, len(recs))
		for _, rec := range recs {
			known[record.Stringify(rec[rule.ReferenceField])] = true
		}

		for _, row := range rows {
			value := row.String(rule.Field)
			if value == "" || known[value] {
				continue
			}
			issues = append(issues, ImportError{
				BatchID:   b.ID,
				RowNumber: row.Number,
				Field:     rule.Field,
				Value:     value,
				Message: rule.message(fmt.Sprintf("%s %q not found in %s.%s",
					rule.Field, value, rule.Collection, rule.ReferenceField)),
				Severity: SeverityError,
				Stage:    stage,
			})
		}
	}
	return issues, nil
}

// Preview classifies every row without writing records. Batches in pending,
// validating or preview end in preview; later states are previewed
// read-only.
func (s *Service) Preview(ctx context.Context, id string) (*PreviewResult, error) {
	unlock := s.lockBatch(id)
	defer unlock()

	b, err := s.loadBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	p, _, err := s.planBatch(ctx, b, StageValidation)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{
		BatchID: id,
		Rows:    make([]PreviewRow, 0, len(p.rows)),
		Summary: PreviewSummary{
			TotalRows:     len(p.rows),
			DuplicateKeys: duplicateKeys(b.KeyFields, p.rows),
		},
	}

	for _, row := range p.rows {
		blocked := p.blocked(row.Number)
		plan := classify(row, blocked, b.MergeStrategy, p.index)

		pr := PreviewRow{
			RowNumber: row.Number,
			Action:    plan.Action,
			Key:       plan.Key,
			Data:      row.Record(),
			Existing:  plan.Existing,
			Conflicts: plan.Conflicts,
			Errors:    p.issues[row.Number],
		}
		if pr.Conflicts == nil {
			pr.Conflicts = []FieldConflict{}
		}
		if pr.Errors == nil {
			pr.Errors = []ImportError{}
		}
		result.Rows = append(result.Rows, pr)

		if blocked {
			result.Summary.ErrorRows++
		}
		switch plan.Action {
		case ActionAdd:
			result.Summary.Add++
			p.index.put(plan.Key, row.Record(), false)
		case ActionUpdate:
			result.Summary.Update++
			p.index.put(plan.Key, mergePreview(plan.Existing, row), true)
		case ActionSkip:
			result.Summary.Skip++
		case ActionConflict:
			result.Summary.Conflict++
		}
	}

	switch b.Status {
	case StatusPending, StatusValidating, StatusPreview:
		if b.Status != StatusPreview {
			b.Status = StatusPreview
			if err := s.saveBatch(ctx, b); err != nil {
				return nil, err
			}
		}
	}
	result.Status = b.Status

	s.logger.Debug("batch previewed",
		"batch_id", id,
		"add", result.Summary.Add,
		"update", result.Summary.Update,
		"skip", result.Summary.Skip,
		"conflict", result.Summary.Conflict,
	)
	return result, nil
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
