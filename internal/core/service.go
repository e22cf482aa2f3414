package core

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/ledgermigrate/internal/parse"
	"github.com/JonMunkholm/ledgermigrate/internal/record"
	"github.com/JonMunkholm/ledgermigrate/internal/schema"
)

// DefaultMaxContentSize bounds uploaded content when Options leaves it unset.
const DefaultMaxContentSize int64 = 100 << 20

// Options configures a Service. Zero values select defaults.
type Options struct {
	Logger               *slog.Logger
	Profiles             *schema.Profiles
	Parsers              *ParserRegistry
	MaxConcurrentCommits int
	CommitWait           time.Duration
	MaxContentSize       int64
	Now                  func() time.Time
}

// Service is the import/export engine. It holds no global state; every
// dependency arrives through NewService.
type Service struct {
	store    record.Store
	events   EventPublisher
	logger   *slog.Logger
	profiles *schema.Profiles
	parsers  *ParserRegistry
	limiter  *CommitLimiter
	validate *validator.Validate

	maxContentSize int64
	now            func() time.Time

	locksMu sync.Mutex
	locks   map[string]*batchLock
}

// NewService builds an engine over store. A nil publisher discards events.
func NewService(store record.Store, publisher EventPublisher, opts Options) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Profiles == nil {
		opts.Profiles = schema.Default()
	}
	if opts.Parsers == nil {
		opts.Parsers = NewParserRegistry()
	}
	if opts.MaxContentSize <= 0 {
		opts.MaxContentSize = DefaultMaxContentSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		store:          store,
		events:         publisher,
		logger:         opts.Logger,
		profiles:       opts.Profiles,
		parsers:        opts.Parsers,
		limiter:        NewCommitLimiter(opts.MaxConcurrentCommits, opts.CommitWait),
		validate:       newRequestValidator(),
		maxContentSize: opts.MaxContentSize,
		now:            func() time.Time { return opts.Now().UTC() },
		locks:          make(map[string]*batchLock),
	}
}

// Limiter exposes the commit limiter for health reporting and shutdown.
func (s *Service) Limiter() *CommitLimiter {
	return s.limiter
}

// Profiles returns the header profiles the engine detects and matches with.
func (s *Service) Profiles() *schema.Profiles {
	return s.profiles
}

// Ping checks the underlying store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// batchLock is a per-batch mutex shared by the callers currently holding
// or waiting for it.
type batchLock struct {
	mu   sync.Mutex
	refs int
}

// lockBatch serialises operations on one batch and returns the unlock func.
// The entry is dropped once no caller holds or waits for it, so the map
// only ever holds batches with operations in flight.
func (s *Service) lockBatch(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &batchLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// newRequestValidator returns a validator that reports json field names.
func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("collection_name", func(fl validator.FieldLevel) bool {
		return record.ValidName(fl.Field().String())
	})
	_ = v.RegisterValidation("delimiter", func(fl validator.FieldLevel) bool {
		return ValidDelimiter(fl.Field().String())
	})
	return v
}

// checkRequest validates req's struct tags and wraps failures in
// ErrInvalidRequest.
func (s *Service) checkRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return invalidf("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldErrorMessage(fe))
	}
	return invalidf("%s", strings.Join(msgs, "; "))
}

func fieldErrorMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s character(s)", field, fe.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "collection_name":
		return fmt.Sprintf("%s is not a valid collection name", field)
	case "delimiter":
		return fmt.Sprintf("%s must be one character other than a quote or line break", field)
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// ValidDelimiter reports whether d is a single character usable as a field
// delimiter. Quotes and line breaks would make the output unparseable.
func ValidDelimiter(d string) bool {
	if utf8.RuneCountInString(d) != 1 {
		return false
	}
	return !strings.ContainsAny(d, "\"\r\n")
}

// isEngineCollection reports whether name is one of the engine's own
// bookkeeping collections.
func isEngineCollection(name string) bool {
	switch name {
	case BatchCollection, ErrorCollection, MappingCollection, ExportCollection, HistoryCollection, TemplateCollection:
		return true
	}
	return false
}

// CreateBatchRequest describes a new import batch.
type CreateBatchRequest struct {
	Name             string        `json:"name" validate:"required,max=200"`
	SourceFormat     SourceFormat  `json:"sourceFormat" validate:"required"`
	TargetCollection string        `json:"targetCollection" validate:"required,collection_name"`
	MergeStrategy    MergeStrategy `json:"mergeStrategy" validate:"omitempty,oneof=skip overwrite append manual"`
	KeyFields        []string      `json:"keyFields" validate:"dive,required"`
	Delimiter        string        `json:"delimiter" validate:"omitempty,delimiter"`
	Widths           []int         `json:"widths" validate:"dive,gt=0"`
}

// CreateBatch stores a new pending batch.
func (s *Service) CreateBatch(ctx context.Context, req CreateBatchRequest) (*ImportBatch, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	if _, ok := s.parsers.Get(req.SourceFormat); !ok {
		return nil, invalidf("unsupported source format %q", req.SourceFormat)
	}
	if isEngineCollection(req.TargetCollection) {
		return nil, invalidf("collection %s is reserved", req.TargetCollection)
	}
	if req.SourceFormat == FormatFixedWidth && len(req.Widths) == 0 {
		return nil, invalidf("fixed_width batches need column widths")
	}
	if req.MergeStrategy == "" {
		req.MergeStrategy = MergeSkip
	}

	b := &ImportBatch{
		Name:             strings.TrimSpace(req.Name),
		SourceFormat:     req.SourceFormat,
		TargetCollection: req.TargetCollection,
		Status:           StatusPending,
		MergeStrategy:    req.MergeStrategy,
		KeyFields:        req.KeyFields,
		Delimiter:        req.Delimiter,
		Widths:           req.Widths,
		CreatedAt:        s.now(),
	}

	c, err := s.collection(ctx, BatchCollection)
	if err != nil {
		return nil, err
	}
	rec, err := toRecord(b)
	if err != nil {
		return nil, err
	}
	delete(rec, record.IDField)
	stored, err := c.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	b.ID = stored.ID()

	s.logger.Info("batch created",
		"batch_id", b.ID,
		"format", b.SourceFormat,
		"collection", b.TargetCollection,
		"strategy", b.MergeStrategy,
	)
	s.recordHistory(ctx, b, HistoryCreated, "", 0)
	s.emit(ctx, EventBatchCreated, BatchCreatedPayload{Batch: b})
	return b, nil
}

// GetBatch returns a batch by id.
func (s *Service) GetBatch(ctx context.Context, id string) (*ImportBatch, error) {
	return s.loadBatch(ctx, id)
}

// BatchFilter narrows ListBatches. Empty fields match everything.
type BatchFilter struct {
	Status           BatchStatus
	TargetCollection string
}

// ListBatches returns batches newest first. Raw rows and snapshots are
// omitted; GetBatch returns them.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]*ImportBatch, error) {
	c, err := s.collection(ctx, BatchCollection)
	if err != nil {
		return nil, err
	}
	var q record.Query
	if filter.Status != "" {
		q = q.Where("status", record.OpEq, string(filter.Status))
	}
	if filter.TargetCollection != "" {
		q = q.Where("targetCollection", record.OpEq, filter.TargetCollection)
	}
	recs, err := c.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	out := make([]*ImportBatch, 0, len(recs))
	for _, rec := range recs {
		var b ImportBatch
		if err := fromRecord(rec, &b); err != nil {
			return nil, err
		}
		b.Rows = nil
		b.Snapshots = nil
		out = append(out, &b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UploadContent parses content into the batch and moves it from pending to
// validating. Parse failures leave the batch pending.
func (s *Service) UploadContent(ctx context.Context, id string, content []byte, filename string) (*ImportBatch, error) {
	unlock := s.lockBatch(id)
	defer unlock()

	b, err := s.loadBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(b, "upload content to", StatusPending); err != nil {
		return nil, err
	}
	if int64(len(content)) > s.maxContentSize {
		return nil, invalidf("content too large: %d bytes exceeds limit of %d", len(content), s.maxContentSize)
	}

	fn, ok := s.parsers.Get(b.SourceFormat)
	if !ok {
		return nil, invalidf("unsupported source format %q", b.SourceFormat)
	}
	opts := ParseOptions{Widths: b.Widths}
	if b.Delimiter != "" {
		opts.Delimiter = []rune(b.Delimiter)[0]
	} else if b.SourceFormat != FormatTSV {
		opts.Delimiter, _ = dominantDelimiter(parse.FirstLine(parse.Clean(content)))
	}

	res, err := fn(content, opts)
	if err != nil {
		return nil, fmt.Errorf("parse %s content: %w", b.SourceFormat, err)
	}

	b.Headers = res.Headers
	b.Rows = res.Rows
	b.TotalRows = len(res.Rows)
	b.FileName = filename
	b.Status = StatusValidating
	if err := s.saveBatch(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("batch content uploaded",
		"batch_id", b.ID,
		"file", filename,
		"rows", b.TotalRows,
		"columns", len(b.Headers),
	)
	s.recordHistory(ctx, b, HistoryUploaded, filename, b.TotalRows)
	return b, nil
}

// SaveMappings replaces the batch's field mappings. Saving while in preview
// returns the batch to validating so the new mapping gets validated.
func (s *Service) SaveMappings(ctx context.Context, id string, mappings []FieldMapping) ([]FieldMapping, error) {
	unlock := s.lockBatch(id)
	defer unlock()

	b, err := s.loadBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(b, "save mappings for", StatusPending, StatusValidating, StatusPreview); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(mappings))
	for i := range mappings {
		if err := s.checkRequest(mappings[i]); err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i+1, err)
		}
		if seen[mappings[i].SourceField] {
			return nil, invalidf("duplicate mapping for source field %q", mappings[i].SourceField)
		}
		seen[mappings[i].SourceField] = true
	}

	if err := s.removeByBatch(ctx, MappingCollection, id); err != nil {
		return nil, err
	}
	c, err := s.collection(ctx, MappingCollection)
	if err != nil {
		return nil, err
	}
	saved := make([]FieldMapping, 0, len(mappings))
	for i, m := range mappings {
		m.ID = ""
		m.BatchID = id
		m.Position = i
		if m.Transform == "" {
			m.Transform = TransformNone
		}
		rec, err := toRecord(m)
		if err != nil {
			return nil, err
		}
		delete(rec, record.IDField)
		stored, err := c.Insert(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("save mapping %s: %w", m.SourceField, err)
		}
		m.ID = stored.ID()
		saved = append(saved, m)
	}

	if b.Status == StatusPreview {
		b.Status = StatusValidating
		if err := s.saveBatch(ctx, b); err != nil {
			return nil, err
		}
	}
	s.recordHistory(ctx, b, HistoryMappingsSaved, "", len(saved))
	return saved, nil
}

// GetMappings returns the batch's mappings in saved order.
func (s *Service) GetMappings(ctx context.Context, id string) ([]FieldMapping, error) {
	if _, err := s.loadBatch(ctx, id); err != nil {
		return nil, err
	}
	return s.batchMappings(ctx, id)
}

func (s *Service) batchMappings(ctx context.Context, id string) ([]FieldMapping, error) {
	c, err := s.collection(ctx, MappingCollection)
	if err != nil {
		return nil, err
	}
	recs, err := c.Find(ctx, record.Where("batchId", record.OpEq, id))
	if err != nil {
		return nil, fmt.Errorf("load mappings for %s: %w", id, err)
	}
	out := make([]FieldMapping, 0, len(recs))
	for _, rec := range recs {
		var m FieldMapping
		if err := fromRecord(rec, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// GetErrors returns the batch's validation and commit errors.
func (s *Service) GetErrors(ctx context.Context, id string) ([]ImportError, error) {
	if _, err := s.loadBatch(ctx, id); err != nil {
		return nil, err
	}
	return s.batchErrors(ctx, id)
}

// DeleteBatch removes a finished batch with its errors and mappings. The
// imported records stay; revert first to remove them.
func (s *Service) DeleteBatch(ctx context.Context, id string) error {
	unlock := s.lockBatch(id)
	defer unlock()

	b, err := s.loadBatch(ctx, id)
	if err != nil {
		return err
	}
	if !b.Status.Deletable() {
		return &StateError{
			BatchID:  id,
			Op:       "delete",
			Actual:   b.Status,
			Expected: []BatchStatus{StatusCompleted, StatusFailed, StatusReverted},
		}
	}

	if err := s.removeByBatch(ctx, ErrorCollection, id); err != nil {
		return err
	}
	if err := s.removeByBatch(ctx, MappingCollection, id); err != nil {
		return err
	}
	c, err := s.collection(ctx, BatchCollection)
	if err != nil {
		return err
	}
	if err := c.Remove(ctx, id); err != nil {
		return fmt.Errorf("delete batch %s: %w", id, err)
	}

	s.logger.Info("batch deleted", "batch_id", id, "status", b.Status)
	s.recordHistory(ctx, b, HistoryDeleted, "", 0)
	return nil
}

// Validate applies rules to every mapped row, replacing earlier errors.
// With no error-severity issue the batch moves to preview; otherwise it
// stays in (or moves to) validating.
func (s *Service) Validate(ctx context.Context, id string, rules []ValidationRule) (*ValidationResult, error) {
	unlock := s.lockBatch(id)
	defer unlock()

	for i := range rules {
		if err := s.checkRequest(rules[i]); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
	}
	rv, err := NewRowValidator(rules)
	if err != nil {
		return nil, err
	}

	b, err := s.loadBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(b, "validate", StatusPending, StatusValidating); err != nil {
		return nil, err
	}
	mappings, err := s.batchMappings(ctx, id)
	if err != nil {
		return nil, err
	}

	var issues []ImportError
	for _, row := range mapRows(b.Rows, mappings) {
		issues = append(issues, rv.ValidateRow(row)...)
	}
	for i := range issues {
		issues[i].BatchID = id
	}

	if err := s.removeByBatch(ctx, ErrorCollection, id); err != nil {
		return nil, err
	}
	if err := s.insertErrors(ctx, id, issues); err != nil {
		return nil, err
	}

	errCount, warnCount := countSeverities(issues)
	b.ReferenceRules = referenceRules(rules)
	if errCount == 0 {
		b.Status = StatusPreview
	} else {
		b.Status = StatusValidating
	}
	if err := s.saveBatch(ctx, b); err != nil {
		return nil, err
	}

	result := &ValidationResult{
		BatchID:      id,
		Valid:        errCount == 0,
		ErrorCount:   errCount,
		WarningCount: warnCount,
		Errors:       issues,
	}
	if result.Errors == nil {
		result.Errors = []ImportError{}
	}

	s.logger.Info("batch validated",
		"batch_id", id,
		"valid", result.Valid,
		"errors", errCount,
		"warnings", warnCount,
	)
	s.recordHistory(ctx, b, HistoryValidated, fmt.Sprintf("%d errors, %d warnings", errCount, warnCount), len(b.Rows))
	s.emit(ctx, EventBatchValidated, BatchValidatedPayload{
		BatchID:      id,
		Valid:        result.Valid,
		ErrorCount:   errCount,
		WarningCount: warnCount,
	})
	return result, nil
}
