package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/ledgermigrate/internal/parse"
	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// ExportFormat selects the serialisation of an export.
type ExportFormat string

const (
	ExportJSON      ExportFormat = "json"
	ExportDelimited ExportFormat = "delimited"
	ExportReport    ExportFormat = "report"
	ExportPaginated ExportFormat = "paginated"
	ExportXLSX      ExportFormat = "xlsx"
)

// ContentType returns the MIME type of the format's output.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportJSON, ExportPaginated:
		return "application/json"
	case ExportDelimited:
		return "text/csv; charset=utf-8"
	case ExportXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension returns a file extension for the format.
func (f ExportFormat) Extension() string {
	switch f {
	case ExportJSON, ExportPaginated:
		return ".json"
	case ExportDelimited:
		return ".csv"
	case ExportXLSX:
		return ".xlsx"
	default:
		return ".txt"
	}
}

// Export job states.
const (
	ExportCompleted = "completed"
	ExportFailed    = "failed"
)

// Paging defaults.
const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// ExportFilters narrow the exported records.
type ExportFilters struct {
	// DateField names the date to range-filter on. When empty the first
	// field (alphabetically) whose name contains "date" is used.
	DateField string `json:"dateField,omitempty"`
	DateFrom  string `json:"dateFrom,omitempty"`
	DateTo    string `json:"dateTo,omitempty"`
	// Equals keeps records whose stringified field equals the value.
	Equals map[string]string `json:"equals,omitempty"`
}

// Letterhead is printed above a report.
type Letterhead struct {
	Title    string   `json:"title" validate:"required"`
	Subtitle string   `json:"subtitle,omitempty"`
	Lines    []string `json:"lines,omitempty"`
}

// ExportRequest describes one export.
type ExportRequest struct {
	Collection string        `json:"collection" validate:"required,collection_name"`
	Format     ExportFormat  `json:"format" validate:"required,oneof=json delimited report paginated xlsx"`
	Delimiter  string        `json:"delimiter,omitempty" validate:"omitempty,delimiter"`
	Columns    []string      `json:"columns,omitempty" validate:"dive,required"`
	Filters    ExportFilters `json:"filters"`
	Page       int           `json:"page,omitempty" validate:"gte=0"`
	PageSize   int           `json:"pageSize,omitempty" validate:"gte=0,lte=1000"`
	Letterhead *Letterhead   `json:"letterhead,omitempty"`
}

// ExportJob records one export and its output.
type ExportJob struct {
	ID          string        `json:"id"`
	Collection  string        `json:"collection"`
	Format      ExportFormat  `json:"format"`
	Columns     []string      `json:"columns,omitempty"`
	Filters     ExportFilters `json:"filters"`
	Status      string        `json:"status"`
	RecordCount int           `json:"recordCount"`
	Size        int           `json:"size"`
	ContentType string        `json:"contentType"`
	Error       string        `json:"error,omitempty"`
	Result      []byte        `json:"result,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// Export reads the collection, filters and projects it, serialises it and
// stores the job. A failed serialisation is stored as a failed job and
// returned as an error.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*ExportJob, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}
	from, to, err := parseDateRange(req.Filters)
	if err != nil {
		return nil, err
	}
	if err := s.requireCollection(ctx, req.Collection); err != nil {
		return nil, err
	}

	c, err := s.collection(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	recs, err := c.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.Collection, err)
	}
	recs = filterRecords(recs, req.Filters, from, to)

	columns := req.Columns
	if len(columns) == 0 {
		columns = collectColumns(recs)
	}

	job := &ExportJob{
		Collection:  req.Collection,
		Format:      req.Format,
		Columns:     req.Columns,
		Filters:     req.Filters,
		RecordCount: len(recs),
		ContentType: req.Format.ContentType(),
		CreatedAt:   s.now(),
	}

	out, serr := s.serialize(req, recs, columns)
	completed := s.now()
	job.CompletedAt = &completed
	if serr != nil {
		job.Status = ExportFailed
		job.Error = serr.Error()
	} else {
		job.Status = ExportCompleted
		job.Result = out
		job.Size = len(out)
	}

	if err := s.saveExportJob(ctx, job); err != nil {
		return nil, err
	}
	if serr != nil {
		return job, fmt.Errorf("export %s as %s: %w", req.Collection, req.Format, serr)
	}

	s.logger.Info("export completed",
		"job_id", job.ID,
		"collection", job.Collection,
		"format", job.Format,
		"records", job.RecordCount,
		"bytes", job.Size,
	)
	s.emit(ctx, EventExportCompleted, ExportCompletedPayload{
		JobID:       job.ID,
		Format:      job.Format,
		Collection:  job.Collection,
		RecordCount: job.RecordCount,
	})
	return job, nil
}

// GetExportJob returns a stored export job.
func (s *Service) GetExportJob(ctx context.Context, id string) (*ExportJob, error) {
	c, err := s.collection(ctx, ExportCollection)
	if err != nil {
		return nil, err
	}
	rec, err := c.Get(ctx, id)
	if err != nil {
		if record.IsNotFound(err) {
			return nil, fmt.Errorf("export job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get export job: %w", err)
	}
	var job ExportJob
	if err := fromRecord(rec, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Service) saveExportJob(ctx context.Context, job *ExportJob) error {
	c, err := s.collection(ctx, ExportCollection)
	if err != nil {
		return err
	}
	rec, err := toRecord(job)
	if err != nil {
		return err
	}
	delete(rec, record.IDField)
	stored, err := c.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("store export job: %w", err)
	}
	job.ID = stored.ID()
	return nil
}

// requireCollection returns ErrNotFound unless the store holds records
// under name.
func (s *Service) requireCollection(ctx context.Context, name string) error {
	names, err := s.store.Collections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if !slices.Contains(names, name) {
		return fmt.Errorf("collection %s: %w", name, ErrNotFound)
	}
	return nil
}

func parseDateRange(f ExportFilters) (from, to time.Time, err error) {
	if f.DateFrom != "" {
		var ok bool
		if from, ok = ParseDate(f.DateFrom); !ok {
			return from, to, invalidf("dateFrom %q is not a date", f.DateFrom)
		}
	}
	if f.DateTo != "" {
		var ok bool
		if to, ok = ParseDate(f.DateTo); !ok {
			return from, to, invalidf("dateTo %q is not a date", f.DateTo)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, invalidf("dateTo is before dateFrom")
	}
	return from, to, nil
}

// filterRecords applies equality and date-range filters. With a date range
// set, records without a parseable date are dropped.
func filterRecords(recs []record.Record, f ExportFilters, from, to time.Time) []record.Record {
	ranged := !from.IsZero() || !to.IsZero()
	until := rangeEnd(to)
	out := recs[:0:0]
	for _, rec := range recs {
		if !matchesEquals(rec, f.Equals) {
			continue
		}
		if ranged {
			field := f.DateField
			if field == "" {
				field = guessDateField(rec)
			}
			d, ok := ParseDate(record.Stringify(rec[field]))
			if field == "" || !ok {
				continue
			}
			if !from.IsZero() && d.Before(from) {
				continue
			}
			if !until.IsZero() && !d.Before(until) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

// rangeEnd returns the exclusive upper bound for an inclusive dateTo. A
// date without a time of day covers the whole day.
func rangeEnd(to time.Time) time.Time {
	if to.IsZero() {
		return to
	}
	if to.Hour() == 0 && to.Minute() == 0 && to.Second() == 0 && to.Nanosecond() == 0 {
		return to.AddDate(0, 0, 1)
	}
	return to.Add(time.Nanosecond)
}

func matchesEquals(rec record.Record, equals map[string]string) bool {
	for field, want := range equals {
		if record.Stringify(rec[field]) != want {
			return false
		}
	}
	return true
}

func guessDateField(rec record.Record) string {
	for _, k := range rec.Keys() {
		if strings.Contains(strings.ToLower(k), "date") {
			return k
		}
	}
	return ""
}

// collectColumns returns id followed by every other field in the records,
// alphabetically.
func collectColumns(recs []record.Record) []string {
	seen := make(map[string]bool)
	for _, rec := range recs {
		for k := range rec {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	if seen[record.IDField] {
		cols = append(cols, record.IDField)
		delete(seen, record.IDField)
	}
	return append(cols, sortedKeys(seen)...)
}

func (s *Service) serialize(req ExportRequest, recs []record.Record, columns []string) ([]byte, error) {
	switch req.Format {
	case ExportJSON:
		return encodeJSONRecords(recs, columns)
	case ExportDelimited:
		delim := ','
		if req.Delimiter != "" {
			delim, _ = utf8.DecodeRuneInString(req.Delimiter)
		}
		return encodeDelimited(recs, columns, delim)
	case ExportReport:
		return encodeReport(req, recs, columns, s.now()), nil
	case ExportPaginated:
		return encodePaginated(recs, columns, req.Page, req.PageSize)
	case ExportXLSX:
		return encodeXLSX(req.Collection, recs, columns)
	default:
		return nil, invalidf("unsupported export format %q", req.Format)
	}
}

// orderedRecord marshals a record as a JSON object with keys in column
// order.
type orderedRecord struct {
	columns []string
	rec     record.Record
}

func (o orderedRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range o.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(o.rec[col])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func project(recs []record.Record, columns []string) []orderedRecord {
	out := make([]orderedRecord, len(recs))
	for i, rec := range recs {
		out[i] = orderedRecord{columns: columns, rec: rec}
	}
	return out
}

func encodeJSONRecords(recs []record.Record, columns []string) ([]byte, error) {
	return json.MarshalIndent(project(recs, columns), "", "  ")
}

func encodeDelimited(recs []record.Record, columns []string, delim rune) ([]byte, error) {
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		row := make([]string, len(columns))
		for j, col := range columns {
			row[j] = record.Stringify(rec[col])
		}
		rows[i] = row
	}
	var buf bytes.Buffer
	if err := parse.SerializeDelimited(&buf, columns, rows, delim); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Page is the paginated export envelope.
type Page struct {
	Page         int             `json:"page"`
	PageSize     int             `json:"pageSize"`
	TotalPages   int             `json:"totalPages"`
	TotalRecords int             `json:"totalRecords"`
	Records      []orderedRecord `json:"records"`
}

func encodePaginated(recs []record.Record, columns []string, page, pageSize int) ([]byte, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	total := len(recs)
	env := Page{
		Page:         page,
		PageSize:     pageSize,
		TotalPages:   (total + pageSize - 1) / pageSize,
		TotalRecords: total,
		Records:      []orderedRecord{},
	}
	start := (page - 1) * pageSize
	if start < total {
		end := min(start+pageSize, total)
		env.Records = project(recs[start:end], columns)
	}
	return json.MarshalIndent(env, "", "  ")
}

// maxReportWidth caps a report column; longer values are truncated.
const maxReportWidth = 40

func encodeReport(req ExportRequest, recs []record.Record, columns []string, now time.Time) []byte {
	var b strings.Builder

	if lh := req.Letterhead; lh != nil {
		b.WriteString(lh.Title + "\n")
		if lh.Subtitle != "" {
			b.WriteString(lh.Subtitle + "\n")
		}
		for _, l := range lh.Lines {
			b.WriteString(l + "\n")
		}
		b.WriteString(strings.Repeat("=", max(utf8.RuneCountInString(lh.Title), 20)) + "\n\n")
	}

	fmt.Fprintf(&b, "Report: %s\n", req.Collection)
	fmt.Fprintf(&b, "Generated: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Records: %d\n\n", len(recs))

	cells := make([][]string, len(recs))
	widths := make([]int, len(columns))
	for j, col := range columns {
		widths[j] = min(utf8.RuneCountInString(col), maxReportWidth)
	}
	for i, rec := range recs {
		cells[i] = make([]string, len(columns))
		for j, col := range columns {
			v := truncate(strings.ReplaceAll(record.Stringify(rec[col]), "\n", " "), maxReportWidth)
			cells[i][j] = v
			widths[j] = max(widths[j], utf8.RuneCountInString(v))
		}
	}

	writeLine := func(values []string) {
		for j, v := range values {
			if j > 0 {
				b.WriteString("  ")
			}
			if j == len(values)-1 {
				b.WriteString(v)
				continue
			}
			b.WriteString(v + strings.Repeat(" ", widths[j]-utf8.RuneCountInString(v)))
		}
		b.WriteString("\n")
	}

	headers := make([]string, len(columns))
	rules := make([]string, len(columns))
	for j, col := range columns {
		headers[j] = truncate(col, maxReportWidth)
		rules[j] = strings.Repeat("-", widths[j])
	}
	writeLine(headers)
	writeLine(rules)
	for _, row := range cells {
		writeLine(row)
	}
	return []byte(b.String())
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

func encodeXLSX(collection string, recs []record.Record, columns []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, collection)
	if utf8.RuneCountInString(sheet) > 31 {
		sheet = string([]rune(sheet)[:31])
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	header := make([]any, len(columns))
	for j, col := range columns {
		header[j] = col
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, rec := range recs {
		row := make([]any, len(columns))
		for j, col := range columns {
			switch v := rec[col].(type) {
			case float64, bool:
				row[j] = v
			default:
				row[j] = record.Stringify(v)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
