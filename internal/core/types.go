package core

import (
	"time"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// Collections the engine persists its own state in.
const (
	BatchCollection    = "import_batches"
	ErrorCollection    = "import_errors"
	MappingCollection  = "field_mappings"
	ExportCollection   = "export_jobs"
	HistoryCollection  = "import_history"
	TemplateCollection = "mapping_templates"
)

// SourceFormat names an input format.
type SourceFormat string

const (
	FormatCSV        SourceFormat = "csv"
	FormatTSV        SourceFormat = "tsv"
	FormatFixedWidth SourceFormat = "fixed_width"
	FormatJSON       SourceFormat = "json"
	FormatIIF        SourceFormat = "iif"
	FormatXLSX       SourceFormat = "xlsx"
	FormatQuickBooks SourceFormat = "quickbooks"
	FormatXero       SourceFormat = "xero"
	FormatSage       SourceFormat = "sage"
)

// VendorDictionary returns the vendor header dictionary that applies to the
// format, if any. Ledger-exchange files come from QuickBooks.
func (f SourceFormat) VendorDictionary() string {
	switch f {
	case FormatIIF:
		return string(FormatQuickBooks)
	case FormatCSV, FormatTSV, FormatFixedWidth, FormatJSON, FormatXLSX:
		return ""
	default:
		return string(f)
	}
}

// BatchStatus is a state of the batch lifecycle.
type BatchStatus string

const (
	StatusPending    BatchStatus = "pending"
	StatusValidating BatchStatus = "validating"
	StatusPreview    BatchStatus = "preview"
	StatusImporting  BatchStatus = "importing"
	StatusCompleted  BatchStatus = "completed"
	StatusFailed     BatchStatus = "failed"
	StatusReverted   BatchStatus = "reverted"
)

// Deletable reports whether a batch in this state may be deleted.
func (s BatchStatus) Deletable() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusReverted
}

// MergeStrategy decides what happens when an incoming row's key matches an
// existing record.
type MergeStrategy string

const (
	MergeSkip      MergeStrategy = "skip"
	MergeOverwrite MergeStrategy = "overwrite"
	MergeAppend    MergeStrategy = "append"
	MergeManual    MergeStrategy = "manual"
)

// Transform normalises a mapped value.
type Transform string

const (
	TransformNone      Transform = "none"
	TransformLowercase Transform = "lowercase"
	TransformUppercase Transform = "uppercase"
	TransformTrim      Transform = "trim"
	TransformNumber    Transform = "number"
	TransformDate      Transform = "date"
)

// Severity of an ImportError. Only SeverityError blocks a row.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Stage records where an ImportError was produced.
type Stage string

const (
	StageValidation Stage = "validation"
	StageCommit     Stage = "commit"
)

// RowAction is the classification of one incoming row.
type RowAction string

const (
	ActionAdd      RowAction = "add"
	ActionUpdate   RowAction = "update"
	ActionSkip     RowAction = "skip"
	ActionConflict RowAction = "conflict"
)

// ImportBatch is one import run.
type ImportBatch struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	SourceFormat     SourceFormat  `json:"sourceFormat"`
	TargetCollection string        `json:"targetCollection"`
	Status           BatchStatus   `json:"status"`
	MergeStrategy    MergeStrategy `json:"mergeStrategy"`
	KeyFields        []string      `json:"keyFields,omitempty"`
	Delimiter        string        `json:"delimiter,omitempty"`
	Widths           []int         `json:"widths,omitempty"`
	FileName         string        `json:"fileName,omitempty"`

	TotalRows    int `json:"totalRows"`
	ImportedRows int `json:"importedRows"`
	SkippedRows  int `json:"skippedRows"`
	ErrorRows    int `json:"errorRows"`

	Headers []string     `json:"headers,omitempty"`
	Rows    []record.Row `json:"rows,omitempty"`

	// AffectedIDs lists records inserted by commit. Revert removes them.
	AffectedIDs []string `json:"affectedIds,omitempty"`
	// Snapshots hold pre-commit values of records commit updated. Revert
	// restores them.
	Snapshots []RecordSnapshot `json:"snapshots,omitempty"`
	// ReferenceRules are the referentialIntegrity rules of the last
	// validation, checked again at preview and commit.
	ReferenceRules []ValidationRule `json:"referenceRules,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RevertedAt  *time.Time `json:"revertedAt,omitempty"`
}

// RecordSnapshot is the state of an updated record's touched fields before
// commit. Removed lists fields the record did not have.
type RecordSnapshot struct {
	ID       string        `json:"id"`
	Previous record.Record `json:"previous"`
	Removed  []string      `json:"removed,omitempty"`
}

// ImportError is a validation or commit failure for one row.
type ImportError struct {
	ID        string   `json:"id,omitempty"`
	BatchID   string   `json:"batchId"`
	RowNumber int      `json:"rowNumber"`
	Field     string   `json:"field"`
	Value     string   `json:"value"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	Stage     Stage    `json:"stage"`
}

// FieldMapping associates a source header with a target field.
type FieldMapping struct {
	ID          string    `json:"id,omitempty"`
	BatchID     string    `json:"batchId,omitempty"`
	SourceField string    `json:"sourceField" validate:"required"`
	TargetField string    `json:"targetField" validate:"required"`
	Transform   Transform `json:"transform,omitempty" validate:"omitempty,oneof=none lowercase uppercase trim number date"`
	Position    int       `json:"position"`
}

// ProgressFunc receives percent complete after each committed row.
type ProgressFunc func(percent int)
