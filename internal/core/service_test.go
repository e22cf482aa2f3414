package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

func TestCreateBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b, err := env.svc.CreateBatch(ctx, CreateBatchRequest{
		Name:             "Q1 invoices",
		SourceFormat:     FormatCSV,
		TargetCollection: "invoices",
		KeyFields:        []string{"invoiceNumber"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, MergeSkip, b.MergeStrategy)

	got, err := env.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Name, got.Name)
	assert.Equal(t, []string{"invoiceNumber"}, got.KeyFields)

	created := env.events.named(EventBatchCreated)
	require.Len(t, created, 1)
	assert.Equal(t, b.ID, created[0].Payload.(BatchCreatedPayload).Batch.ID)
}

func TestCreateBatch_Invalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateBatchRequest
	}{
		{"missing name", CreateBatchRequest{SourceFormat: FormatCSV, TargetCollection: "invoices"}},
		{"unknown format", CreateBatchRequest{Name: "x", SourceFormat: "dbase", TargetCollection: "invoices"}},
		{"bad strategy", CreateBatchRequest{Name: "x", SourceFormat: FormatCSV, TargetCollection: "invoices", MergeStrategy: "merge"}},
		{"bad collection", CreateBatchRequest{Name: "x", SourceFormat: FormatCSV, TargetCollection: "bad name"}},
		{"reserved collection", CreateBatchRequest{Name: "x", SourceFormat: FormatCSV, TargetCollection: BatchCollection}},
		{"long delimiter", CreateBatchRequest{Name: "x", SourceFormat: FormatCSV, TargetCollection: "invoices", Delimiter: ",,"}},
		{"fixed width without widths", CreateBatchRequest{Name: "x", SourceFormat: FormatFixedWidth, TargetCollection: "invoices"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateBatch(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestGetBatch_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetBatch(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestUploadContent(t *testing.T) {
	env := newTestEnv(t)
	b := env.uploaded(t, MergeSkip, "invoiceNumber;customer\nINV-1;Acme\nINV-2;Globex\n")

	assert.Equal(t, StatusValidating, b.Status)
	assert.Equal(t, 2, b.TotalRows)
	assert.Equal(t, []string{"invoiceNumber", "customer"}, b.Headers)
	v, _ := b.Rows[1].Get("customer")
	assert.Equal(t, "Globex", v)
	assert.Equal(t, "invoices.csv", b.FileName)

	_, err := env.svc.UploadContent(context.Background(), b.ID, []byte("a,b\n1,2\n"), "again.csv")
	assert.True(t, IsStateError(err), "second upload should be rejected, got %v", err)
}

func TestUploadContent_FormatErrorKeepsPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b, err := env.svc.CreateBatch(ctx, CreateBatchRequest{Name: "bad", SourceFormat: FormatJSON, TargetCollection: "invoices"})
	require.NoError(t, err)

	_, err = env.svc.UploadContent(ctx, b.ID, []byte(`{"data": [ {"a": 1}, `), "x.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)

	got, err := env.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestUploadContent_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.svc.maxContentSize = 8
	ctx := context.Background()

	b, err := env.svc.CreateBatch(ctx, CreateBatchRequest{Name: "big", SourceFormat: FormatCSV, TargetCollection: "invoices"})
	require.NoError(t, err)
	_, err = env.svc.UploadContent(ctx, b.ID, []byte("a,b\n1,2\n3,4\n"), "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSaveMappings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.uploaded(t, MergeSkip, "Invoice No,Cust\nINV-1,Acme\n")

	saved, err := env.svc.SaveMappings(ctx, b.ID, []FieldMapping{
		{SourceField: "Invoice No", TargetField: "invoiceNumber"},
		{SourceField: "Cust", TargetField: "customer", Transform: TransformUppercase},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, TransformNone, saved[0].Transform)

	// Full replace, not merge.
	_, err = env.svc.SaveMappings(ctx, b.ID, []FieldMapping{
		{SourceField: "Cust", TargetField: "customerName"},
	})
	require.NoError(t, err)
	got, err := env.svc.GetMappings(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "customerName", got[0].TargetField)

	_, err = env.svc.SaveMappings(ctx, b.ID, []FieldMapping{
		{SourceField: "Cust", TargetField: "a"},
		{SourceField: "Cust", TargetField: "b"},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.svc.SaveMappings(ctx, b.ID, []FieldMapping{{SourceField: "Cust"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.svc.SaveMappings(ctx, b.ID, []FieldMapping{{SourceField: "Cust", TargetField: "c", Transform: "reverse"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSaveMappings_InPreviewReturnsToValidating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.previewed(t, MergeSkip, "invoiceNumber\nINV-1\n")

	got, err := env.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPreview, got.Status)

	_, err = env.svc.SaveMappings(ctx, b.ID, []FieldMapping{{SourceField: "invoiceNumber", TargetField: "number"}})
	require.NoError(t, err)

	got, err = env.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidating, got.Status)
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.uploaded(t, MergeSkip, "invoiceNumber,amount,email\nINV-1,abc,bad\n,10,a@b.co\n")

	res, err := env.svc.Validate(ctx, b.ID, []ValidationRule{
		{Field: "invoiceNumber", Kind: RuleRequired},
		{Field: "amount", Kind: RuleDataType, DataType: TypeNumber},
		{Field: "email", Kind: RuleDataType, DataType: TypeEmail},
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 2, res.WarningCount)

	got, err := env.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidating, got.Status)

	errs, err := env.svc.GetErrors(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, errs, 3)
	assert.Equal(t, 1, errs[0].RowNumber)
	assert.Equal(t, 2, errs[2].RowNumber)
	assert.Equal(t, SeverityError, errs[2].Severity)

	// Re-validation replaces, it does not accumulate.
	res, err = env.svc.Validate(ctx, b.ID, []ValidationRule{
		{Field: "amount", Kind: RuleDataType, DataType: TypeNumber},
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	errs, err = env.svc.GetErrors(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, errs, 1)

	got, err = env.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPreview, got.Status)

	validated := env.events.named(EventBatchValidated)
	require.Len(t, validated, 2)
	assert.Equal(t, BatchValidatedPayload{BatchID: b.ID, Valid: false, ErrorCount: 1, WarningCount: 2}, validated[0].Payload)
}

func TestValidate_CustomRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.uploaded(t, MergeSkip, "debit,credit\n10,10\n10,5\n")

	res, err := env.svc.Validate(ctx, b.ID, []ValidationRule{{
		Field:   "credit",
		Kind:    RuleCustom,
		Message: "debits and credits must balance",
		Predicate: func(value string, row MappedRow) bool {
			return value == row.String("debit")
		},
	}})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].RowNumber)
	assert.Equal(t, "debits and credits must balance", res.Errors[0].Message)
	assert.Equal(t, SeverityWarning, res.Errors[0].Severity)
	assert.True(t, res.Valid)
}

func TestValidate_StateGuard(t *testing.T) {
	env := newTestEnv(t)
	b := env.previewed(t, MergeSkip, "invoiceNumber\nINV-1\n")

	_, err := env.svc.Validate(context.Background(), b.ID, nil)
	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatusPreview, se.Actual)
	assert.Equal(t, []BatchStatus{StatusPending, StatusValidating}, se.Expected)
}

func TestCommit_RequiresPreview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.uploaded(t, MergeSkip, "invoiceNumber,customer\nINV-1,Acme\n")

	_, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.Contains(t, err.Error(), "status is validating, expected preview")

	assert.Empty(t, env.all(t, "invoices"))
	got, err := env.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidating, got.Status)
	assert.Empty(t, env.events.named(EventBatchCommitted))
}

func TestScenario_TenRowsOneRequiredFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var sb strings.Builder
	sb.WriteString("invoiceNumber,customer,amount\n")
	for i := 1; i <= 10; i++ {
		customer := fmt.Sprintf("Customer %d", i)
		if i == 4 {
			customer = ""
		}
		fmt.Fprintf(&sb, "INV-%d,%s,%d\n", i, customer, i*100)
	}
	b := env.uploaded(t, MergeSkip, sb.String(), "invoiceNumber")
	require.Equal(t, 10, b.TotalRows)

	res, err := env.svc.Validate(ctx, b.ID, []ValidationRule{{Field: "customer", Kind: RuleRequired}})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 1, res.ErrorCount)

	preview, err := env.svc.Preview(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPreview, preview.Status)

	var skipped []PreviewRow
	for _, r := range preview.Rows {
		if r.Action == ActionSkip {
			skipped = append(skipped, r)
		}
	}
	require.Len(t, skipped, 1)
	assert.Equal(t, 4, skipped[0].RowNumber)
	assert.Len(t, skipped[0].Errors, 1)
	assert.Equal(t, 9, preview.Summary.Add)
	assert.Equal(t, 1, preview.Summary.ErrorRows)

	committed, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 9, committed.ImportedRows)
	assert.Equal(t, 1, committed.SkippedRows)
	assert.Equal(t, 0, committed.ErrorRows)
	assert.Equal(t, StatusCompleted, committed.Status)
	assert.Equal(t, committed.TotalRows, committed.ImportedRows+committed.SkippedRows+committed.ErrorRows)
	assert.Len(t, committed.AffectedIDs, 9)
	assert.Len(t, env.all(t, "invoices"), 9)

	events := env.events.named(EventBatchCommitted)
	require.Len(t, events, 1)
	assert.Equal(t, BatchCommittedPayload{BatchID: b.ID, ImportedRows: 9, SkippedRows: 1}, events[0].Payload)
}

func TestMerge_Skip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "invoices", record.Record{"invoiceNumber": "INV-1", "customer": "Old", "amount": 100.0})

	b := env.previewed(t, MergeSkip, "invoiceNumber,customer,amount\nINV-1,New,150\nINV-2,Other,75\n", "invoiceNumber")

	preview, err := env.svc.Preview(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, preview.Rows[0].Action)
	assert.Equal(t, "INV-1", preview.Rows[0].Key)
	assert.Equal(t, "Old", preview.Rows[0].Existing["customer"])
	assert.Equal(t, ActionAdd, preview.Rows[1].Action)

	committed, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, committed.ImportedRows)
	assert.Equal(t, 1, committed.SkippedRows)

	existing := env.find(t, "invoices", "invoiceNumber", "INV-1")
	require.Len(t, existing, 1)
	assert.Equal(t, "Old", existing[0]["customer"])
	assert.Equal(t, 100.0, existing[0]["amount"])
}

func TestMerge_Overwrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "invoices", record.Record{"invoiceNumber": "INV-1", "customer": "Old", "amount": 100.0, "memo": "keep"})

	b := env.uploaded(t, MergeOverwrite, "invoiceNumber,customer,amount,memo\nINV-1,New,150,\n", "invoiceNumber")
	_, err := env.svc.SaveMappings(ctx, b.ID, []FieldMapping{
		{SourceField: "invoiceNumber", TargetField: "invoiceNumber"},
		{SourceField: "customer", TargetField: "customer"},
		{SourceField: "memo", TargetField: "memo"},
	})
	require.NoError(t, err)
	_, err = env.svc.Validate(ctx, b.ID, nil)
	require.NoError(t, err)

	preview, err := env.svc.Preview(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, preview.Rows, 1)
	row := preview.Rows[0]
	assert.Equal(t, ActionUpdate, row.Action)
	assert.Equal(t, []FieldConflict{{Field: "customer", Existing: "Old", Incoming: "New"}}, row.Conflicts)

	_, err = env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)

	recs := env.all(t, "invoices")
	require.Len(t, recs, 1)
	assert.Equal(t, "New", recs[0]["customer"])
	assert.Equal(t, 100.0, recs[0]["amount"], "unmapped fields are untouched")
	assert.Equal(t, "", recs[0]["memo"], "mapped fields are written even when empty")
}

func TestMerge_Manual(t *testing.T) {
	tests := []struct {
		name         string
		resolutions  map[int]RowAction
		wantCustomer string
		wantImported int
		wantSkipped  int
		wantRecords  int
	}{
		{name: "unresolved conflict is skipped", wantCustomer: "Old", wantSkipped: 1, wantRecords: 1},
		{name: "resolved as update", resolutions: map[int]RowAction{1: ActionUpdate}, wantCustomer: "New", wantImported: 1, wantRecords: 1},
		{name: "resolved as add", resolutions: map[int]RowAction{1: ActionAdd}, wantCustomer: "Old", wantImported: 1, wantRecords: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			ids := env.seed(t, "invoices", record.Record{"invoiceNumber": "INV-1", "customer": "Old"})

			b := env.previewed(t, MergeManual, "invoiceNumber,customer\nINV-1,New\n", "invoiceNumber")
			preview, err := env.svc.Preview(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, ActionConflict, preview.Rows[0].Action)
			assert.Equal(t, 1, preview.Summary.Conflict)

			committed, err := env.svc.Commit(ctx, b.ID, CommitOptions{Resolutions: tt.resolutions})
			require.NoError(t, err)
			assert.Equal(t, tt.wantImported, committed.ImportedRows)
			assert.Equal(t, tt.wantSkipped, committed.SkippedRows)
			assert.Len(t, env.all(t, "invoices"), tt.wantRecords)

			c, err := env.store.Collection(ctx, "invoices")
			require.NoError(t, err)
			orig, err := c.Get(ctx, ids[0])
			require.NoError(t, err)
			assert.Equal(t, tt.wantCustomer, orig["customer"])
		})
	}
}

func TestMerge_ManualIdenticalRowIsUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "invoices", record.Record{"invoiceNumber": "INV-1", "customer": "Same"})
	b := env.previewed(t, MergeManual, "invoiceNumber,customer\nINV-1,Same\n", "invoiceNumber")

	preview, err := env.svc.Preview(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, preview.Rows[0].Action)
	assert.Empty(t, preview.Rows[0].Conflicts)
}

func TestMerge_AppendCreatesDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "invoices", record.Record{"invoiceNumber": "INV-1", "customer": "Old"})

	b := env.previewed(t, MergeAppend, "invoiceNumber,customer\nINV-1,New\n", "invoiceNumber")
	preview, err := env.svc.Preview(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionAdd, preview.Rows[0].Action)
	assert.NotNil(t, preview.Rows[0].Existing)

	_, err = env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)
	assert.Len(t, env.find(t, "invoices", "invoiceNumber", "INV-1"), 2)
}

func TestMerge_CompositeKey(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "invoices",
		record.Record{"vendor": "A", "number": "1", "amount": "5"},
		record.Record{"vendor": "B", "number": "1", "amount": "6"},
	)
	b := env.previewed(t, MergeSkip, "vendor,number,amount\nA,1,9\nC,1,9\n", "vendor", "number")

	preview, err := env.svc.Preview(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "A|1", preview.Rows[0].Key)
	assert.Equal(t, ActionSkip, preview.Rows[0].Action)
	assert.Equal(t, ActionAdd, preview.Rows[1].Action)
}

func TestPreview_InFileDuplicatesSeeEarlierRows(t *testing.T) {
	tests := []struct {
		strategy     MergeStrategy
		wantSecond   RowAction
		wantImported int
		wantSkipped  int
		wantRecords  int
	}{
		{MergeSkip, ActionSkip, 1, 1, 1},
		{MergeOverwrite, ActionUpdate, 2, 0, 1},
		{MergeAppend, ActionAdd, 2, 0, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			b := env.previewed(t, tt.strategy, "invoiceNumber,customer\nINV-1,First\nINV-1,Second\n", "invoiceNumber")

			preview, err := env.svc.Preview(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, ActionAdd, preview.Rows[0].Action)
			assert.Equal(t, tt.wantSecond, preview.Rows[1].Action)
			assert.Equal(t, []DuplicateKey{{Key: "INV-1", Rows: []int{1, 2}}}, preview.Summary.DuplicateKeys)

			committed, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantImported, committed.ImportedRows)
			assert.Equal(t, tt.wantSkipped, committed.SkippedRows)
			assert.Len(t, env.all(t, "invoices"), tt.wantRecords)
		})
	}
}

func TestPreview_ReadOnlyAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.previewed(t, MergeSkip, "invoiceNumber\nINV-1\n", "invoiceNumber")
	_, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)

	preview, err := env.svc.Preview(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, preview.Status)
	assert.Equal(t, ActionSkip, preview.Rows[0].Action, "the committed row now matches itself")
}

func TestPreview_FromPendingMovesToPreview(t *testing.T) {
	env := newTestEnv(t)
	b := env.uploaded(t, MergeSkip, "invoiceNumber\nINV-1\n")

	preview, err := env.svc.Preview(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPreview, preview.Status)
}

func TestReferentialIntegrity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "customers", record.Record{"code": "C1", "name": "Acme"})

	b := env.uploaded(t, MergeSkip, "invoiceNumber,customerCode\nINV-1,C1\nINV-2,C9\nINV-3,\n")
	res, err := env.svc.Validate(ctx, b.ID, []ValidationRule{{
		Field:          "customerCode",
		Kind:           RuleReferentialIntegrity,
		Collection:     "customers",
		ReferenceField: "code",
	}})
	require.NoError(t, err)
	assert.True(t, res.Valid, "reference checks are deferred")

	preview, err := env.svc.Preview(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionAdd, preview.Rows[0].Action)
	assert.Equal(t, ActionSkip, preview.Rows[1].Action)
	require.Len(t, preview.Rows[1].Errors, 1)
	assert.Contains(t, preview.Rows[1].Errors[0].Message, "not found in customers.code")
	assert.Equal(t, ActionAdd, preview.Rows[2].Action, "empty references are not checked")

	committed, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, committed.ImportedRows)
	assert.Equal(t, 1, committed.SkippedRows)
	assert.Equal(t, 0, committed.ErrorRows)

	errs, err := env.svc.GetErrors(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, StageCommit, errs[0].Stage)
}

func TestCommit_RowFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "invoices", record.Record{"id": "fixed", "invoiceNumber": "OLD"})

	// Row 1 carries an id that already exists; the insert fails.
	b := env.previewed(t, MergeSkip, "id,invoiceNumber\nfixed,INV-1\n,INV-2\n")

	committed, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, committed.ErrorRows)
	assert.Equal(t, 1, committed.ImportedRows)
	assert.Equal(t, StatusCompleted, committed.Status)

	errs, err := env.svc.GetErrors(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].RowNumber)
	assert.Equal(t, StageCommit, errs[0].Stage)
	assert.Contains(t, errs[0].Message, "duplicate id")
}

func TestCommit_AllRowsFailingMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "invoices", record.Record{"id": "fixed"})
	b := env.previewed(t, MergeSkip, "id,invoiceNumber\nfixed,INV-1\n")

	committed, err := env.svc.Commit(context.Background(), b.ID, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, committed.Status)
	assert.Equal(t, 1, committed.ErrorRows)
}

func TestCommit_Progress(t *testing.T) {
	env := newTestEnv(t)
	b := env.previewed(t, MergeSkip, "n\n1\n2\n3\n4\n")

	var seen []int
	_, err := env.svc.Commit(context.Background(), b.ID, CommitOptions{
		Progress: func(p int) { seen = append(seen, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50, 75, 100}, seen)
}

func TestCommit_InvalidResolution(t *testing.T) {
	env := newTestEnv(t)
	b := env.previewed(t, MergeManual, "n\n1\n", "n")

	_, err := env.svc.Commit(context.Background(), b.ID, CommitOptions{Resolutions: map[int]RowAction{1: ActionConflict}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCommit_CancelledMidway(t *testing.T) {
	env := newTestEnv(t)
	b := env.previewed(t, MergeSkip, "n\n1\n2\n3\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := env.svc.Commit(ctx, b.ID, CommitOptions{
		Progress: func(int) { cancel() },
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	got, err := env.svc.GetBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.ImportedRows)

	errs, err := env.svc.GetErrors(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].RowNumber)
	assert.False(t, env.svc.Limiter().Active(b.ID))
}

func TestCommit_TooManyCommits(t *testing.T) {
	env := newTestEnv(t)
	env.svc.limiter = NewCommitLimiter(1, 10_000_000)
	b := env.previewed(t, MergeSkip, "n\n1\n")

	require.NoError(t, env.svc.limiter.Acquire(context.Background(), "other"))
	defer env.svc.limiter.Release("other")

	_, err := env.svc.Commit(context.Background(), b.ID, CommitOptions{})
	assert.ErrorIs(t, err, ErrTooManyCommits)

	got, err := env.svc.GetBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPreview, got.Status, "a rejected commit leaves the batch untouched")
}

func TestRevert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.seed(t, "invoices", record.Record{"invoiceNumber": "INV-1", "customer": "Old"})

	b := env.previewed(t, MergeOverwrite, "invoiceNumber,customer,memo\nINV-1,New,added\nINV-2,Other,x\n", "invoiceNumber")
	committed, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)
	require.Len(t, committed.AffectedIDs, 1)
	require.Len(t, committed.Snapshots, 1)
	assert.Equal(t, []string{"memo"}, committed.Snapshots[0].Removed)

	res, err := env.svc.Revert(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, res.Status)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Restored)
	assert.Equal(t, 2, res.RevertedCount)

	c, err := env.store.Collection(ctx, "invoices")
	require.NoError(t, err)
	for _, id := range committed.AffectedIDs {
		_, err := c.Get(ctx, id)
		assert.True(t, record.IsNotFound(err), "inserted record %s should be gone", id)
	}
	orig, err := c.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, record.Record{"id": ids[0], "invoiceNumber": "INV-1", "customer": "Old"}, orig)

	got, err := env.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, got.Status)
	assert.NotNil(t, got.RevertedAt)

	reverted := env.events.named(EventBatchReverted)
	require.Len(t, reverted, 1)
	assert.Equal(t, BatchRevertedPayload{BatchID: b.ID, RevertedCount: 2}, reverted[0].Payload)

	_, err = env.svc.Revert(ctx, b.ID)
	assert.True(t, IsStateError(err))
}

func TestRevert_ToleratesMissingRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.previewed(t, MergeSkip, "n\n1\n2\n")
	committed, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)

	c, err := env.store.Collection(ctx, "invoices")
	require.NoError(t, err)
	require.NoError(t, c.Remove(ctx, committed.AffectedIDs[0]))

	res, err := env.svc.Revert(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Missing)
	assert.Empty(t, env.all(t, "invoices"))
}

func TestRevert_RepeatedUpdatesRestoreOriginal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.seed(t, "invoices", record.Record{"invoiceNumber": "INV-1", "customer": "Original"})

	b := env.previewed(t, MergeOverwrite, "invoiceNumber,customer\nINV-1,Second\nINV-1,Third\n", "invoiceNumber")
	_, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)
	_, err = env.svc.Revert(ctx, b.ID)
	require.NoError(t, err)

	c, err := env.store.Collection(ctx, "invoices")
	require.NoError(t, err)
	rec, err := c.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Original", rec["customer"])
}

func TestRevert_RestoresNullFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := env.seed(t, "invoices", record.Record{"invoiceNumber": "INV-1", "customer": nil})

	b := env.previewed(t, MergeOverwrite, "invoiceNumber,customer,memo\nINV-1,Acme,note\n", "invoiceNumber")
	committed, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)
	require.Len(t, committed.Snapshots, 1)
	assert.Equal(t, []string{"memo"}, committed.Snapshots[0].Removed)

	_, err = env.svc.Revert(ctx, b.ID)
	require.NoError(t, err)

	c, err := env.store.Collection(ctx, "invoices")
	require.NoError(t, err)
	rec, err := c.Get(ctx, ids[0])
	require.NoError(t, err)
	customer, hasCustomer := rec["customer"]
	assert.True(t, hasCustomer, "null field must survive revert")
	assert.Nil(t, customer)
	assert.NotContains(t, rec, "memo")
}

func TestBatchLocksAreReleased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := env.svc.GetErrors(ctx, fmt.Sprintf("missing-%d", i))
		assert.True(t, IsNotFound(err))
		_, err = env.svc.Commit(ctx, fmt.Sprintf("missing-%d", i), CommitOptions{})
		assert.True(t, IsNotFound(err))
	}
	assert.Equal(t, 0, env.svc.lockCount())

	b := env.previewed(t, MergeSkip, "n\n1\n")
	_, err := env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, env.svc.lockCount())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.Revert(ctx, b.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, env.svc.lockCount())
	got, err := env.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, got.Status)
}

func TestDeleteBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.uploaded(t, MergeSkip, "n\n1\n")

	err := env.svc.DeleteBatch(ctx, b.ID)
	assert.True(t, IsStateError(err), "validating batches cannot be deleted")

	_, err = env.svc.Validate(ctx, b.ID, []ValidationRule{{Field: "n", Kind: RuleDataType, DataType: TypeBoolean}})
	require.NoError(t, err)
	_, err = env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteBatch(ctx, b.ID))
	_, err = env.svc.GetBatch(ctx, b.ID)
	assert.True(t, IsNotFound(err))
	_, err = env.svc.GetErrors(ctx, b.ID)
	assert.True(t, IsNotFound(err))
	assert.Empty(t, env.find(t, ErrorCollection, "batchId", b.ID))
	assert.Len(t, env.all(t, "invoices"), 1, "imported records survive batch deletion")

	history, err := env.svc.GetHistory(ctx, b.ID)
	require.NoError(t, err)
	actions := make([]HistoryAction, len(history))
	for i, h := range history {
		actions[i] = h.Action
	}
	assert.Equal(t, []HistoryAction{HistoryCreated, HistoryUploaded, HistoryValidated, HistoryCommitted, HistoryDeleted}, actions)
}

func TestListBatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.uploaded(t, MergeSkip, "n\n1\n")
	second, err := env.svc.CreateBatch(ctx, CreateBatchRequest{Name: "b", SourceFormat: FormatCSV, TargetCollection: "bills"})
	require.NoError(t, err)

	all, err := env.svc.ListBatches(ctx, BatchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")
	assert.Nil(t, all[1].Rows)

	pending, err := env.svc.ListBatches(ctx, BatchFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	invoices, err := env.svc.ListBatches(ctx, BatchFilter{TargetCollection: "invoices"})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, first.ID, invoices[0].ID)
}

func TestMappingsAndTransformsFlowIntoRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.uploaded(t, MergeSkip, "Invoice #,Invoice Date,Total,Cust\nINV-9,03/15/2024,\"$1,250.50\", acme \n")

	_, err := env.svc.SaveMappings(ctx, b.ID, []FieldMapping{
		{SourceField: "Invoice #", TargetField: "invoiceNumber"},
		{SourceField: "Invoice Date", TargetField: "invoiceDate", Transform: TransformDate},
		{SourceField: "Total", TargetField: "amount", Transform: TransformNumber},
		{SourceField: "Cust", TargetField: "customer", Transform: TransformTrim},
	})
	require.NoError(t, err)
	_, err = env.svc.Validate(ctx, b.ID, nil)
	require.NoError(t, err)
	_, err = env.svc.Commit(ctx, b.ID, CommitOptions{})
	require.NoError(t, err)

	recs := env.all(t, "invoices")
	require.Len(t, recs, 1)
	assert.Equal(t, "INV-9", recs[0]["invoiceNumber"])
	assert.Equal(t, "2024-03-15", recs[0]["invoiceDate"])
	assert.Equal(t, 1250.5, recs[0]["amount"])
	assert.Equal(t, "acme", recs[0]["customer"])
	assert.NotContains(t, recs[0], "Total")
}

func TestRequestMetaReachesHistoryAndEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithRequestMeta(context.Background(), RequestMeta{RequestID: "req-1", Actor: "alice", IPAddress: "10.0.0.1"})

	b, err := env.svc.CreateBatch(ctx, CreateBatchRequest{Name: "meta", SourceFormat: FormatCSV, TargetCollection: "invoices"})
	require.NoError(t, err)

	history, err := env.svc.GetHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "req-1", history[0].RequestID)
	assert.Equal(t, "alice", history[0].Actor)

	created := env.events.named(EventBatchCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "10.0.0.1", created[0].Meta.IPAddress)
}
