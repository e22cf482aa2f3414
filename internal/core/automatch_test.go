package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestMappings(t *testing.T) {
	tests := []struct {
		name      string
		format    SourceFormat
		header    string
		targets   []string
		want      string
		transform Transform
		conf      float64
	}{
		{"exact", FormatCSV, "invoiceNumber", []string{"customer", "invoiceNumber"}, "invoiceNumber", TransformNone, 1.0},
		{"normalised exact", FormatCSV, "Invoice Number", []string{"invoiceNumber"}, "invoiceNumber", TransformNone, 1.0},
		{"substring", FormatCSV, "Invoice", []string{"invoiceNumber"}, "invoiceNumber", TransformNone, 0.7},
		{"shared words", FormatCSV, "Customer Full Name", []string{"customerName"}, "customerName", TransformNone, 0.4},
		{"short words ignored", FormatCSV, "PO ID", []string{"poNumber"}, "", TransformNone, 0},
		{"no match", FormatCSV, "zzz", []string{"amount"}, "", TransformNone, 0},
		{"date transform", FormatCSV, "Invoice Date", []string{"invoiceDate"}, "invoiceDate", TransformDate, 1.0},
		{"number transform", FormatCSV, "amount", []string{"amount"}, "amount", TransformNumber, 1.0},
		{"vendor dictionary", FormatQuickBooks, "Num", []string{"amount", "referenceNumber"}, "referenceNumber", TransformNone, 0.95},
		{"ledger uses quickbooks dictionary", FormatIIF, "ACCNT", []string{"account"}, "account", TransformNone, 0.95},
		{"vendor target missing falls back", FormatQuickBooks, "Num", []string{"number"}, "number", TransformNone, 0.7},
		{"first best wins", FormatCSV, "Total", []string{"totalAmount", "totalCost"}, "totalAmount", TransformNumber, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SuggestMappings(tt.format, []string{tt.header}, tt.targets, nil)
			require.Len(t, got, 1)
			assert.Equal(t, tt.header, got[0].SourceField)
			assert.Equal(t, tt.want, got[0].TargetField)
			assert.Equal(t, tt.transform, got[0].Transform)
			assert.InDelta(t, tt.conf, got[0].Confidence, 1e-9)
		})
	}
}

func TestSuggestMappings_KeepsHeaderOrder(t *testing.T) {
	headers := []string{"Amount", "Customer", "Memo"}
	got := SuggestMappings(FormatCSV, headers, []string{"customer", "amount"}, nil)
	require.Len(t, got, 3)
	for i, h := range headers {
		assert.Equal(t, h, got[i].SourceField)
	}
	assert.Equal(t, FieldMapping{SourceField: "Amount", TargetField: "amount", Transform: TransformNumber}, got[0].Mapping())
	assert.Empty(t, got[2].TargetField)
}
