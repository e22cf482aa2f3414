package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		filename   string
		wantFormat SourceFormat
		wantDelim  string
		wantConf   float64
		wantHeads  []string
	}{
		{
			name:       "comma separated",
			content:    "id,label,value\n1,a,2\n",
			wantFormat: FormatCSV,
			wantDelim:  ",",
			wantConf:   0.8,
			wantHeads:  []string{"id", "label", "value"},
		},
		{
			name:       "tab separated",
			content:    "id\tlabel\tvalue\n1\ta\t2\n",
			wantFormat: FormatTSV,
			wantDelim:  "\t",
			wantConf:   0.8,
			wantHeads:  []string{"id", "label", "value"},
		},
		{
			name:       "semicolon wins over comma",
			content:    "id;label;value,extra\n1;a;2\n",
			wantFormat: FormatCSV,
			wantDelim:  ";",
			wantConf:   0.8,
			wantHeads:  []string{"id", "label", "value,extra"},
		},
		{
			name:       "single column falls back to comma",
			content:    "id\n1\n",
			wantFormat: FormatCSV,
			wantDelim:  ",",
			wantConf:   0.5,
			wantHeads:  []string{"id"},
		},
		{
			name:       "quickbooks headers",
			content:    "Date,Num,Name,Memo,Amount\n01/02/2024,1001,Acme,Consulting,500\n",
			wantFormat: FormatQuickBooks,
			wantDelim:  ",",
			wantConf:   0.95,
			wantHeads:  []string{"Date", "Num", "Name", "Memo", "Amount"},
		},
		{
			name:       "xero headers",
			content:    "ContactName,InvoiceNumber,InvoiceDate,Total\nAcme,INV-1,2024-01-02,10\n",
			wantFormat: FormatXero,
			wantDelim:  ",",
			wantConf:   0.9,
			wantHeads:  []string{"ContactName", "InvoiceNumber", "InvoiceDate", "Total"},
		},
		{
			name:       "ledger exchange",
			content:    "!TRNS\tDATE\tACCNT\tAMOUNT\nTRNS\t1/2/2024\tBank\t100\n",
			wantFormat: FormatIIF,
			wantDelim:  "\t",
			wantConf:   0.95,
			wantHeads:  []string{"DATE", "ACCNT", "AMOUNT"},
		},
		{
			name:       "json array",
			content:    `[{"a": 1, "b": "x"}]`,
			wantFormat: FormatJSON,
			wantConf:   0.95,
			wantHeads:  []string{"a", "b"},
		},
		{
			name:       "json data envelope",
			content:    `{"data": [{"code": "C1"}]}`,
			wantFormat: FormatJSON,
			wantConf:   0.95,
			wantHeads:  []string{"code"},
		},
		{
			name:       "malformed json is treated as delimited",
			content:    "{bad,json\n1,2\n",
			wantFormat: FormatCSV,
			wantDelim:  ",",
			wantConf:   0.8,
			wantHeads:  []string{"{bad", "json"},
		},
		{
			name:       "byte order mark is ignored",
			content:    "\xEF\xBB\xBFid,name\n1,a\n",
			wantFormat: FormatCSV,
			wantDelim:  ",",
			wantConf:   0.8,
			wantHeads:  []string{"id", "name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect([]byte(tt.content), tt.filename, nil)
			assert.Equal(t, tt.wantFormat, got.Format)
			assert.Equal(t, tt.wantDelim, got.Delimiter)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, tt.wantHeads, got.Headers)
		})
	}
}

func TestDetect_IsDeterministic(t *testing.T) {
	content := []byte("Invoice No,Customer ID,Total\nINV-1,C1,10\n")
	first := Detect(content, "export.csv", nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Detect(content, "export.csv", nil))
	}
}

func TestDetect_GuessesTargetCollection(t *testing.T) {
	tests := []struct {
		headers string
		want    string
	}{
		{"invoice_no,customer_id,total", "invoices"},
		{"bill_ref,vendor,due", "bills"},
		{"employee,department", "employees"},
		{"foo,bar", ""},
	}
	for _, tt := range tests {
		t.Run(tt.headers, func(t *testing.T) {
			got := Detect([]byte(tt.headers+"\n1,2,3\n"), "", nil)
			assert.Equal(t, tt.want, got.TargetCollection)
		})
	}
}

func TestDetect_ExtensionHint(t *testing.T) {
	got := Detect([]byte("!ACCNT\tNAME\tACCNTTYPE\nACCNT\tBank\tBANK\n"), "chart.IIF", nil)
	assert.Equal(t, FormatIIF, got.Format)
	assert.Equal(t, []string{"NAME", "ACCNTTYPE"}, got.Headers)
}

func TestDetect_Spreadsheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"invoice", "customer", "amount"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"INV-1", "Acme", 12.5}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	got := Detect(buf.Bytes(), "", nil)
	assert.Equal(t, FormatXLSX, got.Format)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
	assert.Equal(t, []string{"invoice", "customer", "amount"}, got.Headers)
	assert.Equal(t, "invoices", got.TargetCollection)
}

func TestDetect_XLSXExtensionWithoutWorkbook(t *testing.T) {
	got := Detect([]byte("invoice,customer,amount\nINV-1,Acme,12.5\n"), "export.xlsx", nil)
	assert.Equal(t, FormatCSV, got.Format)
	assert.Equal(t, ",", got.Delimiter)
	assert.Equal(t, []string{"invoice", "customer", "amount"}, got.Headers)

	got = Detect([]byte("not a workbook"), "export.XLSX", nil)
	assert.NotEqual(t, FormatXLSX, got.Format)
}
