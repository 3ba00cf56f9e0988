package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func sampleDefinition() EntityDefinition {
	return EntityDefinition{
		Key:   "products",
		Label: "Products",
		Fields: []FieldSpec{
			{Key: "name", Label: "Name", Required: true, Example: "Desk lamp"},
			{Key: "sku", Label: "SKU", Required: true, Example: "LAMP-01"},
			{Key: "priceEur", Label: "Price EUR", Type: FieldNumeric, Example: "24.90"},
			{Key: "imageUrl", Label: "Image URL"},
		},
		Validate: ValidateProductImport,
		Upsert: func(_ context.Context, _ DBTX, item Record) (UpsertResult, error) {
			return UpsertResult{Key: item.String("sku"), Action: ActionCreated}, nil
		},
	}
}

// ----------------------------------------------------------------------------
// Format parsing
// ----------------------------------------------------------------------------

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"csv", FormatCSV, false},
		{".CSV", FormatCSV, false},
		{"xlsx", FormatXLSX, false},
		{"excel", FormatXLSX, false},
		{" json ", FormatJSON, false},
		{"xml", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("ParseFormat(%q) error should wrap ErrUnsupportedFormat", tt.in)
		}
	}

	if f, err := FormatFromFilename("stock.final.xlsx"); err != nil || f != FormatXLSX {
		t.Errorf("FormatFromFilename() = %q, %v", f, err)
	}
}

// ----------------------------------------------------------------------------
// CSV
// ----------------------------------------------------------------------------

func TestDecodeRecords_CSV(t *testing.T) {
	input := "\ufeffName *,sku,Price EUR,Warehouse Notes\n" +
		"Desk lamp,LAMP-01,24.90,back room\n" +
		",,,\n" +
		"  Chair ,=\"00042\",,\n"

	records, err := DecodeRecords(FormatCSV, strings.NewReader(input), sampleDefinition())
	if err != nil {
		t.Fatalf("DecodeRecords() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2 (empty row skipped)", len(records))
	}

	first := records[0]
	if first["name"] != "Desk lamp" || first["sku"] != "LAMP-01" || first["priceEur"] != "24.90" {
		t.Errorf("records[0] = %v", first)
	}
	if _, ok := first["Warehouse Notes"]; ok {
		t.Error("unknown column should be dropped")
	}

	second := records[1]
	if second["name"] != "Chair" || second["sku"] != "00042" {
		t.Errorf("records[1] = %v", second)
	}
	if _, ok := second["priceEur"]; ok {
		t.Error("empty cell should be absent from the record")
	}
}

func TestDecodeRecords_CSVUTF16(t *testing.T) {
	// UTF-16LE with BOM, as written by some spreadsheet exports.
	text := "name,sku\nLampa,L1\n"
	buf := []byte{0xFF, 0xFE}
	for _, r := range text {
		buf = append(buf, byte(r), 0)
	}

	records, err := DecodeRecords(FormatCSV, bytes.NewReader(buf), sampleDefinition())
	if err != nil {
		t.Fatalf("DecodeRecords() error = %v", err)
	}
	if len(records) != 1 || records[0]["name"] != "Lampa" {
		t.Errorf("records = %v", records)
	}
}

func TestDecodeRecords_CSVErrors(t *testing.T) {
	def := sampleDefinition()

	if _, err := DecodeRecords(FormatCSV, strings.NewReader("foo,bar\n1,2\n"), def); err == nil {
		t.Error("header without known columns should fail")
	}
	if _, err := DecodeRecords(FormatCSV, strings.NewReader("name,sku\n"), def); !errors.Is(err, ErrNoRecords) {
		t.Errorf("header only: err = %v, want ErrNoRecords", err)
	}
	if _, err := DecodeRecords(Format("xml"), strings.NewReader(""), def); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("xml: err = %v, want ErrUnsupportedFormat", err)
	}
}

// ----------------------------------------------------------------------------
// JSON
// ----------------------------------------------------------------------------

func TestDecodeRecords_JSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"array", `[{"name":"Lamp","SKU":"L1","priceEur":12.5,"extra":true}]`},
		{"items wrapper", `{"items":[{"name":"Lamp","SKU":"L1","priceEur":12.5,"extra":true}]}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			records, err := DecodeRecords(FormatJSON, strings.NewReader(tt.input), sampleDefinition())
			if err != nil {
				t.Fatalf("DecodeRecords() error = %v", err)
			}
			if len(records) != 1 {
				t.Fatalf("len(records) = %d, want 1", len(records))
			}
			rec := records[0]
			if rec["sku"] != "L1" {
				t.Errorf("label header not mapped: %v", rec)
			}
			if n, ok := rec["priceEur"].(json.Number); !ok || n.String() != "12.5" {
				t.Errorf("priceEur = %#v, want json.Number 12.5", rec["priceEur"])
			}
			if rec["extra"] != true {
				t.Errorf("unknown JSON keys should be kept: %v", rec)
			}
		})
	}
}

func TestDecodeRecords_JSONInvalid(t *testing.T) {
	for _, input := range []string{`{"items":`, `"text"`, `[1,2]`} {
		if _, err := DecodeRecords(FormatJSON, strings.NewReader(input), sampleDefinition()); err == nil {
			t.Errorf("DecodeRecords(%q) should fail", input)
		}
	}
	if _, err := DecodeRecords(FormatJSON, strings.NewReader(`[]`), sampleDefinition()); !errors.Is(err, ErrNoRecords) {
		t.Errorf("empty array: err = %v, want ErrNoRecords", err)
	}
}

// ----------------------------------------------------------------------------
// XLSX
// ----------------------------------------------------------------------------

func TestDecodeRecords_XLSXPrefersEntitySheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow("Sheet1", "A1", &[]any{"unrelated"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewSheet("Products"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Products", "A1", &[]any{"Name *", "SKU *", "Price EUR"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Products", "A2", &[]any{"Lamp", "L1", 9.5}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}

	records, err := DecodeRecords(FormatXLSX, &buf, sampleDefinition())
	if err != nil {
		t.Fatalf("DecodeRecords() error = %v", err)
	}
	if len(records) != 1 || records[0]["name"] != "Lamp" || records[0]["priceEur"] != "9.5" {
		t.Errorf("records = %v", records)
	}
}

// ----------------------------------------------------------------------------
// Templates
// ----------------------------------------------------------------------------

func TestWriteTemplate_RoundTrip(t *testing.T) {
	def := sampleDefinition()

	for _, format := range []Format{FormatCSV, FormatXLSX, FormatJSON} {
		format := format
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteTemplate(&buf, format, def); err != nil {
				t.Fatalf("WriteTemplate() error = %v", err)
			}

			records, err := DecodeRecords(format, &buf, def)
			if err != nil {
				t.Fatalf("DecodeRecords(template) error = %v", err)
			}
			if len(records) != 1 {
				t.Fatalf("len(records) = %d, want the example row", len(records))
			}
			if records[0]["sku"] != "LAMP-01" || records[0]["name"] != "Desk lamp" {
				t.Errorf("example row = %v", records[0])
			}
		})
	}
}

func TestWriteTemplate_CSVHeaders(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTemplate(&buf, FormatCSV, sampleDefinition()); err != nil {
		t.Fatal(err)
	}
	header := strings.SplitN(buf.String(), "\n", 2)[0]
	if header != "Name *,SKU *,Price EUR,Image URL" {
		t.Errorf("header = %q", header)
	}
}

func TestWriteTemplate_XLSXInstructions(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTemplate(&buf, FormatXLSX, sampleDefinition()); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "Products" || sheets[1] != "Instructions" {
		t.Errorf("sheets = %v", sheets)
	}
	if v, _ := f.GetCellValue("Instructions", "C2"); v != "yes" {
		t.Errorf("Instructions!C2 = %q, want yes", v)
	}
}

func TestTemplateFilename(t *testing.T) {
	if got := TemplateFilename(sampleDefinition(), FormatXLSX); got != "products_import_template.xlsx" {
		t.Errorf("TemplateFilename() = %q", got)
	}
}
