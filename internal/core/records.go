package core

// records.go decodes uploaded files into Records.
//
// CSV and XLSX headers are matched against the entity's fields by key or
// label, case-insensitively, with the template's " *" required marker
// removed. Columns that match no field are dropped. JSON objects keep their
// keys, with labels mapped to keys. Empty rows are skipped.

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format is an upload file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned for anything other than json, csv or xlsx.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ErrNoRecords is returned when a file decodes to zero records.
var ErrNoRecords = errors.New("no records found")

// ParseFormat parses a format name. "excel" and "xls" are accepted as xlsx.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx", "xls", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q (use json, csv or xlsx)", ErrUnsupportedFormat, s)
	}
}

// FormatFromFilename picks a format from the file extension.
func FormatFromFilename(name string) (Format, error) {
	return ParseFormat(filepath.Ext(name))
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// DecodeRecords reads every record in r for def.
func DecodeRecords(format Format, r io.Reader, def EntityDefinition) ([]Record, error) {
	var (
		records []Record
		err     error
	)
	switch format {
	case FormatJSON:
		records, err = decodeJSON(r, def)
	case FormatCSV:
		records, err = decodeCSV(r, def)
	case FormatXLSX:
		records, err = decodeXLSX(r, def)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

// textReader strips a UTF-8 or UTF-16 byte order mark, decodes UTF-16 when
// the mark says so, and replaces invalid UTF-8 with U+FFFD.
func textReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

func decodeJSON(r io.Reader, def EntityDefinition) ([]Record, error) {
	dec := json.NewDecoder(textReader(r))
	dec.UseNumber()

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var items []map[string]any
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Items []map[string]any `json:"items"`
		}
		if err := unmarshalNumbers(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		items = wrapper.Items
	} else if err := unmarshalNumbers(trimmed, &items); err != nil {
		return nil, fmt.Errorf("invalid JSON: expected an array of objects: %w", err)
	}

	headers := newHeaderMap(def)
	records := make([]Record, 0, len(items))
	for _, item := range items {
		rec := make(Record, len(item))
		for k, v := range item {
			if key, ok := headers.lookup(k); ok {
				rec[key] = v
			} else {
				rec[k] = v
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeCSV(r io.Reader, def EntityDefinition) ([]Record, error) {
	cr := csv.NewReader(textReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV: %w", err)
	}
	return rowsToRecords(rows, def)
}

func decodeXLSX(r io.Reader, def EntityDefinition) ([]Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("no sheets found in Excel file")
	}

	sheet := sheets[0]
	for _, name := range sheets {
		if strings.EqualFold(name, def.SheetName()) || strings.EqualFold(name, def.Key) {
			sheet = name
			break
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rowsToRecords(rows, def)
}

// rowsToRecords treats the first row as headers.
func rowsToRecords(rows [][]string, def EntityDefinition) ([]Record, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	headers := newHeaderMap(def)
	keys := make([]string, len(rows[0]))
	matched := 0
	for i, h := range rows[0] {
		if key, ok := headers.lookup(h); ok {
			keys[i] = key
			matched++
		}
	}
	if matched == 0 {
		return nil, fmt.Errorf("no recognised columns in header row for %s", def.Key)
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}
		rec := make(Record, matched)
		for i, value := range row {
			if i >= len(keys) || keys[i] == "" {
				continue
			}
			if v := CleanCell(value); v != "" {
				rec[keys[i]] = v
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// headerMap resolves a column header to a field key.
type headerMap map[string]string

func newHeaderMap(def EntityDefinition) headerMap {
	m := make(headerMap, len(def.Fields)*2)
	for _, f := range def.Fields {
		m[normalizeHeader(f.Key)] = f.Key
		if f.Label != "" {
			m[normalizeHeader(f.Label)] = f.Key
		}
	}
	return m
}

func (m headerMap) lookup(header string) (string, bool) {
	key, ok := m[normalizeHeader(header)]
	return key, ok
}

func normalizeHeader(h string) string {
	h = strings.TrimSpace(CleanCell(h))
	h = strings.TrimSpace(strings.TrimSuffix(h, "*"))
	return strings.ToLower(h)
}
