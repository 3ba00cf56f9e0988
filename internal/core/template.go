package core

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// TemplateFilename returns the download name for an entity template.
func TemplateFilename(def EntityDefinition, format Format) string {
	return fmt.Sprintf("%s_import_template.%s", def.Key, format)
}

// WriteTemplate writes an empty import file for def with one example row.
// CSV and XLSX headers use field labels, marking required fields with " *".
func WriteTemplate(w io.Writer, format Format, def EntityDefinition) error {
	switch format {
	case FormatCSV:
		return writeCSVTemplate(w, def)
	case FormatXLSX:
		return writeXLSXTemplate(w, def)
	case FormatJSON:
		return writeJSONTemplate(w, def)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func templateHeader(f FieldSpec) string {
	label := f.Label
	if label == "" {
		label = f.Key
	}
	if f.Required {
		return label + " *"
	}
	return label
}

func writeCSVTemplate(w io.Writer, def EntityDefinition) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(def.Fields))
	example := make([]string, len(def.Fields))
	for i, f := range def.Fields {
		header[i] = templateHeader(f)
		example[i] = f.Example
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.Write(example); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func writeJSONTemplate(w io.Writer, def EntityDefinition) error {
	example := make(map[string]string, len(def.Fields))
	for _, f := range def.Fields {
		example[f.Key] = f.Example
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"items": []map[string]string{example}})
}

func writeXLSXTemplate(w io.Writer, def EntityDefinition) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := def.SheetName()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	requiredStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	for i, field := range def.Fields {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, templateHeader(field)); err != nil {
			return err
		}
		style := headerStyle
		if field.Required {
			style = requiredStyle
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}

		example, _ := excelize.CoordinatesToCellName(i+1, 2)
		if err := f.SetCellValue(sheet, example, field.Example); err != nil {
			return err
		}

		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, 18); err != nil {
			return err
		}
	}

	if err := writeInstructions(f, def); err != nil {
		return err
	}

	idx, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(idx)
	return f.Write(w)
}

// writeInstructions adds a sheet describing each column.
func writeInstructions(f *excelize.File, def EntityDefinition) error {
	const sheet = "Instructions"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create instructions sheet: %w", err)
	}

	rows := [][]any{{"Column", "Type", "Required", "Description"}}
	for _, field := range def.Fields {
		required := "no"
		if field.Required {
			required = "yes"
		}
		rows = append(rows, []any{templateHeader(field), field.Type.String(), required, field.Description})
	}
	rows = append(rows,
		[]any{},
		[]any{"Images must be http(s) URLs. Upload images to storage first; embedded Base64 data is rejected."},
		[]any{fmt.Sprintf("Columns marked * are required. Keep the %q sheet name.", def.SheetName())},
	)

	for i, row := range rows {
		row := row
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheet, "A", "A", 24)
}

// DescribeFields renders one line per field with its type, for CLI help.
func DescribeFields(def EntityDefinition) string {
	var b strings.Builder
	for _, f := range def.Fields {
		marker := ""
		if f.Required {
			marker = " (required)"
		}
		fmt.Fprintf(&b, "  %-20s %-8s%s\n", f.Key, f.Type, marker)
	}
	return b.String()
}
