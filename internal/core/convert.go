package core

// convert.go turns decoded record values into PostgreSQL parameter types.
//
// Record values arrive as strings from CSV and XLSX and as JSON scalars from
// JSON bodies, so every converter accepts any of them:
//   - Currency symbols and thousand separators in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Multiple date formats (US, EU, ISO)
//   - Excel formula prefixes (="value")
//
// All converters return pgtype values with Valid=false for empty input,
// allowing the database to store NULL. Invalid non-empty input is an error so
// the row fails with a readable message instead of silently losing data.

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are moved
// to the previous century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		time.RFC3339,
		"20060102",
	}
)

// FieldType is the storage type of an entity field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInt
	FieldNumeric
	FieldBool
	FieldDate
)

func (t FieldType) String() string {
	switch t {
	case FieldInt:
		return "integer"
	case FieldNumeric:
		return "number"
	case FieldBool:
		return "yes/no"
	case FieldDate:
		return "date"
	default:
		return "text"
	}
}

// CellString renders a record value as trimmed text. Whole floats print
// without a fractional part so JSON numbers used as identifiers survive.
func CellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return CleanCell(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// ToPgText converts a record value to pgtype.Text.
func ToPgText(v any) pgtype.Text {
	s := CellString(v)
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgNumeric converts a record value to pgtype.Numeric. Strings may carry
// currency symbols, thousands separators, or accounting parentheses.
func ToPgNumeric(v any) (pgtype.Numeric, error) {
	s := CellString(v)
	if s == "" {
		return pgtype.Numeric{}, nil
	}

	raw := s
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{}, fmt.Errorf("invalid number %q", raw)
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return n, nil
}

// ToPgInt4 converts a record value to pgtype.Int4. Fractional values are
// rejected rather than truncated.
func ToPgInt4(v any) (pgtype.Int4, error) {
	s := CellString(v)
	if s == "" {
		return pgtype.Int4{}, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return pgtype.Int4{}, fmt.Errorf("invalid whole number %q", s)
	}
	return pgtype.Int4{Int32: int32(n), Valid: true}, nil
}

// ToPgBool converts a record value to pgtype.Bool.
// Accepts true/false, yes/no, t/f, y/n, 1/0.
func ToPgBool(v any) (pgtype.Bool, error) {
	if b, ok := v.(bool); ok {
		return pgtype.Bool{Bool: b, Valid: true}, nil
	}
	s := strings.ToLower(CellString(v))
	switch s {
	case "":
		return pgtype.Bool{}, nil
	case "true", "t", "yes", "y", "1":
		return pgtype.Bool{Bool: true, Valid: true}, nil
	case "false", "f", "no", "n", "0":
		return pgtype.Bool{Bool: false, Valid: true}, nil
	default:
		return pgtype.Bool{}, fmt.Errorf("must be yes/no, true/false, or 1/0, got %q", s)
	}
}

// ToPgDate converts a record value to pgtype.Date.
// Supports multiple date formats and handles 2-digit years with a pivot.
func ToPgDate(v any) (pgtype.Date, error) {
	s := CellString(v)
	if s == "" {
		return pgtype.Date{}, nil
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return pgtype.Date{Time: t, Valid: true}, nil
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return pgtype.Date{Time: t, Valid: true}, nil
		}
	}

	return pgtype.Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
}

// ToPgUUID converts a string to pgtype.UUID.
// Returns invalid if the string is empty or not a valid UUID.
func ToPgUUID(s string) pgtype.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

// PgUUIDToString converts a pgtype.UUID to its string representation.
// Returns empty string if the UUID is invalid.
func PgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, the Excel formula prefix (="...") and
// surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}
