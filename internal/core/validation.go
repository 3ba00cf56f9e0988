package core

// validation.go holds the per-entity checks that run before a bulk import.
//
// Validators never drop records. Every input record comes back in Valid, in
// order, with offending fields set to nil; the problems found are reported as
// one "Item N (label): problem, problem" string per record. Processing errors
// produced later are appended to the same list by FormatImportResponse.

import (
	"fmt"
	"strings"
)

// Required-field messages.
const (
	MsgMissingNameAndSKU = "Missing required fields: name and sku"
	MsgMissingName       = "Missing required field: name"
	MsgBase64DataField   = "Base64 data not allowed. Upload image to storage first."
)

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Field/column name
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationOutcome is the result of an entity validator.
type ValidationOutcome struct {
	Valid  []Record `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateProductImport requires name and sku, clears an invalid imageUrl,
// and clears any field holding an oversized data: URL.
func ValidateProductImport(items []Record) ValidationOutcome {
	return validateRecords(items, func(item Record) []ValidationError {
		var errs []ValidationError
		if !hasText(item, "name") || !hasText(item, "sku") {
			errs = append(errs, ValidationError{Message: MsgMissingNameAndSKU})
		}
		if e, ok := checkImageURL(item); !ok {
			errs = append(errs, e)
		}
		for _, key := range sortedKeys(item) {
			s, ok := item[key].(string)
			if !ok || len(s) <= LargeFieldLength || !strings.HasPrefix(s, "data:") {
				continue
			}
			errs = append(errs, ValidationError{Field: key, Value: TruncateString(s, 32), Message: MsgBase64DataField})
			item[key] = nil
		}
		return errs
	}, "name", "sku")
}

// ValidateCustomerImport requires name and clears an invalid imageUrl.
func ValidateCustomerImport(items []Record) ValidationOutcome {
	return validateRecords(items, func(item Record) []ValidationError {
		var errs []ValidationError
		if !hasText(item, "name") {
			errs = append(errs, ValidationError{Message: MsgMissingName})
		}
		if e, ok := checkImageURL(item); !ok {
			errs = append(errs, e)
		}
		return errs
	}, "name")
}

// ValidateSupplierImport requires name.
func ValidateSupplierImport(items []Record) ValidationOutcome {
	return validateRecords(items, func(item Record) []ValidationError {
		if !hasText(item, "name") {
			return []ValidationError{{Message: MsgMissingName}}
		}
		return nil
	}, "name")
}

// validateRecords applies check to every item in place. labelFields name the
// fields tried, in order, to identify an item in error messages.
func validateRecords(items []Record, check func(Record) []ValidationError, labelFields ...string) ValidationOutcome {
	out := ValidationOutcome{
		Valid:  make([]Record, 0, len(items)),
		Errors: []string{},
	}

	for i, item := range items {
		if item == nil {
			item = Record{}
		}
		if errs := check(item); len(errs) > 0 {
			msgs := make([]string, len(errs))
			for j, e := range errs {
				msgs[j] = e.Error()
			}
			out.Errors = append(out.Errors, fmt.Sprintf("Item %d (%s): %s",
				i+1, itemLabel(item, labelFields), strings.Join(msgs, ", ")))
		}
		out.Valid = append(out.Valid, item)
	}

	return out
}

// checkImageURL validates a populated imageUrl and clears it when invalid.
func checkImageURL(item Record) (ValidationError, bool) {
	v, ok := item["imageUrl"]
	if !ok || !isPopulated(v) {
		return ValidationError{}, true
	}
	res := ValidateImageValue(v)
	if res.Valid {
		return ValidationError{}, true
	}
	item["imageUrl"] = nil
	return ValidationError{Field: "imageUrl", Message: res.Error}, false
}

func hasText(item Record, field string) bool { return isPopulated(item[field]) }

func itemLabel(item Record, fields []string) string {
	for _, f := range fields {
		if !hasText(item, f) {
			continue
		}
		if s, ok := item[f].(string); ok {
			return strings.TrimSpace(s)
		}
		return fmt.Sprint(item[f])
	}
	return "unknown"
}
