package core

// imagecheck.go keeps embedded image payloads out of storage. Image fields
// must hold an http(s) URL or a relative path; Base64 data, whether a data
// URL or a raw blob, is rejected and the field is cleared.

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// rawBase64MinLength is the length above which a bare Base64 string is sniffed.
	rawBase64MinLength = 1000

	// rawBase64UndecodableLength flags long Base64-looking strings that fail to decode.
	rawBase64UndecodableLength = 5000

	// LargeFieldLength is the size above which non-image fields are checked.
	LargeFieldLength = 10000
)

// Image validation messages.
const (
	MsgBase64NotAllowed  = "Base64 images are not allowed. Please provide a URL to an uploaded image."
	MsgImageProtocol     = "Image URL must use http or https protocol"
	MsgInvalidImageURL   = "Invalid image URL format"
	MsgBase64InField     = "Contains Base64 image data which is not allowed"
	MsgAllFieldsRejected = "all populated fields were removed during sanitization"
)

// DefaultImageFields are the record fields treated as image references.
var DefaultImageFields = []string{"imageUrl", "image", "thumbnailUrl"}

var base64Alphabet = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// image signatures as hex: PNG, JPEG, GIF, RIFF (WebP).
var imageMagic = []string{"89504e47", "ffd8ff", "47494638", "52494646"}

// IsBase64Image reports whether s looks like embedded image data: a
// data:image/ URL, or a long pure-Base64 string whose decoded prefix carries
// a known image signature.
func IsBase64Image(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "data:image/") {
		return true
	}
	if len(s) <= rawBase64MinLength || !base64Alphabet.MatchString(s) {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(s[:100])
	if err != nil {
		return len(s) > rawBase64UndecodableLength
	}
	prefix := hex.EncodeToString(decoded)
	for _, magic := range imageMagic {
		if strings.HasPrefix(prefix, magic) {
			return true
		}
	}
	return false
}

// ImageValidation is the result of checking one image reference.
// URL is nil when the field should be stored empty.
type ImageValidation struct {
	Valid bool    `json:"valid"`
	URL   *string `json:"url"`
	Error string  `json:"error,omitempty"`
}

// ValidateImageURL accepts empty input, http(s) URLs and relative paths
// starting with "/" or "./". Base64 payloads and other schemes are rejected.
// Whitespace only counts for the emptiness check; a padded URL is invalid.
func ValidateImageURL(s string) ImageValidation {
	if strings.TrimSpace(s) == "" {
		return ImageValidation{Valid: true}
	}

	if IsBase64Image(s) {
		return ImageValidation{Error: MsgBase64NotAllowed}
	}

	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return ImageValidation{Valid: true, URL: &s}
		default:
			return ImageValidation{Error: MsgImageProtocol}
		}
	}

	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") {
		return ImageValidation{Valid: true, URL: &s}
	}
	return ImageValidation{Error: MsgInvalidImageURL}
}

// ValidateImageValue validates a decoded record value. Non-string values
// other than nil are never valid image references.
func ValidateImageValue(v any) ImageValidation {
	switch val := v.(type) {
	case nil:
		return ImageValidation{Valid: true}
	case string:
		return ValidateImageURL(val)
	default:
		return ImageValidation{Error: MsgInvalidImageURL}
	}
}

// EmptyRecordPolicy decides the fate of a record whose every populated field
// was cleared by sanitization.
type EmptyRecordPolicy string

const (
	// KeepEmptyRecords passes such records on with errors recorded.
	KeepEmptyRecords EmptyRecordPolicy = "keep"
	// RejectEmptyRecords drops them from the valid set.
	RejectEmptyRecords EmptyRecordPolicy = "reject"
)

// ParseEmptyRecordPolicy maps a config value to a policy, defaulting to keep.
func ParseEmptyRecordPolicy(s string) EmptyRecordPolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(RejectEmptyRecords)) {
		return RejectEmptyRecords
	}
	return KeepEmptyRecords
}

// SanitizeOptions configures SanitizeBulkImportData.
type SanitizeOptions struct {
	// ImageFields defaults to DefaultImageFields.
	ImageFields  []string
	EmptyRecords EmptyRecordPolicy
}

// InvalidRecord is a sanitized record that had at least one field cleared.
// Rejected records were left out of Valid by the reject policy.
type InvalidRecord struct {
	Index    int      `json:"index"`
	Item     Record   `json:"item"`
	Errors   []string `json:"errors"`
	Rejected bool     `json:"rejected,omitempty"`
}

// SanitizeResult holds the sanitized records. Valid keeps input order;
// Positions[i] is the input index of Valid[i].
type SanitizeResult struct {
	Valid     []Record
	Positions []int
	Invalid   []InvalidRecord
}

// SanitizeBulkImportData copies every record and clears offending fields:
// image fields that fail ValidateImageValue, and any other string field
// longer than LargeFieldLength that sniffs as Base64 image data. Records
// with errors appear in Invalid and, under the keep policy, also in Valid.
func SanitizeBulkImportData(items []Record, opts SanitizeOptions) SanitizeResult {
	imageFields := opts.ImageFields
	if len(imageFields) == 0 {
		imageFields = DefaultImageFields
	}
	isImageField := make(map[string]bool, len(imageFields))
	for _, f := range imageFields {
		isImageField[f] = true
	}

	res := SanitizeResult{
		Valid:     make([]Record, 0, len(items)),
		Positions: make([]int, 0, len(items)),
	}

	for i, item := range items {
		rec := item.Clone()
		populated := countPopulated(rec)
		cleared := 0
		var errs []string

		for _, field := range imageFields {
			v, ok := rec[field]
			if !ok {
				continue
			}
			if check := ValidateImageValue(v); !check.Valid {
				errs = append(errs, fmt.Sprintf("%s: %s", field, check.Error))
				if isPopulated(v) {
					cleared++
				}
				rec[field] = nil
			}
		}

		for _, key := range sortedKeys(rec) {
			s, ok := rec[key].(string)
			if !ok || len(s) <= LargeFieldLength || isImageField[key] {
				continue
			}
			if IsBase64Image(s) {
				errs = append(errs, fmt.Sprintf("%s: %s", key, MsgBase64InField))
				rec[key] = nil
				cleared++
			}
		}

		allCleared := populated > 0 && cleared == populated
		if allCleared && opts.EmptyRecords == RejectEmptyRecords {
			errs = append(errs, MsgAllFieldsRejected)
			res.Invalid = append(res.Invalid, InvalidRecord{Index: i, Item: rec, Errors: errs, Rejected: true})
			continue
		}

		if len(errs) > 0 {
			res.Invalid = append(res.Invalid, InvalidRecord{Index: i, Item: rec, Errors: errs})
		}
		res.Valid = append(res.Valid, rec)
		res.Positions = append(res.Positions, i)
	}

	return res
}

func isPopulated(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	default:
		return true
	}
}

func countPopulated(r Record) int {
	n := 0
	for _, v := range r {
		if isPopulated(v) {
			n++
		}
	}
	return n
}

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TruncateString shortens s to at most maxLen characters, replacing the tail
// with "..." when it had to cut.
func TruncateString(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// NumericOptions bounds ParseNumericValue. Nil fields are unset.
type NumericOptions struct {
	Min     *float64
	Max     *float64
	Default *float64
}

// ParseNumericValue converts v to a number, clamped to [Min, Max]. Empty or
// unparseable input yields Default; ok is false when there is no default.
func ParseNumericValue(v any, opts NumericOptions) (value float64, ok bool) {
	fallback := func() (float64, bool) {
		if opts.Default != nil {
			return *opts.Default, true
		}
		return 0, false
	}

	var parsed float64
	switch val := v.(type) {
	case nil:
		return fallback()
	case float64:
		parsed = val
	case float32:
		parsed = float64(val)
	case int:
		parsed = float64(val)
	case int64:
		parsed = float64(val)
	case interface{ Float64() (float64, error) }:
		f, err := val.Float64()
		if err != nil {
			return fallback()
		}
		parsed = f
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return fallback()
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fallback()
		}
		parsed = f
	default:
		return fallback()
	}

	if math.IsNaN(parsed) {
		return fallback()
	}
	if opts.Min != nil && parsed < *opts.Min {
		return *opts.Min, true
	}
	if opts.Max != nil && parsed > *opts.Max {
		return *opts.Max, true
	}
	return parsed, true
}

// Float returns a pointer to f, for NumericOptions literals.
func Float(f float64) *float64 { return &f }
