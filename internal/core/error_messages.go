// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When an import fails, the code is shown next to the message so support staff
// can find the cause without reading logs.
//
// Error codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this key already exists
//	        Patterns: "duplicate key"
//
//	DB002 - Unique constraint: This value must be unique but already exists
//	        Patterns: "unique constraint", "violates unique"
//
//	DB003 - Foreign key: Referenced record does not exist
//	        Patterns: "foreign key constraint", "violates foreign key"
//
//	DB004 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset", "too many connections"
//
//	DB006 - Timeout: Operation timed out
//	        Patterns: "context deadline exceeded", "timeout"
//
//	DB007 - Deadlock: Database was busy with conflicting operations
//	        Patterns: "deadlock"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Base64 data: Embedded image data is not accepted
//	         Patterns: "base64"
//
//	IMP002 - Required field: A required field is empty
//	         Patterns: "missing required field"
//
//	IMP003 - Image URL: Image reference is not a usable URL
//	         Patterns: "image url must use", "invalid image url"
//
//	IMP004 - File format: File could not be read
//	         Patterns: "unsupported format", "decode records"
//
//	IMP005 - Unknown entity: Import type is not configured
//	         Patterns: "unknown entity"
//
//	IMP006 - Import size: Import is empty or too large
//	         Patterns: "too many items", "no records"
//
// # Retry Errors (RET001-RET099)
//
//	RET001 - Retries exhausted: The operation kept failing
//	         Patterns: "failed after"
//
//	RET002 - Circuit open: Upstream service is temporarily disabled
//	         Patterns: "circuit breaker is open"
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Job not found: The import job expired or never existed
//	         Patterns: "job not found"
//
//	JOB002 - System busy: Too many imports in progress
//	         Patterns: "too many imports"
//
//	JOB003 - Cancelled: The import was cancelled
//	         Patterns: "cancelled by user", "context canceled"
//
// # Tracking Errors (TRK001-TRK099)
//
//	TRK001 - Tracking disabled: No carrier tracking API key is configured
//	         Patterns: "tracking is not configured"
//
//	TRK002 - Tracking failed: No tracking number could be fetched
//	         Patterns: "failed to get tracking info"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns are defined
// before general ones. A retried error carries its last cause in its text,
// so database causes are matched before RET001.

package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Order matters: the first match wins.
var errorPatterns = []errorPattern{
	// Breaker and job states come first; their messages may quote other errors.
	{
		pattern: "circuit breaker is open",
		msg: UserMessage{
			Message: "The carrier service is temporarily unavailable",
			Action:  "Wait a minute and try again",
			Code:    "RET002",
		},
	},
	{
		pattern: "cancelled by user",
		msg: UserMessage{
			Message: "The import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "JOB003",
		},
	},
	{
		pattern: "job not found",
		msg: UserMessage{
			Message: "Import job not found",
			Action:  "The job may have expired. Start a new import",
			Code:    "JOB001",
		},
	},
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "Too many imports in progress",
			Action:  "Please wait a moment and try again",
			Code:    "JOB002",
		},
	},

	// Record content.
	{
		pattern: "base64",
		msg: UserMessage{
			Message: "Embedded image data is not accepted",
			Action:  "Upload images to storage first and import their URLs",
			Code:    "IMP001",
		},
	},
	{
		pattern: "missing required field",
		msg: UserMessage{
			Message: "A required field is empty",
			Action:  "Fill in every required column (marked with *) in the template",
			Code:    "IMP002",
		},
	},
	{
		pattern: "image url must use",
		msg: UserMessage{
			Message: "Image URLs must start with http:// or https://",
			Action:  "Fix the image column or leave it empty",
			Code:    "IMP003",
		},
	},
	{
		pattern: "invalid image url",
		msg: UserMessage{
			Message: "Image reference is not a valid URL",
			Action:  "Use a full URL or a path starting with /",
			Code:    "IMP003",
		},
	},
	{
		pattern: "unsupported format",
		msg: UserMessage{
			Message: "File format is not supported",
			Action:  "Upload a CSV, XLSX or JSON file",
			Code:    "IMP004",
		},
	},
	{
		pattern: "decode records",
		msg: UserMessage{
			Message: "The file could not be read",
			Action:  "Start from the downloadable template and save as UTF-8",
			Code:    "IMP004",
		},
	},
	{
		pattern: "unknown entity",
		msg: UserMessage{
			Message: "This import type is not configured",
			Action:  "Choose products, customers or suppliers",
			Code:    "IMP005",
		},
	},
	{
		pattern: "too many items",
		msg: UserMessage{
			Message: "The import has too many rows",
			Action:  "Split the file into smaller imports",
			Code:    "IMP006",
		},
	},
	{
		pattern: "no records",
		msg: UserMessage{
			Message: "The import contains no rows",
			Action:  "Add at least one row below the header",
			Code:    "IMP006",
		},
	},

	// Database.
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Remove duplicate rows from your file",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Import suppliers before the products that reference them",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Import suppliers before the products that reference them",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "too many connections",
		msg: UserMessage{
			Message: "The database is at capacity",
			Action:  "Lower the import concurrency or try again later",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// Tracking.
	{
		pattern: "tracking is not configured",
		msg: UserMessage{
			Message: "Shipment tracking is not configured",
			Action:  "Set TRACK17_API_KEY and restart the server",
			Code:    "TRK001",
		},
	},
	{
		pattern: "failed to get tracking info",
		msg: UserMessage{
			Message: "No tracking information could be fetched",
			Action:  "Check the tracking numbers and try again later",
			Code:    "TRK002",
		},
	},

	// Generic transient conditions.
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller import or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller import or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The import was cancelled",
			Action:  "Please try again",
			Code:    "JOB003",
		},
	},
	{
		pattern: "failed after",
		msg: UserMessage{
			Message: "The operation kept failing after several attempts",
			Action:  "Please try again later",
			Code:    "RET001",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the first matching pattern, or ERR000 when nothing matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a specific pattern rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
