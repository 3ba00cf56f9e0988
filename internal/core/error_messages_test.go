package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint \"products_sku_key\""), "DB001"},
		{"unique constraint", errors.New("unique constraint violated"), "DB002"},
		{"foreign key", errors.New("insert violates foreign key constraint"), "DB003"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), "DB004"},
		{"too many connections", errors.New("FATAL: sorry, too many connections"), "DB005"},
		{"deadline", wrappedDeadline(), "DB006"},
		{"deadlock", errors.New("deadlock detected"), "DB007"},
		{"base64 in validation", errors.New("Item 1 (Desk): imageUrl: " + MsgBase64NotAllowed), "IMP001"},
		{"missing name", errors.New(MsgMissingName), "IMP002"},
		{"missing name and sku", errors.New(MsgMissingNameAndSKU), "IMP002"},
		{"bad protocol", errors.New(MsgImageProtocol), "IMP003"},
		{"unknown entity", errors.New("unknown entity \"widgets\""), "IMP005"},
		{"retries exhausted keeps cause", &RetryExhaustedError{Retries: 3, Err: errors.New("deadlock detected")}, "DB007"},
		{"retries exhausted", &RetryExhaustedError{Retries: 3, Err: errors.New("HTTP 503")}, "RET001"},
		{"breaker open", fmt.Errorf("sync shipment: %w", &CircuitOpenError{Name: "17track"}), "RET002"},
		{"job cancelled", errors.New("cancelled by user"), "JOB003"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q (%q), want %q", got.Code, got.Message, tt.wantCode)
			}
		})
	}
}

func wrappedDeadline() error {
	return fmt.Errorf("upsert product: %w", errors.New("context deadline exceeded"))
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(errors.New("duplicate key value"))
	want := "A record with this key already exists (Code: DB001). Remove duplicate rows from your file"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(errors.New("deadlock detected")) {
		t.Error("deadlock should be user facing")
	}
	if IsUserFacing(errors.New("runtime: odd")) {
		t.Error("unmatched error should not be user facing")
	}
}

func TestNewUserError(t *testing.T) {
	if NewUserError(nil) != nil {
		t.Error("NewUserError(nil) should be nil")
	}
	tech := errors.New("connection reset by peer")
	ue := NewUserError(tech)
	if !errors.Is(ue, tech) {
		t.Error("UserError should unwrap to the technical error")
	}
	if ue.User.Code != "DB005" || ue.Error() != "Database connection was interrupted" {
		t.Errorf("UserError = %+v", ue.User)
	}
}
