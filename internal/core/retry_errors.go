package core

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientKind names why an error is worth retrying.
type TransientKind int

const (
	KindNetwork TransientKind = iota
	KindRateLimited
	KindServiceUnavailable
	KindBusy
)

func (k TransientKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate limited"
	case KindServiceUnavailable:
		return "service unavailable"
	case KindBusy:
		return "busy"
	default:
		return "transient"
	}
}

// TransientError marks an error as retryable regardless of its message.
type TransientError struct {
	Kind TransientKind
	Err  error
}

func (e *TransientError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable error of the given kind.
func Transient(kind TransientKind, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Kind: kind, Err: err}
}

// FatalError marks an error as never retryable, even when its message would
// match the allow-list.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a non-retryable error.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// defaultRetryablePatterns is the message allow-list, matched case-insensitively.
var defaultRetryablePatterns = []string{
	"ECONNRESET",
	"ECONNREFUSED",
	"ETIMEDOUT",
	"EPIPE",
	"ENOTFOUND",
	"ENETUNREACH",
	"EAI_AGAIN",
	"socket hang up",
	"connection reset",
	"too many connections",
	"Connection terminated",
	"timeout exceeded",
	"SQLITE_BUSY",
	"429",
	"503",
	"502",
	"504",
}

var retryableStatusCodes = map[int]bool{429: true, 502: true, 503: true, 504: true}

// Postgres SQLSTATE codes for conditions that clear up on their own.
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
}

// IsRetryable classifies err. Typed markers win, then status codes, driver
// and network errors, and finally the message allow-list plus extra patterns.
// Cancellation is never retryable.
func IsRetryable(err error, extra []string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}

	status := 0
	var sc StatusCoder
	if errors.As(err, &sc) {
		status = sc.StatusCode()
		if retryableStatusCodes[status] {
			return true
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientSQLStates[pgErr.Code] {
		return true
	}

	if isNetworkError(err) {
		return true
	}

	return matchesPattern(err.Error(), status, defaultRetryablePatterns) ||
		matchesPattern(err.Error(), status, extra)
}

func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout || dnsErr.IsNotFound
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func matchesPattern(msg string, status int, patterns []string) bool {
	lower := strings.ToLower(msg)
	code := ""
	if status != 0 {
		code = strconv.Itoa(status)
	}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) || (code != "" && code == p) {
			return true
		}
	}
	return false
}
