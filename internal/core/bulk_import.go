package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SafeImportOptions configures SafeBulkImport. Start from
// DefaultSafeImportOptions; zero values are taken literally.
type SafeImportOptions struct {
	Concurrency     int
	ContinueOnError bool

	// Retry is applied to every item. OnRetry is filled in with a logging
	// callback when nil.
	Retry RetryOptions

	// Limiter optionally shares a limiter across imports.
	Limiter *Limiter

	OnProgress func(completed, total int)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultSafeImportOptions returns concurrency 5, three retries per item
// starting at 500ms and capped at 5s, continuing past failed items.
func DefaultSafeImportOptions() SafeImportOptions {
	return SafeImportOptions{
		Concurrency:     DefaultConcurrency,
		ContinueOnError: true,
		Retry: RetryOptions{
			MaxRetries:        DefaultMaxRetries,
			InitialDelay:      500 * time.Millisecond,
			MaxDelay:          5 * time.Second,
			BackoffMultiplier: DefaultBackoffMultiplier,
		},
	}
}

// SafeBulkImport processes items with bounded concurrency, retrying each item
// on transient failures. Failed items are logged; with ContinueOnError unset
// the first failure stops items that have not started yet.
func SafeBulkImport[T, R any](ctx context.Context, items []T, processor func(ctx context.Context, item T, index int) (R, error), opts SafeImportOptions) []BatchResult[R] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryable := func(ctx context.Context, item T, index int) (R, error) {
		retry := opts.Retry
		if retry.OnRetry == nil {
			retry.OnRetry = func(err error, attempt int) {
				logger.Warn("bulk import retry",
					"item", index,
					"attempt", attempt,
					"max_retries", retry.MaxRetries,
					"error", err,
				)
			}
		}
		return WithRetry(ctx, func(ctx context.Context) (R, error) {
			return processor(ctx, item, index)
		}, retry)
	}

	var onProgress func(completed, total int, item T)
	if opts.OnProgress != nil {
		onProgress = func(completed, total int, _ T) {
			opts.OnProgress(completed, total)
		}
	}

	return ProcessBatch(ctx, items, retryable, BatchOptions[T]{
		Concurrency: opts.Concurrency,
		Limiter:     opts.Limiter,
		OnProgress:  onProgress,
		OnError: func(err error, _ T, index int) ErrorAction {
			logger.Error("failed to process item", "item", index, "error", err)
			if opts.ContinueOnError {
				return ActionContinue
			}
			return ActionStop
		},
	})
}

// FormatImportResponse summarizes batch results. Validation errors come
// first, then one "Item N: message" entry per failed item (N is 1-based).
// Created and updated counts come from results implementing ActionReporter.
func FormatImportResponse[R any](results []BatchResult[R], validationErrors []string, start time.Time) ImportResult[R] {
	out := ImportResult[R]{
		Imported: make([]R, 0, len(results)),
		Errors:   make([]string, 0, len(validationErrors)),
	}
	out.Errors = append(out.Errors, validationErrors...)

	for _, r := range results {
		if !r.Success {
			out.Stats.Failed++
			msg := "Unknown error"
			if r.Err != nil {
				msg = r.Err.Error()
			}
			out.Errors = append(out.Errors, fmt.Sprintf("Item %d: %s", r.Index+1, msg))
			continue
		}

		out.Imported = append(out.Imported, r.Result)
		if ar, ok := any(r.Result).(ActionReporter); ok {
			switch ar.ImportAction() {
			case ActionCreated:
				out.Stats.Created++
			case ActionUpdated:
				out.Stats.Updated++
			}
		}
	}

	out.Success = out.Stats.Failed == 0
	out.Stats.Total = len(results)
	out.Stats.DurationMs = time.Since(start).Milliseconds()
	return out
}
