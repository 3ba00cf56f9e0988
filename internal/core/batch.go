package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrOperationAborted is the error for items skipped after a stop request or
// context cancellation.
var ErrOperationAborted = errors.New("operation aborted")

// ErrorAction tells ProcessBatch what to do after an item fails.
type ErrorAction int

const (
	ActionContinue ErrorAction = iota
	ActionStop
)

// BatchOptions configures ProcessBatch.
type BatchOptions[T any] struct {
	// Concurrency defaults to DefaultConcurrency. Ignored when Limiter is set.
	Concurrency int

	// Limiter runs the items; a fresh limiter is created when nil.
	Limiter *Limiter

	// OnProgress runs after every attempted item with the number finished so far.
	OnProgress func(completed, total int, item T)

	// OnError runs after a failed item. Returning ActionStop makes every item
	// that has not started yet fail with ErrOperationAborted.
	OnError func(err error, item T, index int) ErrorAction
}

// ProcessBatch runs processor over items through a concurrency limiter and
// returns one result per item, sorted by index. Items that have not started
// when ctx is cancelled or a stop is requested fail with ErrOperationAborted
// without calling processor. Callbacks never run concurrently with each other.
func ProcessBatch[T, R any](ctx context.Context, items []T, processor func(ctx context.Context, item T, index int) (R, error), opts BatchOptions[T]) []BatchResult[R] {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLimiter(opts.Concurrency)
	}

	results := make([]BatchResult[R], len(items))
	var (
		stop      atomic.Bool
		mu        sync.Mutex
		completed int
		wg        sync.WaitGroup
	)

	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		limiter.Go(func() {
			defer wg.Done()

			if stop.Load() || ctx.Err() != nil {
				results[i] = BatchResult[R]{Err: ErrOperationAborted, Index: i}
				return
			}

			v, err := runItem(ctx, processor, item, i)

			mu.Lock()
			defer mu.Unlock()
			completed++

			if err != nil {
				results[i] = BatchResult[R]{Err: err, Index: i}
				if opts.OnError != nil && opts.OnError(err, item, i) == ActionStop {
					stop.Store(true)
				}
			} else {
				results[i] = BatchResult[R]{Success: true, Result: v, Index: i}
			}

			if opts.OnProgress != nil {
				opts.OnProgress(completed, len(items), item)
			}
		})
	}

	wg.Wait()
	return results
}

// runItem calls processor and turns a panic into an error.
func runItem[T, R any](ctx context.Context, processor func(context.Context, T, int) (R, error), item T, index int) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return processor(ctx, item, index)
}

// Chunk splits items into consecutive slices of at most size elements.
// A non-positive size yields a single chunk.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// ProcessInChunks runs processor over consecutive chunks one at a time and
// concatenates the results. It stops at the first error or when ctx ends.
func ProcessInChunks[T, R any](ctx context.Context, items []T, size int, processor func(ctx context.Context, chunk []T, chunkIndex int) ([]R, error), onChunkComplete func(done, total int)) ([]R, error) {
	chunks := Chunk(items, size)
	results := make([]R, 0, len(items))

	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		out, err := processor(ctx, c, i)
		if err != nil {
			return results, err
		}
		results = append(results, out...)
		if onChunkComplete != nil {
			onChunkComplete(i+1, len(chunks))
		}
	}

	return results, nil
}
