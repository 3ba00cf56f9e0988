package core

// jobs.go runs imports in the background.
//
// Jobs are admitted through the manager's own Limiter, so at most
// MaxConcurrent run at once and the rest wait in submission order. Finished
// jobs stay queryable for TTL and are dropped by the cleanup loop.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Finished reports whether the job can no longer change.
func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobFailed
}

// Job defaults.
const (
	DefaultMaxConcurrentJobs = 3
	DefaultJobTTL            = time.Hour
	DefaultJobCleanup        = time.Minute
)

// Job manager errors.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobStarted  = errors.New("job already started")
)

// CancelledByUser is the error text recorded for a cancelled job.
const CancelledByUser = "cancelled by user"

// Job is a snapshot of a background job.
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JobFunc does the work of a job. It reports progress as a percentage.
type JobFunc func(ctx context.Context, progress func(percent int)) (any, error)

// JobStats counts jobs per status.
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// JobManagerOptions configures a JobManager. Zero values take the defaults.
type JobManagerOptions struct {
	MaxConcurrent int
	TTL           time.Duration
	Timeout       time.Duration // Per-job deadline; zero means none
	Logger        *slog.Logger
	Now           func() time.Time
}

type jobEntry struct {
	job       Job
	listeners []chan Job
	done      chan struct{}
}

// JobManager tracks background jobs in memory.
type JobManager struct {
	opts    JobManagerOptions
	limiter *Limiter

	mu   sync.Mutex
	jobs map[string]*jobEntry
}

// NewJobManager returns an empty manager.
func NewJobManager(opts JobManagerOptions) *JobManager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrentJobs
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultJobTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &JobManager{
		opts:    opts,
		limiter: NewLimiter(opts.MaxConcurrent),
		jobs:    make(map[string]*jobEntry),
	}
}

// Submit queues fn and returns the pending job.
func (m *JobManager) Submit(jobType string, fn JobFunc) Job {
	e := &jobEntry{
		job: Job{
			ID:        uuid.NewString(),
			Type:      jobType,
			Status:    JobPending,
			CreatedAt: m.opts.Now(),
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[e.job.ID] = e
	snapshot := e.job
	m.mu.Unlock()

	m.opts.Logger.Info("job queued", "job_id", snapshot.ID, "type", jobType)
	m.limiter.Go(func() { m.run(e, fn) })
	return snapshot
}

func (m *JobManager) run(e *jobEntry, fn JobFunc) {
	m.mu.Lock()
	if e.job.Status != JobPending {
		// Cancelled while queued.
		m.mu.Unlock()
		return
	}
	started := m.opts.Now()
	e.job.Status = JobProcessing
	e.job.StartedAt = &started
	m.broadcastLocked(e)
	id := e.job.ID
	m.mu.Unlock()

	ctx := context.Background()
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	m.opts.Logger.Info("job started", "job_id", id)
	result, err := m.invoke(ctx, e, fn)

	m.mu.Lock()
	if err != nil {
		e.job.Error = err.Error()
		m.finishLocked(e, JobFailed)
	} else {
		e.job.Result = result
		e.job.Progress = 100
		m.finishLocked(e, JobCompleted)
	}
	duration := e.job.CompletedAt.Sub(started)
	m.mu.Unlock()

	if err != nil {
		m.opts.Logger.Warn("job failed", "job_id", id, "error", err, "duration_ms", duration.Milliseconds())
		return
	}
	m.opts.Logger.Info("job completed", "job_id", id, "duration_ms", duration.Milliseconds())
}

func (m *JobManager) invoke(ctx context.Context, e *jobEntry, fn JobFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx, func(percent int) { m.setProgress(e, percent) })
}

func (m *JobManager) setProgress(e *jobEntry, percent int) {
	percent = min(max(percent, 0), 100)

	m.mu.Lock()
	defer m.mu.Unlock()
	if e.job.Status != JobProcessing || e.job.Progress == percent {
		return
	}
	e.job.Progress = percent
	m.broadcastLocked(e)
}

// broadcastLocked sends the current snapshot to every listener without
// blocking. A slow listener misses intermediate updates.
func (m *JobManager) broadcastLocked(e *jobEntry) {
	for _, ch := range e.listeners {
		select {
		case ch <- e.job:
		default:
		}
	}
}

func (m *JobManager) finishLocked(e *jobEntry, status JobStatus) {
	now := m.opts.Now()
	e.job.Status = status
	e.job.CompletedAt = &now

	for _, ch := range e.listeners {
		// Make room so the final snapshot is never dropped.
		select {
		case ch <- e.job:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- e.job
		}
		close(ch)
	}
	e.listeners = nil
	close(e.done)
}

// Get returns a snapshot of the job.
func (m *JobManager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.job, nil
}

// List returns every job, newest first.
func (m *JobManager) List() []Job {
	m.mu.Lock()
	out := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel fails a pending job. Jobs that have started cannot be cancelled.
func (m *JobManager) Cancel(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if e.job.Status != JobPending {
		return e.job, fmt.Errorf("%w: %s is %s", ErrJobStarted, id, e.job.Status)
	}

	e.job.Error = CancelledByUser
	m.finishLocked(e, JobFailed)
	m.opts.Logger.Info("job cancelled", "job_id", id)
	return e.job, nil
}

// Subscribe returns a channel that receives the current snapshot immediately
// and then every change. The channel is closed once the job finishes.
// Call the returned function to stop listening early.
func (m *JobManager) Subscribe(id string) (<-chan Job, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return nil, func() {}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	ch := make(chan Job, 10)
	ch <- e.job
	if e.job.Status.Finished() {
		close(ch)
		return ch, func() {}, nil
	}
	e.listeners = append(e.listeners, ch)

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range e.listeners {
			if l == ch {
				e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe, nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *JobManager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	select {
	case <-e.done:
		return m.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Stats counts jobs per status.
func (m *JobManager) Stats() JobStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s JobStats
	for _, e := range m.jobs {
		switch e.job.Status {
		case JobPending:
			s.Pending++
		case JobProcessing:
			s.Processing++
		case JobCompleted:
			s.Completed++
		case JobFailed:
			s.Failed++
		}
	}
	return s
}

// Limiter returns the limiter that admits jobs, for status reporting.
func (m *JobManager) Limiter() *Limiter { return m.limiter }

// Cleanup drops finished jobs that completed more than TTL ago and returns
// how many were removed.
func (m *JobManager) Cleanup() int {
	cutoff := m.opts.Now().Add(-m.opts.TTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.jobs {
		if e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// StartCleanup drops expired jobs every interval until ctx is cancelled.
// It blocks; run it on its own goroutine.
func (m *JobManager) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJobCleanup
	}
	m.opts.Logger.Info("job cleanup started", "interval", interval.String(), "ttl", m.opts.TTL.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.opts.Logger.Info("job cleanup stopped")
			return
		case <-ticker.C:
			if n := m.Cleanup(); n > 0 {
				m.opts.Logger.Debug("expired jobs removed", "count", n)
			}
		}
	}
}

// WaitForDrain blocks until no job is running or queued, or ctx is done.
func (m *JobManager) WaitForDrain(ctx context.Context) error {
	return m.limiter.WaitForDrain(ctx)
}
