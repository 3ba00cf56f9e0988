package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service errors.
var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrEmptyImport   = errors.New("no records to import")
	ErrTooManyItems  = errors.New("too many items")
)

// DefaultMaxItems bounds a single import.
const DefaultMaxItems = 10000

// SubjectImportCompleted is published after every non-dry-run import.
const SubjectImportCompleted = "import.completed"

// EventPublisher sends domain events. Implementations must not block for long;
// publish failures are logged and never fail an import.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// ImportSummary is the payload of SubjectImportCompleted.
type ImportSummary struct {
	ImportID string      `json:"importId"`
	Entity   string      `json:"entity"`
	Source   string      `json:"source"`
	Status   string      `json:"status"`
	Stats    ImportStats `json:"stats"`
}

// ServiceOptions configures a Service. Zero values take the defaults.
type ServiceOptions struct {
	Registry     *Registry
	Import       *SafeImportOptions
	MaxItems     int
	EmptyRecords EmptyRecordPolicy
	Gate         *ImportGate
	Jobs         *JobManager
	Runs         RunStore // nil records history in the import_runs table
	Events       EventPublisher
	Logger       *slog.Logger
}

// Service runs imports for registered entities.
type Service struct {
	db       DBTX
	registry *Registry
	defaults SafeImportOptions
	maxItems int
	empty    EmptyRecordPolicy
	gate     *ImportGate
	jobs     *JobManager
	runs     RunStore
	events   EventPublisher
	logger   *slog.Logger
}

// NewService creates a Service writing through db.
func NewService(db DBTX, opts ServiceOptions) *Service {
	s := &Service{
		db:       db,
		registry: opts.Registry,
		maxItems: opts.MaxItems,
		empty:    opts.EmptyRecords,
		gate:     opts.Gate,
		jobs:     opts.Jobs,
		runs:     opts.Runs,
		events:   opts.Events,
		logger:   opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		s.registry = DefaultRegistry()
	}
	if opts.Import != nil {
		s.defaults = *opts.Import
	} else {
		s.defaults = DefaultSafeImportOptions()
	}
	if s.defaults.Logger == nil {
		s.defaults.Logger = s.logger
	}
	if s.maxItems <= 0 {
		s.maxItems = DefaultMaxItems
	}
	if s.empty == "" {
		s.empty = KeepEmptyRecords
	}
	if s.gate == nil {
		s.gate = NewImportGate(DefaultMaxConcurrentImports, DefaultImportWait)
	}
	if s.jobs == nil {
		s.jobs = NewJobManager(JobManagerOptions{Logger: s.logger})
	}
	if s.runs == nil && db != nil {
		s.runs = NewRunStore(db)
	}
	return s
}

// ImportOptions tunes one import call. Nil and zero fields use the service
// defaults.
type ImportOptions struct {
	Source          string // e.g. "api", "upload:stock.csv", "cli"
	DryRun          bool
	Concurrency     int
	MaxRetries      *int
	ContinueOnError *bool
	OnProgress      func(completed, total int)
}

// Entities returns every registered entity definition.
func (s *Service) Entities() []EntityDefinition {
	return s.registry.All()
}

// Entity looks up a definition, wrapping ErrUnknownEntity when missing.
func (s *Service) Entity(key string) (EntityDefinition, error) {
	def, ok := s.registry.Get(key)
	if !ok {
		return EntityDefinition{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownEntity, key, strings.Join(s.registry.Keys(), ", "))
	}
	return def, nil
}

func (s *Service) prepare(entity string, records []Record) (EntityDefinition, error) {
	def, err := s.Entity(entity)
	if err != nil {
		return EntityDefinition{}, err
	}
	if len(records) == 0 {
		return EntityDefinition{}, ErrEmptyImport
	}
	if len(records) > s.maxItems {
		return EntityDefinition{}, fmt.Errorf("%w: %d records, limit is %d", ErrTooManyItems, len(records), s.maxItems)
	}
	return def, nil
}

// Import validates, sanitizes and writes records for entity. It waits for an
// import slot first and fails with ErrTooManyImports when none frees up.
func (s *Service) Import(ctx context.Context, entity string, records []Record, opts ImportOptions) (ImportResult[UpsertResult], error) {
	def, err := s.prepare(entity, records)
	if err != nil {
		return ImportResult[UpsertResult]{}, err
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return ImportResult[UpsertResult]{}, err
	}
	defer s.gate.Release()

	return s.run(ctx, def, records, opts), nil
}

// StartImportJob queues the import as a background job and returns at once.
func (s *Service) StartImportJob(entity string, records []Record, opts ImportOptions) (Job, error) {
	def, err := s.prepare(entity, records)
	if err != nil {
		return Job{}, err
	}

	job := s.jobs.Submit("import:"+def.Key, func(ctx context.Context, progress func(int)) (any, error) {
		opts.OnProgress = func(completed, total int) {
			if total > 0 {
				progress(completed * 100 / total)
			}
		}
		return s.run(ctx, def, records, opts), nil
	})
	return job, nil
}

// Jobs returns the background job manager.
func (s *Service) Jobs() *JobManager { return s.jobs }

// run is the import pipeline: domain validation, sanitization, then
// SafeBulkImport with the entity's upsert.
func (s *Service) run(ctx context.Context, def EntityDefinition, records []Record, opts ImportOptions) ImportResult[UpsertResult] {
	start := time.Now()
	importID := uuid.NewString()
	logger := s.logger.With("import_id", importID, "entity", def.Key)
	if c := ClientFromContext(ctx); c.IP != "" {
		logger = logger.With("client_ip", c.IP, "user_agent", c.UserAgent)
	}

	outcome := def.Validate(records)
	sanitized := SanitizeBulkImportData(outcome.Valid, SanitizeOptions{
		ImageFields:  def.ImageFields,
		EmptyRecords: s.empty,
	})

	// Rejected records fail without reaching the database.
	validationErrors := outcome.Errors
	var rejected []BatchResult[UpsertResult]
	for _, inv := range sanitized.Invalid {
		msg := strings.Join(inv.Errors, ", ")
		if inv.Rejected {
			rejected = append(rejected, BatchResult[UpsertResult]{Err: errors.New(msg), Index: inv.Index})
			continue
		}
		validationErrors = append(validationErrors, fmt.Sprintf("Item %d: %s", inv.Index+1, msg))
	}

	logger.Info("import started",
		"source", opts.Source,
		"records", len(records),
		"valid", len(sanitized.Valid),
		"rejected", len(rejected),
		"validation_errors", len(validationErrors),
		"dry_run", opts.DryRun,
	)

	if opts.DryRun {
		result := FormatImportResponse(rejected, validationErrors, start)
		result.Success = len(result.Errors) == 0
		result.DryRun = true
		result.Stats.Total = len(records)
		return result
	}

	importOpts := s.importOptions(opts)
	results := SafeBulkImport(ctx, sanitized.Valid, func(ctx context.Context, item Record, _ int) (UpsertResult, error) {
		return def.Upsert(ctx, s.db, item)
	}, importOpts)

	// Report failures by their position in the submitted records.
	for i := range results {
		results[i].Index = sanitized.Positions[results[i].Index]
	}
	if len(rejected) > 0 {
		results = append(results, rejected...)
		sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	}

	result := FormatImportResponse(results, validationErrors, start)
	status := runStatus(result.Stats, len(result.Errors))

	logger.Info("import completed",
		"status", status,
		"total", result.Stats.Total,
		"created", result.Stats.Created,
		"updated", result.Stats.Updated,
		"failed", result.Stats.Failed,
		"duration_ms", result.Stats.DurationMs,
	)

	s.record(ctx, logger, ImportRun{
		Entity:     def.Key,
		Source:     opts.Source,
		Status:     status,
		Total:      result.Stats.Total,
		Created:    result.Stats.Created,
		Updated:    result.Stats.Updated,
		Failed:     result.Stats.Failed,
		DurationMs: result.Stats.DurationMs,
		Errors:     result.Errors,
	})
	s.publish(ctx, logger, ImportSummary{
		ImportID: importID,
		Entity:   def.Key,
		Source:   opts.Source,
		Status:   status,
		Stats:    result.Stats,
	})

	return result
}

func (s *Service) importOptions(opts ImportOptions) SafeImportOptions {
	o := s.defaults
	if opts.Concurrency > 0 {
		o.Concurrency = opts.Concurrency
	}
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		o.Retry.MaxRetries = *opts.MaxRetries
	}
	if opts.ContinueOnError != nil {
		o.ContinueOnError = *opts.ContinueOnError
	}
	if opts.OnProgress != nil {
		o.OnProgress = opts.OnProgress
	}
	return o
}

// record stores the run. History is best effort; a failure is logged only.
func (s *Service) record(ctx context.Context, logger *slog.Logger, run ImportRun) {
	if s.runs == nil {
		return
	}
	// The import itself may have used up ctx; history still gets written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := s.runs.RecordRun(ctx, run); err != nil {
		logger.Warn("failed to record import run", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, logger *slog.Logger, summary ImportSummary) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), SubjectImportCompleted, summary); err != nil {
		logger.Warn("failed to publish import event", "error", err)
	}
}

// History returns recent import runs, newest first. An empty entity lists
// runs for every entity.
func (s *Service) History(ctx context.Context, entity string, limit int) ([]ImportRun, error) {
	if entity != "" {
		def, err := s.Entity(entity)
		if err != nil {
			return nil, err
		}
		entity = def.Key
	}
	if s.runs == nil {
		return []ImportRun{}, nil
	}
	return s.runs.ListRuns(ctx, entity, limit)
}

// ServiceStatus is a monitoring snapshot.
type ServiceStatus struct {
	Imports ImportGateStatus `json:"imports"`
	Jobs    JobStats         `json:"jobs"`
	Workers LimiterStatus    `json:"jobWorkers"`
}

// Status reports import slot usage and job counts.
func (s *Service) Status() ServiceStatus {
	return ServiceStatus{
		Imports: s.gate.Status(),
		Jobs:    s.jobs.Stats(),
		Workers: s.jobs.Limiter().Status(),
	}
}

// WaitForDrain blocks until running imports and jobs finish or ctx is done.
func (s *Service) WaitForDrain(ctx context.Context) error {
	if err := s.gate.WaitForDrain(ctx); err != nil {
		return err
	}
	return s.jobs.WaitForDrain(ctx)
}
