package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memoryRuns struct {
	mu   sync.Mutex
	runs []ImportRun
}

func (m *memoryRuns) RecordRun(_ context.Context, run ImportRun) (ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = fmt.Sprintf("run-%d", len(m.runs)+1)
	m.runs = append([]ImportRun{run}, m.runs...)
	return run, nil
}

func (m *memoryRuns) ListRuns(_ context.Context, entity string, limit int) ([]ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ImportRun
	for _, r := range m.runs {
		if entity == "" || r.Entity == entity {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []ImportSummary
}

func (p *capturePublisher) Publish(_ context.Context, subject string, payload any) error {
	if subject != SubjectImportCompleted {
		return fmt.Errorf("unexpected subject %s", subject)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload.(ImportSummary))
	return nil
}

// countingDefinition upserts by sku; a sku of "FAIL" fails permanently and
// "EXISTS" reports an update.
func countingDefinition(calls *atomic.Int32) EntityDefinition {
	def := sampleDefinition()
	def.Upsert = func(_ context.Context, _ DBTX, item Record) (UpsertResult, error) {
		calls.Add(1)
		sku := item.String("sku")
		switch sku {
		case "FAIL":
			return UpsertResult{}, Fatal(errors.New("violates check constraint"))
		case "EXISTS":
			return UpsertResult{Key: sku, Action: ActionUpdated}, nil
		}
		return UpsertResult{Key: sku, Action: ActionCreated}, nil
	}
	return def
}

func newTestService(def EntityDefinition, opts ServiceOptions) (*Service, *memoryRuns, *capturePublisher) {
	reg := NewRegistry()
	reg.Register(def)

	runs := &memoryRuns{}
	pub := &capturePublisher{}
	importOpts := fastImportOptions()

	opts.Registry = reg
	opts.Import = &importOpts
	opts.Runs = runs
	opts.Events = pub
	opts.Logger = quietLogger()
	if opts.Jobs == nil {
		opts.Jobs = NewJobManager(JobManagerOptions{Logger: quietLogger()})
	}
	return NewService(nil, opts), runs, pub
}

// ----------------------------------------------------------------------------
// Import
// ----------------------------------------------------------------------------

func TestServiceImport(t *testing.T) {
	var calls atomic.Int32
	svc, runs, pub := newTestService(countingDefinition(&calls), ServiceOptions{})

	records := []Record{
		{"name": "Lamp", "sku": "L1"},
		{"name": "Chair", "sku": "EXISTS"},
		{"name": "Broken", "sku": "FAIL"},
		{"sku": "NO-NAME"},
	}

	result, err := svc.Import(context.Background(), "PRODUCTS", records, ImportOptions{Source: "test"})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if result.Success {
		t.Error("Success = true, want false with a failed item")
	}
	if result.Stats.Total != 4 || result.Stats.Created != 2 || result.Stats.Updated != 1 || result.Stats.Failed != 1 {
		t.Errorf("Stats = %+v", result.Stats)
	}
	if calls.Load() != 4 {
		t.Errorf("upsert calls = %d, want 4 (validators never drop records)", calls.Load())
	}

	wantErrors := []string{
		"Item 4 (NO-NAME): " + MsgMissingNameAndSKU,
		"Item 3: violates check constraint",
	}
	if len(result.Errors) != len(wantErrors) {
		t.Fatalf("Errors = %q, want %q", result.Errors, wantErrors)
	}
	for i := range wantErrors {
		if result.Errors[i] != wantErrors[i] {
			t.Errorf("Errors[%d] = %q, want %q", i, result.Errors[i], wantErrors[i])
		}
	}

	if len(runs.runs) != 1 || runs.runs[0].Status != RunPartial || runs.runs[0].Source != "test" {
		t.Errorf("recorded runs = %+v", runs.runs)
	}
	if len(pub.events) != 1 || pub.events[0].Entity != "products" || pub.events[0].ImportID == "" {
		t.Errorf("published events = %+v", pub.events)
	}
}

func TestServiceImport_Rejections(t *testing.T) {
	var calls atomic.Int32
	svc, _, _ := newTestService(countingDefinition(&calls), ServiceOptions{MaxItems: 2})
	ctx := context.Background()

	if _, err := svc.Import(ctx, "widgets", []Record{{}}, ImportOptions{}); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("unknown entity: err = %v", err)
	}
	if _, err := svc.Import(ctx, "products", nil, ImportOptions{}); !errors.Is(err, ErrEmptyImport) {
		t.Errorf("empty: err = %v", err)
	}
	if _, err := svc.Import(ctx, "products", make([]Record, 3), ImportOptions{}); !errors.Is(err, ErrTooManyItems) {
		t.Errorf("too many: err = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("upsert calls = %d, want 0", calls.Load())
	}
}

func TestServiceImport_DryRun(t *testing.T) {
	var calls atomic.Int32
	svc, runs, pub := newTestService(countingDefinition(&calls), ServiceOptions{})

	result, err := svc.Import(context.Background(), "products", []Record{
		{"name": "Lamp", "sku": "L1"},
		{"name": "Lamp", "sku": "L2", "imageUrl": "ftp://cdn/x.png"},
	}, ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if !result.DryRun || result.Success {
		t.Errorf("result = %+v, want dry run with errors", result)
	}
	if result.Stats.Total != 2 || len(result.Errors) != 1 {
		t.Errorf("result = %+v", result)
	}
	if calls.Load() != 0 || len(runs.runs) != 0 || len(pub.events) != 0 {
		t.Error("dry run must not write, record or publish")
	}
}

func TestServiceImport_RejectedRecordsKeepInputPositions(t *testing.T) {
	var calls atomic.Int32
	def := countingDefinition(&calls)
	def.Validate = func(items []Record) ValidationOutcome {
		return ValidationOutcome{Valid: items, Errors: []string{}}
	}
	svc, _, _ := newTestService(def, ServiceOptions{EmptyRecords: RejectEmptyRecords})

	result, err := svc.Import(context.Background(), "products", []Record{
		{"imageUrl": "javascript:alert(1)"},
		{"name": "Lamp", "sku": "L1"},
		{"name": "Broken", "sku": "FAIL"},
	}, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("upsert calls = %d, want 2", calls.Load())
	}
	if len(result.Errors) != 2 {
		t.Fatalf("Errors = %q", result.Errors)
	}
	if !strings.HasPrefix(result.Errors[0], "Item 1: imageUrl: ") || !strings.Contains(result.Errors[0], MsgAllFieldsRejected) {
		t.Errorf("Errors[0] = %q", result.Errors[0])
	}
	if result.Errors[1] != "Item 3: violates check constraint" {
		t.Errorf("Errors[1] = %q, want failure reported at input position 3", result.Errors[1])
	}
	if result.Success || result.Stats.Total != 3 || result.Stats.Failed != 2 || result.Stats.Created != 1 {
		t.Errorf("Success = %v, Stats = %+v, want failure with total 3, failed 2, created 1", result.Success, result.Stats)
	}
}

func TestServiceImport_RejectedRecordCountsAsFailed(t *testing.T) {
	records := []Record{
		{"imageUrl": "javascript:alert(1)"},
		{"name": "Lamp", "sku": "L1"},
	}

	tests := []struct {
		name   string
		dryRun bool
		calls  int32
	}{
		{"import", false, 1},
		{"dry run", true, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			def := countingDefinition(&calls)
			def.Validate = func(items []Record) ValidationOutcome {
				return ValidationOutcome{Valid: items, Errors: []string{}}
			}
			svc, _, _ := newTestService(def, ServiceOptions{EmptyRecords: RejectEmptyRecords})

			result, err := svc.Import(context.Background(), "products", records, ImportOptions{DryRun: tt.dryRun})
			if err != nil {
				t.Fatalf("Import() error = %v", err)
			}
			if result.Success {
				t.Error("Success = true, want false when a record is rejected")
			}
			if result.Stats.Total != 2 {
				t.Errorf("Total = %d, want 2", result.Stats.Total)
			}
			if result.Stats.Failed != 1 {
				t.Errorf("Failed = %d, want 1", result.Stats.Failed)
			}
			if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "Item 1: ") {
				t.Errorf("Errors = %q", result.Errors)
			}
			if calls.Load() != tt.calls {
				t.Errorf("upsert calls = %d, want %d", calls.Load(), tt.calls)
			}
		})
	}
}

func TestServiceImport_StopOnError(t *testing.T) {
	var calls atomic.Int32
	svc, _, _ := newTestService(countingDefinition(&calls), ServiceOptions{})

	records := []Record{{"name": "a", "sku": "FAIL"}}
	for i := 0; i < 5; i++ {
		records = append(records, Record{"name": "b", "sku": fmt.Sprintf("B%d", i)})
	}

	stop := false
	result, err := svc.Import(context.Background(), "products", records, ImportOptions{
		Concurrency:     1,
		ContinueOnError: &stop,
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if result.Stats.Failed != len(records) {
		t.Errorf("Failed = %d, want every item failed or aborted", result.Stats.Failed)
	}
	if calls.Load() != 1 {
		t.Errorf("upsert calls = %d, want 1", calls.Load())
	}
}

func TestServiceImport_GateFull(t *testing.T) {
	var calls atomic.Int32
	gate := NewImportGate(1, 20*time.Millisecond)
	svc, _, _ := newTestService(countingDefinition(&calls), ServiceOptions{Gate: gate})

	if !gate.TryAcquire() {
		t.Fatal("TryAcquire() = false")
	}
	defer gate.Release()

	_, err := svc.Import(context.Background(), "products", []Record{{"name": "a", "sku": "b"}}, ImportOptions{})
	if !errors.Is(err, ErrTooManyImports) {
		t.Errorf("err = %v, want ErrTooManyImports", err)
	}
}

// ----------------------------------------------------------------------------
// Jobs and history
// ----------------------------------------------------------------------------

func TestServiceStartImportJob(t *testing.T) {
	var calls atomic.Int32
	svc, runs, _ := newTestService(countingDefinition(&calls), ServiceOptions{})

	job, err := svc.StartImportJob("products", []Record{
		{"name": "a", "sku": "A"},
		{"name": "b", "sku": "B"},
	}, ImportOptions{Source: "job"})
	if err != nil {
		t.Fatalf("StartImportJob() error = %v", err)
	}
	if job.Type != "import:products" {
		t.Errorf("Type = %q", job.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done, err := svc.Jobs().Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if done.Status != JobCompleted || done.Progress != 100 {
		t.Errorf("job = %+v", done)
	}
	result, ok := done.Result.(ImportResult[UpsertResult])
	if !ok || result.Stats.Created != 2 {
		t.Errorf("Result = %#v", done.Result)
	}

	history, err := svc.History(ctx, "products", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Status != RunCompleted || len(runs.runs) != 1 {
		t.Errorf("History() = %+v", history)
	}

	if _, err := svc.StartImportJob("nope", []Record{{}}, ImportOptions{}); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("unknown entity: err = %v", err)
	}
	if _, err := svc.History(ctx, "nope", 10); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("History(unknown) err = %v", err)
	}
}

func TestServiceStatusAndDrain(t *testing.T) {
	var calls atomic.Int32
	svc, _, _ := newTestService(countingDefinition(&calls), ServiceOptions{
		Gate: NewImportGate(2, time.Second),
		Jobs: NewJobManager(JobManagerOptions{MaxConcurrent: 3, Logger: quietLogger()}),
	})

	st := svc.Status()
	if st.Imports.MaxConcurrent != 2 || st.Workers.Concurrency != 3 {
		t.Errorf("Status() = %+v", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain() error = %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		stats  ImportStats
		errs   int
		status string
	}{
		{ImportStats{Created: 2}, 0, RunCompleted},
		{ImportStats{Created: 1, Failed: 1}, 1, RunPartial},
		{ImportStats{Updated: 1}, 1, RunPartial},
		{ImportStats{Failed: 2}, 2, RunFailed},
	}
	for _, tt := range tests {
		if got := runStatus(tt.stats, tt.errs); got != tt.status {
			t.Errorf("runStatus(%+v, %d) = %s, want %s", tt.stats, tt.errs, got, tt.status)
		}
	}
}
