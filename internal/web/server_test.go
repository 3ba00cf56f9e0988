package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/stockroom/internal/config"
	"github.com/JonMunkholm/stockroom/internal/core"
	"github.com/JonMunkholm/stockroom/internal/tracking"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// widgets upserts by sku. "FAIL" fails permanently and "EXISTS" reports an
// update.
func widgets() core.EntityDefinition {
	return core.EntityDefinition{
		Key:   "widgets",
		Label: "Widgets",
		Fields: []core.FieldSpec{
			{Key: "name", Label: "Name", Required: true, Example: "Lamp"},
			{Key: "sku", Label: "SKU", Required: true, Example: "L-1"},
			{Key: "imageUrl", Label: "Image URL"},
		},
		Validate: core.ValidateProductImport,
		Upsert: func(_ context.Context, _ core.DBTX, item core.Record) (core.UpsertResult, error) {
			switch sku := item.String("sku"); sku {
			case "FAIL":
				return core.UpsertResult{}, core.Fatal(errors.New("violates check constraint"))
			case "EXISTS":
				return core.UpsertResult{Key: sku, Action: core.ActionUpdated}, nil
			default:
				return core.UpsertResult{Key: sku, Action: core.ActionCreated}, nil
			}
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{MaxBodySize: 1 << 20},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, opts Options) *Server {
	t.Helper()
	reg := core.NewRegistry()
	reg.Register(widgets())

	importOpts := core.SafeImportOptions{Concurrency: 2, ContinueOnError: true}
	svc := core.NewService(nil, core.ServiceOptions{
		Registry: reg,
		Import:   &importOpts,
		Logger:   quietLogger(),
		Jobs:     core.NewJobManager(core.JobManagerOptions{Logger: quietLogger()}),
	})
	return NewServer(cfg, svc, opts)
}

func do(t *testing.T, s *Server, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func readJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return v
}

// ----------------------------------------------------------------------------
// Basic routes
// ----------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})
	rec := do(t, s, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestListEntities(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})
	rec := do(t, s, http.MethodGet, "/api/entities", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := readJSON[[]entityInfo](t, rec)
	if len(got) != 1 || got[0].Key != "widgets" || len(got[0].Fields) != 3 {
		t.Fatalf("entities = %+v", got)
	}
	if !got[0].Fields[0].Required || got[0].Fields[0].Type != "text" {
		t.Errorf("first field = %+v", got[0].Fields[0])
	}
}

func TestTemplate(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})

	rec := do(t, s, http.MethodGet, "/api/import/widgets/template", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "widgets_import_template.csv") {
		t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	if !strings.HasPrefix(rec.Body.String(), "Name *,SKU *,Image URL") {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/import/widgets/template?format=pdf", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("pdf status = %d, want 400", rec.Code)
	}
}

// ----------------------------------------------------------------------------
// Import
// ----------------------------------------------------------------------------

func TestImport_JSON(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})
	body := `[{"name":"Lamp","sku":"L1"},{"name":"Chair","sku":"EXISTS"},{"name":"Broken","sku":"FAIL"}]`

	rec := do(t, s, http.MethodPost, "/api/import/widgets", strings.NewReader(body),
		map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	result := readJSON[core.ImportResult[core.UpsertResult]](t, rec)
	if result.Success {
		t.Error("Success = true, want false with a failed item")
	}
	want := core.ImportStats{Total: 3, Created: 1, Updated: 1, Failed: 1}
	result.Stats.DurationMs = 0
	if result.Stats != want {
		t.Errorf("Stats = %+v, want %+v", result.Stats, want)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "Item 3") {
		t.Errorf("Errors = %v", result.Errors)
	}
}

func TestImport_DryRun(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})
	body := `{"items":[{"name":"Lamp","sku":"L1"},{"name":"No sku"}]}`

	rec := do(t, s, http.MethodPost, "/api/import/widgets?dry_run=true", strings.NewReader(body), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	result := readJSON[core.ImportResult[core.UpsertResult]](t, rec)
	if !result.DryRun || len(result.Imported) != 0 {
		t.Errorf("result = %+v, want dry run with nothing imported", result)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want the missing sku", result.Errors)
	}
}

func TestImport_Multipart(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "stock.csv")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, "Name *,SKU *\nLamp,L1\nDesk,D1\n")
	mw.Close()

	rec := do(t, s, http.MethodPost, "/api/import/widgets?concurrency=1", &buf,
		map[string]string{"Content-Type": mw.FormDataContentType()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	result := readJSON[core.ImportResult[core.UpsertResult]](t, rec)
	if !result.Success || result.Stats.Created != 2 {
		t.Errorf("result = %+v", result)
	}
}

func TestImport_Errors(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		wantStatus  int
		wantCode    string
	}{
		{"unknown entity", "/api/import/gadgets", "application/json", `[{"a":1}]`, http.StatusNotFound, "IMP005"},
		{"empty array", "/api/import/widgets", "application/json", `[]`, http.StatusBadRequest, "IMP006"},
		{"broken json", "/api/import/widgets", "application/json", `[{`, http.StatusBadRequest, "IMP004"},
		{"bad concurrency", "/api/import/widgets?concurrency=0", "application/json", `[{"sku":"x"}]`, http.StatusBadRequest, "ERR000"},
		{"bad dry_run", "/api/import/widgets?dry_run=maybe", "application/json", `[{"sku":"x"}]`, http.StatusBadRequest, "ERR000"},
		{"unsupported content type", "/api/import/widgets", "application/pdf", `%PDF`, http.StatusBadRequest, "IMP004"},
	}

	s := newTestServer(t, testConfig(), Options{})
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.target, strings.NewReader(tt.body),
				map[string]string{"Content-Type": tt.contentType})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}
			resp := readJSON[ErrorResponse](t, rec)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %s, want %s (%s)", resp.Code, tt.wantCode, resp.Error)
			}
		})
	}
}

func TestImport_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxBodySize = 32
	s := newTestServer(t, cfg, Options{})

	body := `[{"name":"` + strings.Repeat("x", 100) + `","sku":"L1"}]`
	rec := do(t, s, http.MethodPost, "/api/import/widgets", strings.NewReader(body), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

// ----------------------------------------------------------------------------
// Jobs
// ----------------------------------------------------------------------------

func startJob(t *testing.T, s *Server, body string) core.Job {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/import/widgets/jobs", strings.NewReader(body), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}
	job := readJSON[core.Job](t, rec)
	if rec.Header().Get("Location") != "/api/jobs/"+job.ID {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.service.Jobs().Wait(ctx, job.ID); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return job
}

func TestImportJob(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})
	job := startJob(t, s, `[{"name":"Lamp","sku":"L1"},{"name":"Broken","sku":"FAIL"}]`)

	rec := do(t, s, http.MethodGet, "/api/jobs/"+job.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got struct {
		Status   core.JobStatus                       `json:"status"`
		Progress int                                  `json:"progress"`
		Result   core.ImportResult[core.UpsertResult] `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != core.JobCompleted || got.Progress != 100 {
		t.Errorf("job = %s at %d%%", got.Status, got.Progress)
	}
	if got.Result.Stats.Created != 1 || got.Result.Stats.Failed != 1 {
		t.Errorf("Stats = %+v", got.Result.Stats)
	}

	rec = do(t, s, http.MethodGet, "/api/jobs", nil, nil)
	if jobs := readJSON[[]core.Job](t, rec); len(jobs) != 1 {
		t.Errorf("len(jobs) = %d, want 1", len(jobs))
	}
	rec = do(t, s, http.MethodGet, "/api/jobs?status=pending", nil, nil)
	if jobs := readJSON[[]core.Job](t, rec); len(jobs) != 0 {
		t.Errorf("pending jobs = %d, want 0", len(jobs))
	}
}

func TestJobEvents_Finished(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})
	job := startJob(t, s, `[{"name":"Lamp","sku":"L1"}]`)

	rec := do(t, s, http.MethodGet, "/api/jobs/"+job.ID+"/events", nil, nil)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "id: 100\nevent: complete\ndata: ") {
		t.Errorf("body = %q, want a complete event", body)
	}
	if strings.Contains(body, "event: progress") {
		t.Errorf("finished job streamed progress: %q", body)
	}
}

func TestJobEvents_Running(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})
	release := make(chan struct{})
	job := s.service.Jobs().Submit("import:widgets", func(ctx context.Context, progress func(int)) (any, error) {
		progress(40)
		<-release
		return nil, nil
	})

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/jobs/" + job.ID + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	close(release)
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	if !strings.Contains(body, "event: progress") || !strings.Contains(body, "event: complete") {
		t.Errorf("body = %q, want progress then complete", body)
	}
}

func TestJobErrors(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})

	for _, target := range []string{"/api/jobs/nope", "/api/jobs/nope/events"} {
		rec := do(t, s, http.MethodGet, target, nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", target, rec.Code)
		}
		if resp := readJSON[ErrorResponse](t, rec); resp.Code != "JOB001" {
			t.Errorf("GET %s code = %s, want JOB001", target, resp.Code)
		}
	}

	rec := do(t, s, http.MethodPost, "/api/jobs/nope/cancel", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", rec.Code)
	}

	job := startJob(t, s, `[{"name":"Lamp","sku":"L1"}]`)
	rec = do(t, s, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel finished job status = %d, want 409", rec.Code)
	}
}

func TestJobReport(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})
	job := startJob(t, s, `[{"name":"Lamp","sku":"L1"},{"name":"<b>x</b>","sku":"FAIL"}]`)

	rec := do(t, s, http.MethodGet, "/jobs/"+job.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"<!DOCTYPE html>", job.ID, "completed", "<h2>Errors (1)</h2>"} {
		if !strings.Contains(body, want) {
			t.Errorf("report is missing %q", want)
		}
	}

	rec = do(t, s, http.MethodGet, "/jobs/missing", nil, nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "JOB001") {
		t.Errorf("missing job: status %d body %q", rec.Code, rec.Body)
	}
}

// ----------------------------------------------------------------------------
// Image validation, tracking and status
// ----------------------------------------------------------------------------

func TestValidateImageURL(t *testing.T) {
	tests := []struct {
		url       string
		wantValid bool
	}{
		{"https://cdn.example.com/a.png", true},
		{"/uploads/a.png", true},
		{"", true},
		{"ftp://example.com/a.png", false},
		{"data:image/png;base64,iVBORw0KGgo=", false},
	}

	s := newTestServer(t, testConfig(), Options{})
	for _, tt := range tests {
		body := fmt.Sprintf(`{"url":%q}`, tt.url)
		rec := do(t, s, http.MethodPost, "/api/validate/image-url", strings.NewReader(body), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.url, rec.Code)
		}
		got := readJSON[core.ImageValidation](t, rec)
		if got.Valid != tt.wantValid {
			t.Errorf("%q: valid = %v, want %v (%s)", tt.url, got.Valid, tt.wantValid, got.Error)
		}
	}

	rec := do(t, s, http.MethodPost, "/api/validate/image-url", strings.NewReader("nope"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
}

func TestShipments_TrackingDisabled(t *testing.T) {
	s := newTestServer(t, testConfig(), Options{})

	for _, target := range []string{"/api/shipments/abc/sync", "/api/shipments/sync-active"} {
		rec := do(t, s, http.MethodPost, target, nil, nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("POST %s status = %d, want 503", target, rec.Code)
		}
		if resp := readJSON[ErrorResponse](t, rec); resp.Code != "TRK001" {
			t.Errorf("POST %s code = %s, want TRK001", target, resp.Code)
		}
	}
}

func TestStatus(t *testing.T) {
	breakers := core.NewBreakerSet(core.BreakerOptions{})
	breakers.Get("17track")
	s := newTestServer(t, testConfig(), Options{Breakers: breakers})

	rec := do(t, s, http.MethodGet, "/api/status", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got struct {
		Imports  core.ImportGateStatus `json:"imports"`
		Breakers []core.BreakerStatus  `json:"breakers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Breakers) != 1 || got.Breakers[0].Name != "17track" || got.Breakers[0].State != core.StateClosed {
		t.Errorf("breakers = %+v", got.Breakers)
	}
}

func TestResetBreakers(t *testing.T) {
	breakers := core.NewBreakerSet(core.BreakerOptions{FailureThreshold: 1})
	b := breakers.Get("17track")
	b.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	if b.State() != core.StateOpen {
		t.Fatalf("State() = %s, want open", b.State())
	}

	s := newTestServer(t, testConfig(), Options{Breakers: breakers})
	rec := do(t, s, http.MethodPost, "/api/breakers/reset", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if b.State() != core.StateClosed {
		t.Errorf("State() after reset = %s, want closed", b.State())
	}
}

func TestMetricsMounted(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}

	s := newTestServer(t, cfg, Options{})
	if rec := do(t, s, http.MethodGet, "/metrics", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("without handler status = %d, want 404", rec.Code)
	}

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "stockroom_up 1\n")
	})
	s = newTestServer(t, cfg, Options{Metrics: metrics})
	rec := do(t, s, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "stockroom_up") {
		t.Errorf("GET /metrics = %d %q, want 200 without an API key", rec.Code, rec.Body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", core.ErrUnknownEntity), http.StatusNotFound},
		{core.ErrTooManyImports, http.StatusTooManyRequests},
		{fmt.Errorf("%w: 20001 records", core.ErrTooManyItems), http.StatusRequestEntityTooLarge},
		{&core.CircuitOpenError{Name: "17track"}, http.StatusServiceUnavailable},
		{tracking.ErrNotConfigured, http.StatusServiceUnavailable},
		{tracking.ErrNoTrackingInfo, http.StatusBadGateway},
		{fmt.Errorf("lookup: %w", tracking.ErrShipmentNotFound), http.StatusNotFound},
		{core.Fatal(errors.New("unknown supplier")), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Middleware wiring
// ----------------------------------------------------------------------------

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}
	s := newTestServer(t, cfg, Options{})

	if rec := do(t, s, http.MethodGet, "/api/entities", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/entities", nil, map[string]string{"X-API-Key": "k1"}); rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200 without a key", rec.Code)
	}
}

func TestRateLimitWired(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	s := newTestServer(t, cfg, Options{})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(t, s, http.MethodGet, "/healthz", nil, nil).Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want 200, 200, 429", codes)
	}
}
