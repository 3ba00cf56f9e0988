package tracking

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/stockroom/internal/core"
)

func fastRetry() *core.RetryOptions {
	opts := core.DefaultRetryOptions()
	opts.MaxRetries = 2
	opts.Sleep = func(context.Context, time.Duration) error { return nil }
	opts.OnRetry = func(error, int) {}
	return &opts
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{APIKey: "secret", BaseURL: srv.URL, Retry: fastRetry()}), srv
}

func TestClient_TrackInfo(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gettrackinfo" {
			t.Errorf("path = %s, want /gettrackinfo", r.URL.Path)
		}
		if r.Header.Get("17token") != "secret" {
			t.Errorf("17token header = %q", r.Header.Get("17token"))
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"number":"RR1CN"`) {
			t.Errorf("body = %s", body)
		}
		io.WriteString(w, `{"code":0,"data":{"accepted":[{"e":0,"no":"RR1CN","w1":{
			"e":40,"a":"2024-03-01T08:00:00Z","z1":"Delivered to recipient","c":3011,
			"track":[{"a":"2024-03-01T08:00:00Z","z":"Delivered to recipient","c":"Praha"},
			         {"a":"2024-02-27T10:00:00Z","z":"Departed origin"}]}}],"rejected":[]}}`)
	})

	info, err := c.TrackInfo(context.Background(), "RR1CN")
	if err != nil {
		t.Fatalf("TrackInfo() error = %v", err)
	}
	if info.Status != StatusDelivered {
		t.Errorf("Status = %s, want Delivered", info.Status)
	}
	if info.LastEvent != "Delivered to recipient" || info.LastEventTime.IsZero() {
		t.Errorf("LastEvent = %q at %v", info.LastEvent, info.LastEventTime)
	}
	if info.CarrierCode != "3011" {
		t.Errorf("CarrierCode = %q, want 3011", info.CarrierCode)
	}
	if len(info.Events) != 2 || info.Events[0].Location != "Praha" {
		t.Errorf("Events = %+v", info.Events)
	}
}

func TestClient_TrackInfoWithoutDetails(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":0,"data":{"accepted":[{"e":0,"no":"X"}],"rejected":[]}}`)
	})

	info, err := c.TrackInfo(context.Background(), "X")
	if err != nil {
		t.Fatalf("TrackInfo() error = %v", err)
	}
	if info.Status != StatusNotFound || len(info.Events) != 0 {
		t.Errorf("info = %+v, want NotFound with no events", info)
	}
}

func TestClient_Rejected(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"code":0,"data":{"accepted":[],"rejected":[{"number":"BAD","error":{"code":-18019902,"message":"The tracking number is invalid."}}]}}`)
	})

	err := c.Register(context.Background(), "BAD", 0)
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Register() error = %v, want RejectedError", err)
	}
	if rejected.Message != "The tracking number is invalid." {
		t.Errorf("Message = %q", rejected.Message)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, rejections must not be retried", calls.Load())
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"code":0,"data":{"accepted":[{"number":"RR1CN","carrier":3011}],"rejected":[]}}`)
	})

	if err := c.Register(context.Background(), "RR1CN", 3011); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.TrackInfo(context.Background(), "RR1CN")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode() != http.StatusUnauthorized {
		t.Fatalf("TrackInfo() error = %v, want 401 APIError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	retry := fastRetry()
	retry.MaxRetries = 0
	c := NewClient(ClientOptions{
		APIKey:  "secret",
		BaseURL: srv.URL,
		Retry:   retry,
		Breaker: core.NewBreaker("17track", core.BreakerOptions{FailureThreshold: 2}),
	})

	for i := 0; i < 2; i++ {
		if _, err := c.TrackInfo(context.Background(), "X"); err == nil {
			t.Fatal("expected error")
		}
	}
	_, err := c.TrackInfo(context.Background(), "X")
	if !errors.Is(err, core.ErrCircuitOpen) {
		t.Errorf("TrackInfo() error = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(ClientOptions{})
	if c.Configured() {
		t.Error("Configured() = true without a key")
	}
	if err := c.Register(context.Background(), "X", 0); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Register() error = %v, want ErrNotConfigured", err)
	}
}

func TestCache_DisabledIsNoop(t *testing.T) {
	var nilCache *Cache
	if nilCache.Enabled() {
		t.Error("nil cache reports enabled")
	}
	c := NewCache(context.Background(), nil, time.Minute)
	if c.Enabled() {
		t.Error("cache without client reports enabled")
	}
	if err := c.Set(context.Background(), TrackInfo{Number: "X"}); err != nil {
		t.Errorf("Set() error = %v", err)
	}
	if _, ok, err := c.Get(context.Background(), "X"); ok || err != nil {
		t.Errorf("Get() = %v, %v, want miss", ok, err)
	}
}
