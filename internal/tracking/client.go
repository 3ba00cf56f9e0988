package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/stockroom/internal/core"
)

// DefaultBaseURL is the 17track v2.2 API.
const DefaultBaseURL = "https://api.17track.net/track/v2.2"

// ErrNotConfigured is returned by every call when no API key is set.
var ErrNotConfigured = errors.New("tracking is not configured: missing 17track API key")

// APIError is a non-2xx response from 17track.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("17track API error: %d", e.Status)
}

// StatusCode lets the retry classifier see the HTTP status.
func (e *APIError) StatusCode() int { return e.Status }

// RejectedError is a number 17track refused to register or look up.
type RejectedError struct {
	Number  string
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("17track rejected %s", e.Number)
	}
	return fmt.Sprintf("17track rejected %s: %s", e.Number, e.Message)
}

// ClientOptions configures a Client. Zero values take the defaults.
type ClientOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Breaker    *core.Breaker
	Retry      *core.RetryOptions
	Cache      *Cache
	Logger     *slog.Logger
}

// Client talks to 17track. Every request runs through a circuit breaker and
// is retried on transient failures.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	breaker *core.Breaker
	retry   core.RetryOptions
	cache   *Cache
	logger  *slog.Logger
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
		breaker: opts.Breaker,
		cache:   opts.Cache,
		logger:  opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.breaker == nil {
		c.breaker = core.NewBreaker("17track", core.BreakerOptions{})
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	} else {
		c.retry = core.DefaultRetryOptions()
		c.retry.MaxRetries = 2
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(err error, attempt int) {
			c.logger.Warn("retrying 17track request", "attempt", attempt, "error", err)
		}
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Breaker returns the breaker guarding the API.
func (c *Client) Breaker() *core.Breaker { return c.breaker }

type numberRequest struct {
	Number  string `json:"number"`
	Carrier int    `json:"carrier,omitempty"`
}

type rejection struct {
	Number string `json:"number"`
	Error  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r rejection) err() error {
	return core.Fatal(&RejectedError{Number: r.Number, Code: r.Error.Code, Message: r.Error.Message})
}

type registerResponse struct {
	Code int `json:"code"`
	Data struct {
		Accepted []struct {
			Number  string `json:"number"`
			Carrier int    `json:"carrier"`
		} `json:"accepted"`
		Rejected []rejection `json:"rejected"`
	} `json:"data"`
}

type wireEvent struct {
	A string `json:"a"`
	Z string `json:"z"`
	C string `json:"c"`
	S string `json:"s"`
}

type wireTrackInfo struct {
	E  int    `json:"e"`
	No string `json:"no"`
	W1 *struct {
		E        int         `json:"e"`
		A        string      `json:"a"`
		Z1       string      `json:"z1"`
		C        int         `json:"c"`
		Track    []wireEvent `json:"track"`
		LastInfo *struct {
			A string `json:"a"`
			Z string `json:"z"`
		} `json:"last_info"`
	} `json:"w1"`
}

type trackResponse struct {
	Code int `json:"code"`
	Data struct {
		Accepted []wireTrackInfo `json:"accepted"`
		Rejected []rejection     `json:"rejected"`
	} `json:"data"`
}

// Register asks 17track to start tracking number. carrier 0 lets 17track
// detect the carrier.
func (c *Client) Register(ctx context.Context, number string, carrier int) error {
	var resp registerResponse
	if err := c.post(ctx, "/register", []numberRequest{{Number: number, Carrier: carrier}}, &resp); err != nil {
		return err
	}
	if len(resp.Data.Accepted) > 0 {
		c.logger.Info("registered tracking number", "number", number)
		return nil
	}
	if len(resp.Data.Rejected) > 0 {
		return resp.Data.Rejected[0].err()
	}
	return core.Fatal(errors.New("unknown response from 17track"))
}

// TrackInfo returns the tracking state of number, from the cache when
// possible.
func (c *Client) TrackInfo(ctx context.Context, number string) (TrackInfo, error) {
	if info, ok, err := c.cache.Get(ctx, number); err != nil {
		c.logger.Warn("tracking cache read failed", "number", number, "error", err)
	} else if ok {
		return info, nil
	}

	var resp trackResponse
	if err := c.post(ctx, "/gettrackinfo", []numberRequest{{Number: number}}, &resp); err != nil {
		return TrackInfo{}, err
	}
	if len(resp.Data.Accepted) == 0 {
		if len(resp.Data.Rejected) > 0 {
			return TrackInfo{}, resp.Data.Rejected[0].err()
		}
		return TrackInfo{}, core.Fatal(errors.New("unknown response from 17track"))
	}

	info, err := convertTrackInfo(number, resp.Data.Accepted[0])
	if err != nil {
		return TrackInfo{}, err
	}
	if err := c.cache.Set(ctx, info); err != nil {
		c.logger.Warn("tracking cache write failed", "number", number, "error", err)
	}
	return info, nil
}

func convertTrackInfo(number string, w wireTrackInfo) (TrackInfo, error) {
	if w.E != 0 {
		return TrackInfo{}, core.Fatal(fmt.Errorf("track error code: %d", w.E))
	}
	info := TrackInfo{Number: number, Status: StatusNotFound, Events: []Event{}}
	if w.W1 == nil {
		return info, nil
	}

	info.Status = StatusFromCode(w.W1.E)
	info.LastEvent = w.W1.Z1
	if info.LastEvent == "" && w.W1.LastInfo != nil {
		info.LastEvent = w.W1.LastInfo.Z
	}
	info.LastEventTime = parseEventTime(w.W1.A)
	if w.W1.C != 0 {
		info.CarrierCode = strconv.Itoa(w.W1.C)
	}
	for _, e := range w.W1.Track {
		info.Events = append(info.Events, Event{Time: e.A, Description: e.Z, Location: e.C, Status: e.S})
	}
	return info, nil
}

// post sends body as JSON and decodes a 2xx response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if !c.Configured() {
		return core.Fatal(ErrNotConfigured)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	_, err = core.WithRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.do(ctx, path, payload, out)
		})
	}, c.retry)
	return err
}

func (c *Client) do(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("17token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := &APIError{Status: resp.StatusCode, Body: string(body)}
		c.logger.Error("17track request failed", "path", path, "status", resp.StatusCode, "body", apiErr.Body)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode 17track response: %w", err)
	}
	return nil
}
