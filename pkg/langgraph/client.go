package langgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/user/graphchat/pkg/langgraph"

var (
	tracer = otel.Tracer(instrumentation)
	meter  = otel.Meter(instrumentation)

	requestCounter, _ = meter.Int64Counter("langgraph.requests",
		metric.WithDescription("LangGraph API requests by operation and outcome"))
)

func countRequest(ctx context.Context, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 4096

// Config holds the connection settings for a LangGraph service.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout applies to non-streaming requests. Zero leaves the transport
	// defaults in place.
	Timeout time.Duration
}

// Client talks to the LangGraph HTTP API.
type Client struct {
	config       *Config
	httpClient   *http.Client
	streamClient *http.Client
}

// New creates a client for the service described by config.
func New(config *Config) *Client {
	cfg := *config
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config:       &cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
	}
}

// BaseURL returns the normalized service URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: API error (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Op, e.StatusCode, e.Body)
}

// Info calls GET /info. Any 2xx response means the service is alive.
func (c *Client) Info(ctx context.Context) error {
	return c.do(ctx, "info", http.MethodGet, "/info", nil, nil)
}

// CreateThread calls POST /threads.
func (c *Client) CreateThread(ctx context.Context, req CreateThreadRequest) (*Thread, error) {
	if req.Messages == nil {
		req.Messages = []Message{}
	}
	var thread Thread
	if err := c.do(ctx, "create thread", http.MethodPost, "/threads", req, &thread); err != nil {
		return nil, err
	}
	if thread.ThreadID == "" {
		return nil, fmt.Errorf("create thread: response has no thread_id")
	}
	return &thread, nil
}

// DeleteThread calls DELETE /threads/{id}.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, "delete thread", http.MethodDelete, "/threads/"+url.PathEscape(threadID), nil, nil)
}

// SearchThreads calls POST /threads/search.
func (c *Client) SearchThreads(ctx context.Context, req SearchThreadsRequest) ([]Thread, error) {
	var threads []Thread
	if err := c.do(ctx, "search threads", http.MethodPost, "/threads/search", req, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// GetThreadState calls GET /threads/{id}/state.
func (c *Client) GetThreadState(ctx context.Context, threadID string) (*ThreadState, error) {
	var state ThreadState
	path := "/threads/" + url.PathEscape(threadID) + "/state"
	if err := c.do(ctx, "get thread state", http.MethodGet, path, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// StreamRun calls POST /threads/{id}/runs/stream and returns the open event
// stream. The caller must Close it. A non-2xx status is returned as a
// *StatusError without reading any events.
func (c *Client) StreamRun(ctx context.Context, threadID string, req RunRequest) (_ *RunStream, err error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/stream"
	ctx, span := tracer.Start(ctx, "langgraph.stream run", trace.WithAttributes(
		attribute.String("langgraph.thread_id", threadID),
		attribute.String("langgraph.assistant_id", req.AssistantID),
	))
	defer func() { countRequest(ctx, "stream run", err) }()

	httpReq, err := c.newRequest(ctx, http.MethodPost, path, req)
	if err != nil {
		endSpan(span, err)
		return nil, fmt.Errorf("stream run: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		endSpan(span, err)
		return nil, fmt.Errorf("stream run: sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		serr := &StatusError{Op: "stream run", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		endSpan(span, serr)
		return nil, serr
	}
	return newRunStream(resp.Body, span), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("X-Api-Key", c.config.APIKey)
	}
	return req, nil
}

// do performs a JSON request and decodes the response into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := tracer.Start(ctx, "langgraph."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
	defer func() {
		countRequest(ctx, op, err)
		endSpan(span, err)
	}()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: sending request: %w", op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", op, err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: parsing response: %w", op, err)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
