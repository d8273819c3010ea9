package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/graphchat/internal/chat"
	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/types"
	"github.com/user/graphchat/pkg/langgraph/langgraphtest"
)

type mockAsk struct {
	lastKey    types.SessionKey
	lastPrompt string
	response   string
	err        error
}

func (m *mockAsk) Ask(ctx context.Context, key types.SessionKey, prompt string) (string, error) {
	m.lastKey = key
	m.lastPrompt = prompt
	return m.response, m.err
}

func setupServer(t *testing.T, srv *langgraphtest.Server, opts ...Option) (*Server, *chat.Controller) {
	t.Helper()
	params := config.NewParams(config.Defaults{APIURL: srv.URL, AssistantID: "agent"}, nil)
	c := chat.New(params, chat.NewServiceFactory(0), chat.Options{HealthInterval: -1})
	c.Start(context.Background())
	t.Cleanup(c.Close)
	if err := c.WaitReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	return NewServer(c, opts...), c
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	s, _ := setupServer(t, srv)

	w := do(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestIndexBootstrapRedirect(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	s, _ := setupServer(t, srv)

	w := do(t, s, http.MethodGet, "/?utm=x", "")
	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.Contains(loc, "assistantId=agent") || !strings.Contains(loc, "utm=x") {
		t.Errorf("unexpected redirect target %q", loc)
	}
}

func TestIndexAppliesQuery(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	srv.AddThread("abc", map[string]any{"graph_id": "agent"})
	s, c := setupServer(t, srv)

	w := do(t, s, http.MethodGet, "/?threadId=abc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := c.Identity().ThreadID; got != "abc" {
		t.Errorf("expected thread abc, got %q", got)
	}
	if !strings.Contains(w.Body.String(), "<title>graphchat</title>") {
		t.Error("expected page body")
	}
}

func TestSubmitAndMessages(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	s, _ := setupServer(t, srv)

	w := do(t, s, http.MethodPost, "/api/messages", `{"text":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	resp := decode[messagesResponse](t, w)
	if resp.ThreadID != "t1" {
		t.Errorf("expected thread t1, got %q", resp.ThreadID)
	}
	if len(resp.Messages) != 2 || resp.Messages[1].Text != "echo: hi" {
		t.Fatalf("unexpected messages %+v", resp.Messages)
	}

	w = do(t, s, http.MethodGet, "/api/messages", "")
	if got := decode[messagesResponse](t, w); len(got.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(got.Messages))
	}
}

func TestSubmitValidation(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	s, _ := setupServer(t, srv)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty text", `{"text":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, s, http.MethodPost, "/api/messages", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestSubmitFailure(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	srv.SetStatus(langgraphtest.RouteRun, http.StatusInternalServerError)
	s, _ := setupServer(t, srv)

	if w := do(t, s, http.MethodPost, "/api/messages", `{"text":"hi"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestStatusAndConfig(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	s, c := setupServer(t, srv)

	w := do(t, s, http.MethodPost, "/api/config", `{"assistantId":"researcher"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["query"] != "assistantId=researcher" {
		t.Errorf("unexpected query %q", resp["query"])
	}

	st := decode[statusResponse](t, do(t, s, http.MethodGet, "/api/status", ""))
	if st.AssistantID != "researcher" || st.APIURL != srv.URL {
		t.Errorf("unexpected status %+v", st)
	}

	do(t, s, http.MethodPost, "/api/config", `{"reset":true}`)
	if got := c.Identity().AssistantID; got != "agent" {
		t.Errorf("expected reset to default assistant, got %q", got)
	}
}

func TestThreadsAndSelect(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	srv.AddThread("abc", map[string]any{"graph_id": "agent"})
	s, c := setupServer(t, srv)
	if err := c.LoadThreads(context.Background()); err != nil {
		t.Fatal(err)
	}

	resp := decode[threadsResponse](t, do(t, s, http.MethodGet, "/api/threads", ""))
	if len(resp.Threads) != 1 || resp.Threads[0].ThreadID != "abc" {
		t.Fatalf("unexpected threads %+v", resp.Threads)
	}

	if w := do(t, s, http.MethodPost, "/api/thread", `{"thread_id":"abc"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := c.Identity().ThreadID; got != "abc" {
		t.Errorf("expected thread abc, got %q", got)
	}

	do(t, s, http.MethodPost, "/api/thread", `{"thread_id":""}`)
	if got := c.Params().String(config.ParamThreadID); got != "" {
		t.Errorf("expected thread cleared, got %q", got)
	}
}

func TestStop(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	s, _ := setupServer(t, srv)
	if w := do(t, s, http.MethodPost, "/api/stop", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestWebhook(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()
	mock := &mockAsk{response: "hello from agent"}
	s, _ := setupServer(t, srv, WithAsk(mock.Ask))

	w := do(t, s, http.MethodPost, "/webhook", `{"prompt":"say hi","session_key":"test"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["response"] != "hello from agent" {
		t.Errorf("expected 'hello from agent', got %q", resp["response"])
	}
	if mock.lastKey != "webhook:test" {
		t.Errorf("expected key 'webhook:test', got %q", mock.lastKey)
	}
	if mock.lastPrompt != "say hi" {
		t.Errorf("expected prompt 'say hi', got %q", mock.lastPrompt)
	}

	do(t, s, http.MethodPost, "/webhook", `{"prompt":"again"}`)
	if mock.lastKey != DefaultWebhookKey {
		t.Errorf("expected default key, got %q", mock.lastKey)
	}
}

func TestWebhookErrors(t *testing.T) {
	srv := langgraphtest.NewServer()
	defer srv.Close()

	s, _ := setupServer(t, srv)
	if w := do(t, s, http.MethodPost, "/webhook", `{"prompt":"x"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without ask handler, got %d", w.Code)
	}

	mock := &mockAsk{err: errors.New("boom")}
	s, _ = setupServer(t, srv, WithAsk(mock.Ask))
	if w := do(t, s, http.MethodPost, "/webhook", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing prompt, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/webhook", `{"prompt":"x"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}
