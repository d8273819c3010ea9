// Package langgraphtest provides an in-memory LangGraph server for tests.
package langgraphtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/user/graphchat/pkg/langgraph"
)

// Routes accepted by SetStatus.
const (
	RouteInfo   = "info"
	RouteCreate = "create"
	RouteSearch = "search"
	RouteState  = "state"
	RouteRun    = "run"
	RouteDelete = "delete"
)

// Request is a recorded request.
type Request struct {
	Method string
	Path   string
	APIKey string
	Body   []byte
}

type thread struct {
	id       string
	metadata map[string]any
	messages []langgraph.Message
	ui       []json.RawMessage
	updated  time.Time
}

// Server fakes the LangGraph thread and run endpoints.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	threads  map[string]*thread
	requests []Request
	status   map[string]int
	delay    map[string]time.Duration
	nextID   int
	reply    func(input []langgraph.Message) []langgraph.Message
	custom   []json.RawMessage
	hold     chan struct{}
	runError string
}

// NewServer starts a fake server. Runs reply with "echo: <text>" by default.
func NewServer() *Server {
	s := &Server{
		threads: make(map[string]*thread),
		status:  make(map[string]int),
		delay:   make(map[string]time.Duration),
	}
	s.reply = func(input []langgraph.Message) []langgraph.Message {
		var out []langgraph.Message
		for _, m := range input {
			out = append(out, langgraph.Message{
				ID:      "ai-" + m.ID,
				Type:    langgraph.RoleAI,
				Content: langgraph.TextContent("echo: " + m.Content.Text()),
			})
		}
		return out
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("POST /threads", s.handleCreate)
	mux.HandleFunc("POST /threads/search", s.handleSearch)
	mux.HandleFunc("GET /threads/{id}/state", s.handleState)
	mux.HandleFunc("POST /threads/{id}/runs/stream", s.handleRun)
	mux.HandleFunc("DELETE /threads/{id}", s.handleDelete)
	s.Server = httptest.NewServer(s.record(mux))
	return s
}

// SetStatus makes route fail with code. Zero restores normal handling.
func (s *Server) SetStatus(route string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == 0 {
		delete(s.status, route)
		return
	}
	s.status[route] = code
}

// SetDelay makes route wait d before answering, or until the client goes
// away. Zero removes the delay.
func (s *Server) SetDelay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[route] = d
}

// SetReply replaces the function that produces run output.
func (s *Server) SetReply(fn func(input []langgraph.Message) []langgraph.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = fn
}

// SetCustomEvents sets the custom events emitted during each run.
func (s *Server) SetCustomEvents(events ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom = nil
	for _, e := range events {
		s.custom = append(s.custom, json.RawMessage(e))
	}
}

// SetRunError makes runs emit an error event after the first values event.
func (s *Server) SetRunError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runError = msg
}

// Hold makes runs pause after their first values event until the returned
// func is called or the client goes away.
func (s *Server) Hold() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(ch)
			s.mu.Lock()
			if s.hold == ch {
				s.hold = nil
			}
			s.mu.Unlock()
		})
	}
}

// AddThread stores a thread with the given metadata and messages.
func (s *Server) AddThread(id string, metadata map[string]any, msgs ...langgraph.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[id] = &thread{id: id, metadata: metadata, messages: msgs, updated: s.tick()}
}

// Messages returns the stored messages of a thread.
func (s *Server) Messages(id string) []langgraph.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[id]; ok {
		return append([]langgraph.Message(nil), t.messages...)
	}
	return nil
}

// HasThread reports whether id exists.
func (s *Server) HasThread(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.threads[id]
	return ok
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests matched method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// CountPrefix returns how many requests matched method and a path prefix.
func (s *Server) CountPrefix(method, prefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

// tick returns strictly increasing timestamps so search order is stable.
func (s *Server) tick() time.Time {
	s.nextID++
	return time.Unix(1700000000+int64(s.nextID), 0).UTC()
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			APIKey: r.Header.Get("X-Api-Key"),
			Body:   body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) failed(w http.ResponseWriter, r *http.Request, route string) bool {
	s.mu.Lock()
	code, delay := s.status[route], s.delay[route]
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			http.Error(w, `{"detail":"client went away"}`, http.StatusServiceUnavailable)
			return true
		}
	}
	if code == 0 {
		return false
	}
	http.Error(w, fmt.Sprintf(`{"detail":"%s failed"}`, route), code)
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (t *thread) wire() langgraph.Thread {
	values, _ := json.Marshal(langgraph.Values{Messages: t.messages, UI: t.ui})
	return langgraph.Thread{
		ThreadID:  t.id,
		CreatedAt: t.updated,
		UpdatedAt: t.updated,
		Status:    "idle",
		Metadata:  t.metadata,
		Values:    values,
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r, RouteInfo) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": "test"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r, RouteCreate) {
		return
	}
	var req langgraph.CreateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	id := fmt.Sprintf("t%d", s.nextID+1)
	metadata := map[string]any{"graph_id": req.AssistantID}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	t := &thread{id: id, metadata: metadata, messages: req.Messages, updated: s.tick()}
	s.threads[id] = t
	out := t.wire()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r, RouteSearch) {
		return
	}
	var req langgraph.SearchThreadsRequest
	json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	var matched []*thread
	for _, t := range s.threads {
		if matches(t.metadata, req.Metadata) {
			matched = append(matched, t)
		}
	}
	s.mu.Unlock()

	// Most recently updated first.
	for i := 1; i < len(matched); i++ {
		for j := i; j > 0 && matched[j].updated.After(matched[j-1].updated); j-- {
			matched[j], matched[j-1] = matched[j-1], matched[j]
		}
	}
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}

	s.mu.Lock()
	out := make([]langgraph.Thread, 0, len(matched))
	for _, t := range matched {
		out = append(out, t.wire())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func matches(have, want map[string]any) bool {
	for k, v := range want {
		if fmt.Sprint(have[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r, RouteState) {
		return
	}
	s.mu.Lock()
	t, ok := s.threads[r.PathValue("id")]
	var state langgraph.ThreadState
	if ok {
		state.Values = langgraph.Values{Messages: t.messages, UI: t.ui}
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"detail":"thread not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r, RouteDelete) {
		return
	}
	s.mu.Lock()
	delete(s.threads, r.PathValue("id"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r, RouteRun) {
		return
	}
	var req langgraph.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	t, ok := s.threads[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		http.Error(w, `{"detail":"thread not found"}`, http.StatusNotFound)
		return
	}
	t.messages = append(t.messages, req.Input.Messages...)
	t.updated = s.tick()
	first := langgraph.Values{Messages: append([]langgraph.Message(nil), t.messages...), UI: t.ui}
	reply, custom, hold, runError := s.reply, s.custom, s.hold, s.runError
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	send := func(name string, v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	send(langgraph.EventMetadata, map[string]string{"run_id": "run-" + t.id})
	send(langgraph.EventValues, first)

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if runError != "" {
		send(langgraph.EventError, map[string]string{"error": "RunError", "message": runError})
		return
	}
	for _, c := range custom {
		send(langgraph.EventCustom, c)
	}

	out := reply(req.Input.Messages)
	s.mu.Lock()
	t.messages = append(t.messages, out...)
	t.ui = append(t.ui, custom...)
	t.updated = s.tick()
	final := langgraph.Values{Messages: append([]langgraph.Message(nil), t.messages...), UI: t.ui}
	s.mu.Unlock()

	send(langgraph.EventValues, final)
	send(langgraph.EventEnd, nil)
}
