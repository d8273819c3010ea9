// Package web serves the chat over HTTP: a bootstrap redirect and page at
// "/", a small JSON API over the chat controller, and a webhook endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/graphchat/internal/chat"
	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/render"
	"github.com/user/graphchat/internal/stream"
	"github.com/user/graphchat/internal/threads"
	"github.com/user/graphchat/internal/types"
)

// AskFunc submits prompt in the chat identified by key and returns the
// assistant's reply.
type AskFunc func(ctx context.Context, key types.SessionKey, prompt string) (string, error)

// DefaultWebhookKey is the chat used by webhook calls without a session_key.
const DefaultWebhookKey = types.SessionKey("webhook:default")

// readyTimeout bounds how long the page waits for a switched thread to load.
const readyTimeout = 10 * time.Second

// Server is the HTTP handler for the web front-end.
type Server struct {
	chat   *chat.Controller
	ask    AskFunc
	logger *slog.Logger
	mux    *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithAsk enables POST /webhook.
func WithAsk(fn AskFunc) Option {
	return func(s *Server) { s.ask = fn }
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a Server presenting c.
func NewServer(c *chat.Controller, opts ...Option) *Server {
	s := &Server{
		chat:   c,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/threads", s.handleThreads)
	s.mux.HandleFunc("POST /api/thread", s.handleSelectThread)
	s.mux.HandleFunc("GET /api/messages", s.handleMessages)
	s.mux.HandleFunc("POST /api/messages", s.handleSubmit)
	s.mux.HandleFunc("POST /api/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/config", s.handleConfig)
	s.mux.HandleFunc("POST /webhook", s.handleWebhook)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	params := s.chat.Params()
	if target, ok := config.BootstrapRedirect(r.URL, params.Defaults()); ok {
		http.Redirect(w, r, target.String(), http.StatusFound)
		return
	}
	params.Replace(r.URL.Query())

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.chat.WaitReady(ctx); err != nil {
		s.logger.Warn("page rendered before session was ready", "error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, s.pageData()); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}

type statusResponse struct {
	Status      types.Status `json:"status"`
	APIURL      string       `json:"api_url"`
	AssistantID string       `json:"assistant_id"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Query       string       `json:"query"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := s.chat.Identity()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:      s.chat.Status(),
		APIURL:      id.ServiceURL,
		AssistantID: id.AssistantID,
		ThreadID:    id.ThreadID,
		Query:       s.chat.Params().Encode(),
	})
}

type threadResponse struct {
	ThreadID string `json:"thread_id"`
	Preview  string `json:"preview"`
}

type threadsResponse struct {
	Loading bool             `json:"loading"`
	Threads []threadResponse `json:"threads"`
}

func toThreadResponses(list []threads.Summary) []threadResponse {
	out := make([]threadResponse, 0, len(list))
	for _, t := range list {
		out = append(out, threadResponse{ThreadID: t.ThreadID, Preview: t.Preview})
	}
	return out
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, threadsResponse{
		Loading: s.chat.ThreadsLoading(),
		Threads: toThreadResponses(s.chat.Threads()),
	})
}

type selectThreadRequest struct {
	ThreadID string `json:"thread_id"`
}

// handleSelectThread binds the chat to a thread. An empty thread_id starts
// a new chat.
func (s *Server) handleSelectThread(w http.ResponseWriter, r *http.Request) {
	var req selectThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ThreadID == "" {
		s.chat.NewChat()
	} else if err := s.chat.SwitchThread(r.Context(), req.ThreadID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeMessages(w, s.chat.State(), s.renderOptions(r))
}

type toolResponse struct {
	Name        string      `json:"name,omitempty"`
	CallID      string      `json:"tool_call_id,omitempty"`
	Title       string      `json:"title"`
	Rows        []rowResult `json:"rows,omitempty"`
	Text        string      `json:"text,omitempty"`
	Collapsible bool        `json:"collapsible"`
	Collapsed   bool        `json:"collapsed"`
	HiddenRows  int         `json:"hidden_rows,omitempty"`
}

type rowResult struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type messageResponse struct {
	ID   string        `json:"id,omitempty"`
	Role string        `json:"role"`
	Text string        `json:"text,omitempty"`
	Tool *toolResponse `json:"tool,omitempty"`
}

type messagesResponse struct {
	ThreadID string            `json:"thread_id,omitempty"`
	Loading  bool              `json:"loading"`
	Messages []messageResponse `json:"messages"`
	UI       int               `json:"ui_events"`
}

func (s *Server) renderOptions(r *http.Request) render.Options {
	return render.Options{
		HideToolCalls: s.chat.Params().Bool(config.ParamHideToolCalls),
		Expanded:      r.URL.Query().Get("expanded") == "true",
	}
}

func (s *Server) writeMessages(w http.ResponseWriter, st stream.State, opts render.Options) {
	items := render.Items(st.Messages, opts)
	out := make([]messageResponse, 0, len(items))
	for _, it := range items {
		m := messageResponse{ID: it.ID, Role: string(it.Role), Text: it.Text}
		if v := it.Tool; v != nil {
			tr := &toolResponse{
				Name: v.Name, CallID: v.CallID, Title: v.Title(), Text: v.Text,
				Collapsible: v.Collapsible, Collapsed: v.Collapsed, HiddenRows: v.HiddenRows,
			}
			for _, row := range v.Rows {
				tr.Rows = append(tr.Rows, rowResult{Key: row.Key, Value: row.Value})
			}
			m.Tool = tr
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, messagesResponse{ThreadID: st.ThreadID, Loading: st.Loading, Messages: out, UI: len(st.UI)})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.writeMessages(w, s.chat.State(), s.renderOptions(r))
}

type submitRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := s.chat.Submit(r.Context(), req.Text); err != nil {
		switch {
		case errors.Is(err, stream.ErrBusy):
			writeError(w, http.StatusConflict, "a run is already in progress")
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	s.writeMessages(w, s.chat.State(), s.renderOptions(r))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.chat.Stop()
	w.WriteHeader(http.StatusNoContent)
}

type configRequest struct {
	APIURL      string `json:"apiUrl"`
	AssistantID string `json:"assistantId"`
	Reset       bool   `json:"reset"`
}

// handleConfig applies a new service URL and assistant, or resets both to
// the defaults, and returns the canonical query of the new state.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Reset {
		req.APIURL, req.AssistantID = "", ""
	}
	if err := s.chat.Configure(req.APIURL, req.AssistantID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"query": s.chat.Params().Encode()})
}

// webhookRequest is the JSON body for POST /webhook.
type webhookRequest struct {
	Prompt     string `json:"prompt"`
	SessionKey string `json:"session_key"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.ask == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	key := DefaultWebhookKey
	if req.SessionKey != "" {
		key = types.NewSessionKey("webhook", req.SessionKey)
	}

	resp, err := s.ask(r.Context(), key, req.Prompt)
	if err != nil {
		s.logger.Error("webhook handler failed", "chat", string(key), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": resp})
}
