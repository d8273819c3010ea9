// Package threads caches the thread list of the active assistant.
package threads

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/graphchat/internal/types"
	"github.com/user/graphchat/pkg/langgraph"
)

const (
	DefaultLimit          = 100
	DefaultTitleMaxLength = 40
)

// Summary is the sidebar entry for a thread.
type Summary struct {
	ThreadID string `json:"thread_id"`
	Preview  string `json:"preview"`
}

// Store holds the thread list for one assistant. The list is only ever
// replaced as a whole.
type Store struct {
	svc         types.AgentService
	assistantID string
	limit       int
	titleMax    int
	logger      *slog.Logger

	mu        sync.Mutex
	threads   []langgraph.Thread
	loading   int
	listeners []func([]langgraph.Thread)
}

// Option configures a Store.
type Option func(*Store)

func WithLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithTitleMaxLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.titleMax = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty Store for assistantID.
func New(svc types.AgentService, assistantID string, opts ...Option) *Store {
	s := &Store{
		svc:         svc,
		assistantID: assistantID,
		limit:       DefaultLimit,
		titleMax:    DefaultTitleMaxLength,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchMetadata returns the metadata filter that selects the threads of an
// assistant. UUIDs name deployed assistants, anything else is a graph id.
func SearchMetadata(assistantID string) map[string]any {
	if types.IsUUID(assistantID) {
		return map[string]any{"assistant_id": assistantID}
	}
	return map[string]any{"graph_id": assistantID}
}

// GetThreads fetches up to the page limit of threads for the assistant in
// the order the service returns them. It does not touch the cache.
func (s *Store) GetThreads(ctx context.Context) ([]langgraph.Thread, error) {
	threads, err := s.svc.SearchThreads(ctx, langgraph.SearchThreadsRequest{
		Limit:    s.limit,
		Metadata: SearchMetadata(s.assistantID),
	})
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return threads, nil
}

// SetThreads replaces the cached list.
func (s *Store) SetThreads(list []langgraph.Thread) {
	s.mu.Lock()
	s.threads = append([]langgraph.Thread(nil), list...)
	snapshot := append([]langgraph.Thread(nil), s.threads...)
	listeners := append([]func([]langgraph.Thread){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Threads returns the cached list.
func (s *Store) Threads() []langgraph.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]langgraph.Thread(nil), s.threads...)
}

// Loading reports whether a Load is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

// OnChange registers fn to be called with the new list after every replace.
func (s *Store) OnChange(fn func([]langgraph.Thread)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Load fetches and caches the thread list with the loading flag raised for
// the duration of the fetch.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
	}()

	threads, err := s.GetThreads(ctx)
	if err != nil {
		return err
	}
	s.SetThreads(threads)
	return nil
}

// Refresh re-fetches the list in the background path. Failures are logged
// and leave the cache as it was. Concurrent refreshes race; the last one to
// finish wins.
func (s *Store) Refresh(ctx context.Context) {
	threads, err := s.GetThreads(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("thread refresh failed", "assistant_id", s.assistantID, "error", err)
		return
	}
	s.SetThreads(threads)
}

// Summaries returns a preview per cached thread.
func (s *Store) Summaries() []Summary {
	threads := s.Threads()
	out := make([]Summary, 0, len(threads))
	for _, t := range threads {
		out = append(out, Summary{ThreadID: t.ThreadID, Preview: Preview(t, s.titleMax)})
	}
	return out
}

// Preview is the text of the thread's first message when that message is
// from the user, cut to max runes. Other threads are named after their id.
func Preview(t langgraph.Thread, max int) string {
	msgs := t.Messages()
	if len(msgs) > 0 && msgs[0].Type == langgraph.RoleHuman {
		return truncate(msgs[0].Content.Text(), max)
	}
	return fmt.Sprintf("Chat %s...", prefix(t.ThreadID, 8))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
