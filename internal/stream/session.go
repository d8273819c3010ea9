// Package stream keeps the message state of one chat session and runs
// submissions against the agent service.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/user/graphchat/internal/types"
	"github.com/user/graphchat/internal/uievent"
	"github.com/user/graphchat/pkg/langgraph"
)

var (
	// ErrBusy is returned by Submit and Load while a run is in flight.
	ErrBusy = errors.New("stream: a run is already in progress")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("stream: session closed")
)

// StreamModes requested for every run.
var StreamModes = []string{langgraph.EventValues, langgraph.EventCustom}

// RunError is an error event reported by the service during a run.
type RunError struct {
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *RunError) Error() string {
	if e.Name == "" {
		return "run failed: " + e.Message
	}
	return fmt.Sprintf("run failed: %s: %s", e.Name, e.Message)
}

// State is a snapshot of the session.
type State struct {
	ThreadID string
	Messages []langgraph.Message
	UI       []uievent.Message
	Loading  bool
}

// SubmitOptions controls the optimistic update of a submit. When
// Optimistic is nil the new messages are appended to the current list.
type SubmitOptions struct {
	Optimistic func(prior []langgraph.Message) []langgraph.Message
}

// Session is one logical conversation with an assistant. It is bound to a
// thread either from the start or when its first submit creates one.
type Session struct {
	svc         types.AgentService
	assistantID string
	logger      *slog.Logger
	onThreadID  func(string)
	onChange    func(State)

	mu       sync.Mutex
	threadID string
	messages []langgraph.Message
	ui       *uievent.Log
	running  bool
	stopped  bool
	cancel   context.CancelFunc
	assigned bool
	closed   bool
	// submits counts started submits so a Load can tell its result is stale.
	submits uint64
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithThreadIDHandler sets the callback fired when the service assigns a
// thread to a session that started without one. It fires at most once.
func WithThreadIDHandler(fn func(threadID string)) Option {
	return func(s *Session) { s.onThreadID = fn }
}

// WithChangeHandler sets the callback fired after every state change.
func WithChangeHandler(fn func(State)) Option {
	return func(s *Session) { s.onChange = fn }
}

// New creates a session for id. Nothing is fetched until Load or Submit.
func New(svc types.AgentService, id types.Identity, opts ...Option) *Session {
	s := &Session{
		svc:         svc,
		assistantID: id.AssistantID,
		threadID:    id.ThreadID,
		ui:          &uievent.Log{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ThreadID returns the bound thread, or "" before the first submit.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Messages returns a copy of the current message list.
func (s *Session) Messages() []langgraph.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]langgraph.Message(nil), s.messages...)
}

// UI returns the current UI entries.
func (s *Session) UI() []uievent.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ui.Items()
}

// IsLoading reports whether a run is in flight.
func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	return State{
		ThreadID: s.threadID,
		Messages: append([]langgraph.Message(nil), s.messages...),
		UI:       s.ui.Items(),
		Loading:  s.running,
	}
}

// Load replaces the local state with the stored state of the bound thread.
// A session without a thread is reset to empty. The fetched state is
// dropped if a submit started or the session closed while it was loading.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	threadID, seq := s.threadID, s.submits
	s.mu.Unlock()

	var values langgraph.Values
	if threadID != "" {
		state, err := s.svc.GetThreadState(ctx, threadID)
		if err != nil {
			return fmt.Errorf("load thread %s: %w", threadID, err)
		}
		values = state.Values
	}

	s.mu.Lock()
	if s.closed || s.running || s.submits != seq || s.threadID != threadID {
		s.mu.Unlock()
		s.logger.Debug("discarding stale thread state", "thread_id", threadID)
		return nil
	}
	s.messages = values.Messages
	s.ui = uievent.NewLog(values.UI)
	snap, onChange := s.stateLocked(), s.changeHandlerLocked()
	s.mu.Unlock()
	onChange(snap)
	return nil
}

// Submit appends msgs to the conversation and streams the assistant's run
// until it ends. The local list is updated optimistically before any
// request is made. If the submit fails before the service sent any state,
// the optimistic update is rolled back; after that the service's state is
// kept. Stop ends the submit early without an error.
func (s *Session) Submit(ctx context.Context, msgs []langgraph.Message, opts SubmitOptions) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	prior := append([]langgraph.Message(nil), s.messages...)
	if opts.Optimistic != nil {
		s.messages = opts.Optimistic(append([]langgraph.Message(nil), prior...))
	} else {
		s.messages = append(append([]langgraph.Message(nil), prior...), msgs...)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.submits++
	s.stopped = false
	s.cancel = cancel
	threadID := s.threadID
	snap, onChange := s.stateLocked(), s.changeHandlerLocked()
	s.mu.Unlock()
	onChange(snap)

	received := false
	err := s.run(runCtx, threadID, msgs, &received)
	cancel()

	s.mu.Lock()
	stopped := s.stopped
	s.running = false
	s.cancel = nil
	if err != nil && !received && !stopped {
		s.messages = prior
	}
	snap, onChange = s.stateLocked(), s.changeHandlerLocked()
	s.mu.Unlock()
	onChange(snap)

	if stopped {
		return nil
	}
	return err
}

func (s *Session) run(ctx context.Context, threadID string, msgs []langgraph.Message, received *bool) error {
	if threadID == "" {
		thread, err := s.svc.CreateThread(ctx, langgraph.CreateThreadRequest{AssistantID: s.assistantID})
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		threadID = thread.ThreadID
		s.assignThread(threadID)
	}

	stream, err := s.svc.StreamRun(ctx, threadID, langgraph.RunRequest{
		AssistantID: s.assistantID,
		Input:       langgraph.RunInput{Messages: msgs},
		StreamMode:  StreamModes,
	})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}

		switch ev.Name {
		case langgraph.EventValues:
			var values langgraph.Values
			if err := json.Unmarshal(ev.Data, &values); err != nil {
				s.logger.Warn("ignoring malformed values event", "thread_id", threadID, "error", err)
				continue
			}
			*received = true
			s.update(func() {
				s.messages = values.Messages
				if values.UI != nil {
					s.ui = uievent.NewLog(values.UI)
				}
			})
		case langgraph.EventCustom:
			var applyErr error
			s.update(func() { applyErr = s.ui.Apply(ev.Data) })
			if applyErr != nil {
				s.logger.Warn("ignoring malformed custom event", "thread_id", threadID, "error", applyErr)
			}
		case langgraph.EventError:
			runErr := &RunError{}
			if err := json.Unmarshal(ev.Data, runErr); err != nil {
				runErr.Message = string(ev.Data)
			}
			return runErr
		case langgraph.EventEnd:
			return nil
		}
	}
}

// assignThread binds the session to a server-created thread and fires the
// thread-id callback the first time.
func (s *Session) assignThread(threadID string) {
	s.mu.Lock()
	s.threadID = threadID
	fire := !s.assigned && !s.closed && s.onThreadID != nil
	s.assigned = true
	s.mu.Unlock()

	s.logger.Debug("thread assigned", "thread_id", threadID)
	if fire {
		s.onThreadID(threadID)
	}
}

// Stop cancels the local consumption of the run in flight. The service may
// keep working on it.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.stopped = true
		s.cancel()
	}
}

// Close stops any run and silences all callbacks.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.stopped = true
		s.cancel()
	}
}

func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	snap, onChange := s.stateLocked(), s.changeHandlerLocked()
	s.mu.Unlock()
	onChange(snap)
}

func (s *Session) changeHandlerLocked() func(State) {
	if s.closed || s.onChange == nil {
		return func(State) {}
	}
	return s.onChange
}
