// Package health tracks whether the configured assistant is reachable.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/graphchat/internal/scheduler"
	"github.com/user/graphchat/internal/types"
	"github.com/user/graphchat/pkg/langgraph"
)

const (
	DefaultInterval = 30 * time.Second
	cleanupTimeout  = 10 * time.Second
)

// Probe checks a target in three steps, each only after the previous one
// succeeded: service liveness, thread creation, run start. The throwaway
// thread is deleted afterwards whatever the run step returned; deletion
// errors are ignored.
func Probe(ctx context.Context, svc types.AgentService, assistantID string) error {
	if err := svc.Info(ctx); err != nil {
		return fmt.Errorf("liveness: %w", err)
	}

	thread, err := svc.CreateThread(ctx, langgraph.CreateThreadRequest{
		AssistantID: assistantID,
		Messages:    []langgraph.Message{},
	})
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	defer cleanup(ctx, svc, thread.ThreadID)

	stream, err := svc.StreamRun(ctx, thread.ThreadID, langgraph.RunRequest{
		AssistantID: assistantID,
		Input:       langgraph.RunInput{Messages: []langgraph.Message{}},
	})
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	stream.Close()
	return nil
}

func cleanup(ctx context.Context, svc types.AgentService, threadID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	_ = svc.DeleteThread(ctx, threadID)
}

// Monitor polls one target at a time and keeps its connection status.
type Monitor struct {
	factory  types.ServiceFactory
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	target    types.Target
	hasTarget bool
	status    types.Status
	gen       uint64
	scope     *scheduler.Scheduler
	cancel    context.CancelFunc
	ctx       context.Context
	listeners []func(types.Status)
	stopped   bool
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor. It does nothing until SetTarget is called.
func New(factory types.ServiceFactory, opts ...Option) *Monitor {
	m := &Monitor{
		factory:  factory,
		interval: DefaultInterval,
		logger:   slog.Default(),
		status:   types.StatusLoading,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers fn to be called with every status change.
func (m *Monitor) OnChange(fn func(types.Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Status returns the current status.
func (m *Monitor) Status() types.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Target returns the target being polled.
func (m *Monitor) Target() types.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// SetTarget switches polling to t. The status goes back to loading, a probe
// starts right away and the interval job restarts. Setting the current
// target again does nothing.
func (m *Monitor) SetTarget(t types.Target) {
	m.mu.Lock()
	if m.stopped || (m.hasTarget && m.target == t) {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()

	m.target = t
	m.hasTarget = true
	m.gen++
	gen := m.gen
	m.status = types.StatusLoading
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.scope = scheduler.New(scheduler.WithLogger(m.logger))
	m.scope.Every("health-probe", m.interval, func() { m.run(gen) })
	listeners := append([]func(types.Status){}, m.listeners...)
	m.mu.Unlock()

	m.logger.Debug("health target changed", "url", t.ServiceURL, "assistant_id", t.AssistantID)
	for _, fn := range listeners {
		fn(types.StatusLoading)
	}
	go m.run(gen)
}

// Check probes the current target now and returns the resulting status.
func (m *Monitor) Check(ctx context.Context) types.Status {
	m.mu.Lock()
	if !m.hasTarget {
		m.mu.Unlock()
		return types.StatusLoading
	}
	gen, target := m.gen, m.target
	m.mu.Unlock()

	status := m.probe(ctx, target)
	m.apply(gen, status)
	return status
}

// Stop cancels polling and any probe in flight.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.gen++
	m.teardownLocked()
}

func (m *Monitor) teardownLocked() {
	if m.scope != nil {
		m.scope.Stop()
		m.scope = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Monitor) run(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	ctx, target := m.ctx, m.target
	m.mu.Unlock()

	m.apply(gen, m.probe(ctx, target))
}

func (m *Monitor) probe(ctx context.Context, target types.Target) types.Status {
	err := Probe(ctx, m.factory(target), target.AssistantID)
	if err != nil {
		m.logger.Debug("health probe failed", "url", target.ServiceURL, "assistant_id", target.AssistantID, "error", err)
		return types.StatusError
	}
	return types.StatusConnected
}

// apply records status unless the target changed since the probe started.
func (m *Monitor) apply(gen uint64, status types.Status) {
	m.mu.Lock()
	if gen != m.gen || m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	listeners := append([]func(types.Status){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}
