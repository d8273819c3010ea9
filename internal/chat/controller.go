// Package chat wires Config State, the health monitor, the thread store and
// the stream session together for one presentation surface.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/health"
	"github.com/user/graphchat/internal/scheduler"
	"github.com/user/graphchat/internal/stream"
	"github.com/user/graphchat/internal/threads"
	"github.com/user/graphchat/internal/types"
	"github.com/user/graphchat/pkg/langgraph"
)

const (
	DefaultThreadIDRefreshDelay = 4 * time.Second
	DefaultMessageRefreshDelay  = 3 * time.Second

	threadIDRefreshKey = "threads-after-thread-id"
	messageRefreshKey  = "threads-after-messages"
)

// ErrClosed is returned by operations on a closed Controller.
var ErrClosed = errors.New("chat: controller closed")

// Options tunes a Controller. Zero values select the defaults.
type Options struct {
	// HealthInterval below zero turns health polling off; the status then
	// only changes through CheckHealth.
	HealthInterval       time.Duration
	ThreadIDRefreshDelay time.Duration
	MessageRefreshDelay  time.Duration
	SearchLimit          int
	TitleMaxLength       int
	Logger               *slog.Logger
}

// NewServiceFactory returns a factory of LangGraph clients with the given
// request timeout.
func NewServiceFactory(timeout time.Duration) types.ServiceFactory {
	return func(t types.Target) types.AgentService {
		return langgraph.New(&langgraph.Config{BaseURL: t.ServiceURL, APIKey: t.APIKey, Timeout: timeout})
	}
}

// scope is everything that lives exactly as long as one session identity.
type scope struct {
	gen      uint64
	identity types.Identity
	ctx      context.Context
	cancel   context.CancelFunc
	timers   *scheduler.Scheduler
	session  *stream.Session
	threads  *threads.Store
	ready    chan struct{}
	msgCount int
}

// Controller follows the session identity held in Params. Whenever it
// changes, the running session, its refresh timers and, for a new target,
// the thread store and health target are replaced in one step. A thread id
// assigned by the running session itself is only recorded.
type Controller struct {
	params  *config.Params
	factory types.ServiceFactory
	opts    Options
	monitor *health.Monitor
	logger  *slog.Logger

	mu   sync.Mutex
	base context.Context
	cur  *scope
	// targetCtx outlives thread switches; it bounds thread list loads and
	// is replaced only when the server or assistant changes.
	targetCtx    context.Context
	targetCancel context.CancelFunc
	version      uint64
	gen          uint64
	closed       bool
	unsubscribe  func()

	listenMu        sync.Mutex
	sessionHandlers []func(stream.State)
	threadHandlers  []func([]threads.Summary)
}

// New creates a Controller. Call Start to begin following params.
func New(params *config.Params, factory types.ServiceFactory, opts Options) *Controller {
	if opts.ThreadIDRefreshDelay <= 0 {
		opts.ThreadIDRefreshDelay = DefaultThreadIDRefreshDelay
	}
	if opts.MessageRefreshDelay <= 0 {
		opts.MessageRefreshDelay = DefaultMessageRefreshDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		params:  params,
		factory: factory,
		opts:    opts,
		logger:  opts.Logger,
		monitor: health.New(factory, health.WithInterval(opts.HealthInterval), health.WithLogger(opts.Logger)),
	}
}

// Start builds the scope for the current identity and subscribes to
// parameter changes. ctx bounds all background work.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.base = ctx
	c.mu.Unlock()

	unsubscribe := c.params.Subscribe(func(snap config.Snapshot) {
		c.sync(snap)
	})
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.sync(c.params.Snapshot())
}

// Close tears down the current scope and stops health polling.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.teardownLocked()
	if c.targetCancel != nil {
		c.targetCancel()
	}
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.monitor.Stop()
}

// sync reconciles the running scope with the identity snap selects.
// Snapshots older than the last one applied are ignored.
func (c *Controller) sync(snap config.Snapshot) {
	id := snap.Identity()
	c.mu.Lock()
	if c.closed || c.base == nil || (c.cur != nil && snap.Version < c.version) {
		c.mu.Unlock()
		return
	}
	c.version = snap.Version
	old := c.cur
	if old != nil && old.identity == id {
		c.mu.Unlock()
		return
	}
	if old != nil && old.identity.Target() == id.Target() && id.ThreadID != "" && id.ThreadID == old.session.ThreadID() {
		old.identity = id
		c.mu.Unlock()
		return
	}

	var store *threads.Store
	targetChanged := old == nil || old.identity.Target() != id.Target()
	if !targetChanged {
		store = old.threads
	}
	c.teardownLocked()
	if targetChanged {
		if c.targetCancel != nil {
			c.targetCancel()
		}
		c.targetCtx, c.targetCancel = context.WithCancel(c.base)
	}
	loadCtx := c.targetCtx

	svc := c.factory(id.Target())
	if store == nil {
		store = threads.New(svc, id.AssistantID,
			threads.WithLimit(c.opts.SearchLimit),
			threads.WithTitleMaxLength(c.opts.TitleMaxLength),
			threads.WithLogger(c.logger))
		store.OnChange(func([]langgraph.Thread) { c.notifyThreads(store.Summaries()) })
	}

	c.gen++
	sc := &scope{
		gen:      c.gen,
		identity: id,
		timers:   scheduler.New(scheduler.WithLogger(c.logger)),
		threads:  store,
		ready:    make(chan struct{}),
	}
	sc.ctx, sc.cancel = context.WithCancel(c.base)
	gen := sc.gen
	sc.session = stream.New(svc, id,
		stream.WithLogger(c.logger),
		stream.WithThreadIDHandler(func(threadID string) { c.threadAssigned(gen, threadID) }),
		stream.WithChangeHandler(func(st stream.State) { c.sessionChanged(gen, st) }),
	)
	c.cur = sc
	c.mu.Unlock()

	c.logger.Info("session identity changed",
		"url", id.ServiceURL, "assistant_id", id.AssistantID, "thread_id", id.ThreadID)

	if c.opts.HealthInterval >= 0 && c.live(gen) != nil {
		c.monitor.SetTarget(id.Target())
	}
	go func() {
		defer close(sc.ready)
		if err := sc.session.Load(sc.ctx); err != nil && sc.ctx.Err() == nil {
			c.logger.Warn("failed to load thread", "thread_id", id.ThreadID, "error", err)
		}
	}()
	if targetChanged {
		go func() {
			if err := store.Load(loadCtx); err != nil && loadCtx.Err() == nil {
				c.logger.Warn("failed to load threads", "assistant_id", id.AssistantID, "error", err)
			}
		}()
	}
}

// teardownLocked cancels every timer and the session of the current scope
// before anything new is started.
func (c *Controller) teardownLocked() {
	if c.cur == nil {
		return
	}
	c.cur.timers.Stop()
	c.cur.session.Close()
	c.cur.cancel()
	c.cur = nil
}

func (c *Controller) live(gen uint64) *scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || c.cur.gen != gen {
		return nil
	}
	return c.cur
}

// threadAssigned records a server-assigned thread in params and refreshes
// the thread list once the service had time to store its first summary.
func (c *Controller) threadAssigned(gen uint64, threadID string) {
	sc := c.live(gen)
	if sc == nil {
		return
	}
	if err := c.params.SetString(config.ParamThreadID, threadID); err != nil {
		c.logger.Error("failed to record thread id", "error", err)
	}
	sc.timers.After(threadIDRefreshKey, c.opts.ThreadIDRefreshDelay, func() {
		sc.threads.Refresh(sc.ctx)
	})
}

// sessionChanged schedules a debounced thread list refresh whenever the
// message count of a bound session changes.
func (c *Controller) sessionChanged(gen uint64, st stream.State) {
	c.mu.Lock()
	sc := c.cur
	if sc == nil || sc.gen != gen {
		c.mu.Unlock()
		return
	}
	changed := len(st.Messages) != sc.msgCount
	sc.msgCount = len(st.Messages)
	c.mu.Unlock()

	if changed && len(st.Messages) > 0 && st.ThreadID != "" {
		sc.timers.After(messageRefreshKey, c.opts.MessageRefreshDelay, func() {
			sc.threads.Refresh(sc.ctx)
		})
	}

	c.listenMu.Lock()
	handlers := append([]func(stream.State){}, c.sessionHandlers...)
	c.listenMu.Unlock()
	for _, fn := range handlers {
		fn(st)
	}
}

func (c *Controller) notifyThreads(list []threads.Summary) {
	c.listenMu.Lock()
	handlers := append([]func([]threads.Summary){}, c.threadHandlers...)
	c.listenMu.Unlock()
	for _, fn := range handlers {
		fn(list)
	}
}

// OnSessionChange registers fn for every state change of the running
// session.
func (c *Controller) OnSessionChange(fn func(stream.State)) {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()
	c.sessionHandlers = append(c.sessionHandlers, fn)
}

// OnThreadsChange registers fn for every thread list replacement.
func (c *Controller) OnThreadsChange(fn func([]threads.Summary)) {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()
	c.threadHandlers = append(c.threadHandlers, fn)
}

// OnStatusChange registers fn for connection status changes.
func (c *Controller) OnStatusChange(fn func(types.Status)) {
	c.monitor.OnChange(fn)
}

func (c *Controller) current() (*scope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.cur == nil {
		return nil, fmt.Errorf("chat: controller not started")
	}
	return c.cur, nil
}

// WaitReady blocks until the running session finished loading its thread.
func (c *Controller) WaitReady(ctx context.Context) error {
	sc, err := c.current()
	if err != nil {
		return err
	}
	select {
	case <-sc.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit sends text as a new human message in the current session.
func (c *Controller) Submit(ctx context.Context, text string) error {
	return c.SubmitMessages(ctx, []langgraph.Message{langgraph.HumanMessage(types.NewMessageID(), text)})
}

// SubmitMessages sends msgs in the current session. Failures are logged and
// returned; nothing is retried.
func (c *Controller) SubmitMessages(ctx context.Context, msgs []langgraph.Message) error {
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	sc, err := c.current()
	if err != nil {
		return err
	}
	if err := sc.session.Submit(ctx, msgs, stream.SubmitOptions{}); err != nil {
		c.logger.Error("submit failed", "thread_id", sc.session.ThreadID(), "error", err)
		return err
	}
	return nil
}

// Stop abandons the run in flight.
func (c *Controller) Stop() {
	if sc, err := c.current(); err == nil {
		sc.session.Stop()
	}
}

// NewChat detaches from the current thread so the next submit starts one.
func (c *Controller) NewChat() {
	c.params.SetString(config.ParamThreadID, "")
}

// SwitchThread binds the session to threadID and waits for its messages.
func (c *Controller) SwitchThread(ctx context.Context, threadID string) error {
	if err := c.params.SetString(config.ParamThreadID, threadID); err != nil {
		return err
	}
	return c.WaitReady(ctx)
}

// Configure points the client at another service or assistant. Empty
// values fall back to the defaults. The current thread is dropped since it
// belongs to the old assistant.
func (c *Controller) Configure(apiURL, assistantID string) error {
	return c.params.Set(map[string]string{
		config.ParamAPIURL:      apiURL,
		config.ParamAssistantID: assistantID,
		config.ParamThreadID:    "",
	})
}

// Params returns the Config State the controller follows.
func (c *Controller) Params() *config.Params {
	return c.params
}

// Identity returns the identity of the running session.
func (c *Controller) Identity() types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return c.params.Identity()
	}
	return c.cur.identity
}

// State returns the running session's state.
func (c *Controller) State() stream.State {
	sc, err := c.current()
	if err != nil {
		return stream.State{}
	}
	return sc.session.State()
}

// Status returns the connection status of the current target.
func (c *Controller) Status() types.Status {
	return c.monitor.Status()
}

// CheckHealth probes the current target now.
func (c *Controller) CheckHealth(ctx context.Context) types.Status {
	if c.opts.HealthInterval >= 0 {
		return c.monitor.Check(ctx)
	}
	id := c.Identity()
	if err := health.Probe(ctx, c.factory(id.Target()), id.AssistantID); err != nil {
		c.logger.Debug("health probe failed", "url", id.ServiceURL, "assistant_id", id.AssistantID, "error", err)
		return types.StatusError
	}
	return types.StatusConnected
}

// Threads returns the cached thread summaries.
func (c *Controller) Threads() []threads.Summary {
	sc, err := c.current()
	if err != nil {
		return nil
	}
	return sc.threads.Summaries()
}

// ThreadsLoading reports whether the thread list is being loaded.
func (c *Controller) ThreadsLoading() bool {
	sc, err := c.current()
	if err != nil {
		return false
	}
	return sc.threads.Loading()
}

// LoadThreads reloads the thread list now.
func (c *Controller) LoadThreads(ctx context.Context) error {
	sc, err := c.current()
	if err != nil {
		return err
	}
	return sc.threads.Load(ctx)
}
