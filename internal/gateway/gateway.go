package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/graphchat/internal/chat"
	"github.com/user/graphchat/internal/config"
	"github.com/user/graphchat/internal/render"
	"github.com/user/graphchat/internal/scheduler"
	"github.com/user/graphchat/internal/types"
)

const (
	DefaultMaxChats    = 256
	DefaultIdleTimeout = 30 * time.Minute
)

// ControllerFactory creates the chat controller for a new chat key. The
// gateway starts and closes it.
type ControllerFactory func(key types.SessionKey) *chat.Controller

// chatEntry is a live controller and the turns still queued or running
// for its chat.
type chatEntry struct {
	controller *chat.Controller
	lastUsed   time.Time
	pending    int
}

// Gateway turns inbound messages from chat surfaces into submits. Every
// chat key gets its own controller, so its own Config State, and turns of
// one chat are submitted in order. Controllers of chats without pending
// turns are closed after IdleTimeout, or earlier, least recently used
// first, once more than MaxChats are open. A chat that comes back after
// that starts a new thread.
type Gateway struct {
	newController ControllerFactory
	Queue         *Queue
	MaxChats      int
	IdleTimeout   time.Duration

	mu    sync.Mutex
	chats map[types.SessionKey]*chatEntry
	// pending counts turns per chat, including chats whose controller is
	// not created yet.
	pending map[types.SessionKey]int
	timers  *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway with the given concurrency limit for simultaneous
// runs.
func New(factory ControllerFactory, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	g := &Gateway{
		newController: factory,
		Queue:         NewQueue(concurrency),
		MaxChats:      DefaultMaxChats,
		IdleTimeout:   DefaultIdleTimeout,
		chats:         make(map[types.SessionKey]*chatEntry),
		pending:       make(map[types.SessionKey]int),
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// Start initialises the gateway's context, starts the internal queue and
// the idle sweep.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
	if g.IdleTimeout > 0 {
		g.timers = scheduler.New()
		sweep := g.IdleTimeout / 2
		if sweep < time.Second {
			sweep = time.Second
		}
		g.timers.Every("evict-idle", sweep, g.EvictIdle)
	}
}

// Stop cancels the gateway context, stops the queue and closes every
// controller.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.timers != nil {
		g.timers.Stop()
	}
	g.Queue.Stop()

	g.mu.Lock()
	defer g.mu.Unlock()
	for key, e := range g.chats {
		e.controller.Close()
		delete(g.chats, key)
	}
}

// Controller returns the controller for key, creating and starting it on
// first use.
func (g *Gateway) Controller(key types.SessionKey) *chat.Controller {
	g.mu.Lock()
	e, ok := g.chats[key]
	if ok {
		e.lastUsed = time.Now()
		g.mu.Unlock()
		return e.controller
	}
	evicted := g.makeRoomLocked()
	c := g.newController(key)
	c.Start(g.ctx)
	g.chats[key] = &chatEntry{controller: c, lastUsed: time.Now()}
	g.mu.Unlock()

	closeAll(evicted)
	slog.Debug("chat controller created", "chat", string(key))
	return c
}

// Chats returns the number of open chat controllers.
func (g *Gateway) Chats() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.chats)
}

// EvictIdle closes the controllers of chats that had no turns for
// IdleTimeout.
func (g *Gateway) EvictIdle() {
	if g.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-g.IdleTimeout)
	g.mu.Lock()
	var evicted []*chat.Controller
	for key, e := range g.chats {
		if g.pending[key] == 0 && e.lastUsed.Before(cutoff) {
			evicted = append(evicted, e.controller)
			delete(g.chats, key)
		}
	}
	g.mu.Unlock()
	closeAll(evicted)
}

// makeRoomLocked removes least recently used idle chats until a new one
// fits under MaxChats. Busy chats are never removed, so the limit can be
// exceeded while every open chat has turns pending.
func (g *Gateway) makeRoomLocked() []*chat.Controller {
	var evicted []*chat.Controller
	for g.MaxChats > 0 && len(g.chats) >= g.MaxChats {
		var oldestKey types.SessionKey
		var oldest *chatEntry
		for key, e := range g.chats {
			if g.pending[key] > 0 {
				continue
			}
			if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
				oldestKey, oldest = key, e
			}
		}
		if oldest == nil {
			break
		}
		delete(g.chats, oldestKey)
		evicted = append(evicted, oldest.controller)
	}
	return evicted
}

func closeAll(cs []*chat.Controller) {
	for _, c := range cs {
		c.Close()
	}
	if len(cs) > 0 {
		slog.Debug("chat controllers evicted", "count", len(cs))
	}
}

// track adjusts the pending turn count of key.
func (g *Gateway) track(key types.SessionKey, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[key] += delta
	if g.pending[key] <= 0 {
		delete(g.pending, key)
	}
	if e, ok := g.chats[key]; ok {
		e.lastUsed = time.Now()
	}
}

// TurnOption configures optional behavior on a Turn.
type TurnOption func(*Turn)

// WithOnComplete sets a callback invoked with the assistant's reply.
func WithOnComplete(fn func(string)) TurnOption {
	return func(t *Turn) { t.OnComplete = fn }
}

// HandleInbound queues text for the chat identified by key.
func (g *Gateway) HandleInbound(ctx context.Context, key types.SessionKey, text string, opts ...TurnOption) error {
	if text == "" {
		return fmt.Errorf("empty message")
	}
	turn := NewTurn(key, text)
	for _, opt := range opts {
		opt(turn)
	}
	g.track(key, 1)
	if err := g.Queue.Enqueue(turn); err != nil {
		g.track(key, -1)
		return err
	}
	return nil
}

func (g *Gateway) process(turn *Turn) error {
	defer g.track(turn.Key, -1)
	c := g.Controller(turn.Key)
	if err := c.Submit(turn.Ctx, turn.Text); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if turn.OnComplete != nil {
		reply := render.Reply(c.State().Messages, render.Options{
			HideToolCalls: c.Params().Bool(config.ParamHideToolCalls),
		})
		if reply == "" {
			reply = "(no reply)"
		}
		turn.OnComplete(reply)
	}
	return nil
}

// Ask queues text for key and waits for the reply.
func (g *Gateway) Ask(ctx context.Context, key types.SessionKey, text string) (string, error) {
	replies := make(chan string, 1)
	if err := g.HandleInbound(ctx, key, text, WithOnComplete(func(s string) { replies <- s })); err != nil {
		return "", err
	}
	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
