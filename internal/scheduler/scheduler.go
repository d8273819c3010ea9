// internal/scheduler/scheduler.go
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns the delayed tasks and interval jobs of one lifecycle scope.
// Once Stop is called no task of the scope runs again, including timers that
// already fired and are waiting for the lock.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	timers  map[string]*time.Timer
	entries map[string]cron.EntryID
	stopped bool
	logger  *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for job events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a started Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		timers:  make(map[string]*time.Timer),
		entries: make(map[string]cron.EntryID),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	logger := cronLogger{s.logger}
	// A job still running when its next tick arrives skips that tick.
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.cron.Start()
	return s
}

// After runs fn once after delay. A pending task with the same key is
// cancelled first, so repeated calls debounce. It reports false when the
// scheduler is already stopped.
func (s *Scheduler) After(key string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.timers[key]
		live := ok && current == t && !s.stopped
		if live {
			delete(s.timers, key)
		}
		s.mu.Unlock()

		if live {
			fn()
		}
	})
	s.timers[key] = t
	return true
}

// Cancel drops the pending task for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Pending reports whether a task for key is waiting to run.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Every runs fn on a fixed interval, replacing any job with the same key.
// The first run happens one interval from now. Intervals below one second
// are rounded up.
func (s *Scheduler) Every(key string, interval time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if id, ok := s.entries[key]; ok {
		s.cron.Remove(id)
	}

	job := cron.FuncJob(func() {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	s.entries[key] = s.cron.Schedule(cron.Every(interval), job)
	s.logger.Debug("interval job scheduled", "key", key, "interval", interval)
	return true
}

// Remove drops the interval job for key, if any.
func (s *Scheduler) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[key]; ok {
		s.cron.Remove(id)
		delete(s.entries, key)
	}
}

// Stop cancels every pending task and interval job. It does not wait for a
// job that is already running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	for key := range s.entries {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	s.cron.Stop()
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
