package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/graphchat/internal/types"
)

// FailureReply is sent to a chat when its turn fails.
const FailureReply = "Sorry, something went wrong processing your message."

// Queue manages per-chat lanes with a global concurrency semaphore.
// Each chat gets its own FIFO channel (lane) so that turns within a chat
// are submitted one after another, while the semaphore limits how many
// runs stream at once across all chats.
type Queue struct {
	lanes     map[types.SessionKey]chan *Turn
	semaphore *semaphore.Weighted
	processor func(*Turn) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent turns to run
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.SessionKey]chan *Turn),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for key, lane := range q.lanes {
		close(lane)
		delete(q.lanes, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Turn to its chat's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(turn *Turn) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue not running")
	}

	lane, exists := q.lanes[turn.Key]
	if !exists {
		lane = make(chan *Turn, 100)
		q.lanes[turn.Key] = lane
		q.wg.Add(1)
		go q.processLane(turn.Key, lane)
	}

	select {
	case lane <- turn:
		return nil
	default:
		return fmt.Errorf("queue full for chat %s", turn.Key)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before
// running the processor synchronously. The lane is removed once it runs
// empty; Enqueue creates a new one for the next turn.
func (q *Queue) processLane(key types.SessionKey, lane chan *Turn) {
	defer q.wg.Done()
	for {
		select {
		case turn, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.run(turn)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		default:
			q.mu.Lock()
			if len(lane) == 0 {
				if q.lanes[key] == lane {
					delete(q.lanes, key)
				}
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
		}
	}
}

// Lanes returns the number of chats with queued or running turns.
func (q *Queue) Lanes() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.lanes)
}

func (q *Queue) run(turn *Turn) {
	if q.processor == nil {
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	started := time.Now()
	turn.StartedAt = &started
	turn.Status = TurnStatusRunning
	turn.Ctx = q.ctx

	err := q.processor(turn)
	ended := time.Now()
	turn.EndedAt = &ended
	if err != nil {
		turn.Status = TurnStatusFailed
		turn.Error = err
		slog.Error("turn failed", "turn_id", string(turn.ID), "chat", string(turn.Key), "error", err)
		if turn.OnComplete != nil {
			turn.OnComplete(FailureReply)
		}
		return
	}
	turn.Status = TurnStatusComplete
}

// WaitIdle blocks until no turns are actively being processed, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Turn.
func (q *Queue) SetProcessor(fn func(*Turn) error) {
	q.processor = fn
}
