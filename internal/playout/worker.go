package playout

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"playout-orchestrator/internal/platform/metrics"
)

// Priority orders waiters on one key. Lower values run first.
type Priority int

const (
	PriorityUser Priority = iota
	PriorityCallback
	PriorityMaintenance
)

func (p Priority) String() string {
	switch p {
	case PriorityUser:
		return "user"
	case PriorityCallback:
		return "callback"
	case PriorityMaintenance:
		return "maintenance"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// DefaultJobTimeout is used when NewWorker gets a non-positive timeout.
const DefaultJobTimeout = 15 * time.Second

// Worker serialises operations per key. Operations on different keys run
// concurrently. Waiters on a key are served by priority, then arrival order.
//
// An operation holding a key longer than the timeout is reported and the next
// waiter is let in. The overrunning operation keeps running; its release is
// ignored when it finally returns.
type Worker struct {
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	seq  uint64
	keys map[string]*keyQueue
}

type keyQueue struct {
	holder  *ticket
	waiting []*ticket
}

type ticket struct {
	name     string
	priority Priority
	seq      uint64
	queued   time.Time
	ready    chan struct{}
	timer    *time.Timer
}

// NewWorker returns a Worker. m may be nil.
func NewWorker(timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Worker {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &Worker{timeout: timeout, log: log, metrics: m, keys: make(map[string]*keyQueue)}
}

// Run waits for key, then runs fn. A panic in fn is returned as an
// ErrInvariant error. ctx only bounds the wait; fn receives it unchanged.
func (w *Worker) Run(ctx context.Context, key string, prio Priority, name string, fn func(ctx context.Context) error) (err error) {
	t, err := w.acquire(ctx, key, prio, name)
	if err != nil {
		w.metrics.ObserveOperation(name, "cancelled")
		return err
	}
	defer w.release(key, t)

	defer func() {
		if r := recover(); r != nil {
			err = invariantf("%s panicked: %v", name, r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		w.metrics.ObserveOperation(name, outcome)
	}()
	return fn(ctx)
}

// Do is Run for operations returning a value.
func Do[T any](ctx context.Context, w *Worker, key string, prio Priority, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := w.Run(ctx, key, prio, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (w *Worker) acquire(ctx context.Context, key string, prio Priority, name string) (*ticket, error) {
	w.mu.Lock()
	w.seq++
	t := &ticket{name: name, priority: prio, seq: w.seq, queued: time.Now(), ready: make(chan struct{})}
	q, ok := w.keys[key]
	if !ok {
		q = &keyQueue{}
		w.keys[key] = q
	}
	if q.holder == nil {
		w.grantLocked(key, q, t)
		w.mu.Unlock()
		return t, nil
	}
	q.waiting = append(q.waiting, t)
	sort.SliceStable(q.waiting, func(i, j int) bool {
		a, b := q.waiting[i], q.waiting[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})
	w.mu.Unlock()

	select {
	case <-t.ready:
		return t, nil
	case <-ctx.Done():
		w.mu.Lock()
		defer w.mu.Unlock()
		if q.holder == t {
			// Granted while giving up; hand the key on.
			w.releaseLocked(key, q, t)
			return nil, ctx.Err()
		}
		for i, wt := range q.waiting {
			if wt == t {
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				break
			}
		}
		return nil, ctx.Err()
	}
}

func (w *Worker) grantLocked(key string, q *keyQueue, t *ticket) {
	q.holder = t
	w.metrics.ObserveWait(time.Since(t.queued))
	t.timer = time.AfterFunc(w.timeout, func() { w.expire(key, t) })
	close(t.ready)
}

func (w *Worker) release(key string, t *ticket) {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.keys[key]
	if !ok || q.holder != t {
		// Already promoted past by a timeout.
		return
	}
	w.releaseLocked(key, q, t)
}

func (w *Worker) releaseLocked(key string, q *keyQueue, t *ticket) {
	if t.timer != nil {
		t.timer.Stop()
	}
	q.holder = nil
	w.promoteLocked(key, q)
}

func (w *Worker) promoteLocked(key string, q *keyQueue) {
	if len(q.waiting) == 0 {
		delete(w.keys, key)
		return
	}
	next := q.waiting[0]
	q.waiting = q.waiting[1:]
	w.grantLocked(key, q, next)
}

func (w *Worker) expire(key string, t *ticket) {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.keys[key]
	if !ok || q.holder != t {
		return
	}
	w.log.Warn("operation exceeded job timeout, releasing key",
		slog.String("key", key),
		slog.String("operation", t.name),
		slog.Duration("timeout", w.timeout),
		slog.Int("waiting", len(q.waiting)))
	w.metrics.IncOperationTimeouts(t.name)
	q.holder = nil
	w.promoteLocked(key, q)
}

// Busy reports whether key currently has a holder.
func (w *Worker) Busy(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.keys[key]
	return ok && q.holder != nil
}
