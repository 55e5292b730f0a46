// Package queue implements the durable offline mutation queue: state-changing
// calls buffered while the device is offline and replayed strictly in order
// once connectivity returns. Entries are removed only after a successful
// dispatch, so a crash or failure can duplicate a drain cycle but never lose
// a user action.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/squadup/mobilecore/internal/api"
	"github.com/squadup/mobilecore/internal/connectivity"
	"github.com/squadup/mobilecore/internal/logging"
)

// Executor is the slice of the request executor the queue needs.
type Executor interface {
	Execute(ctx context.Context, d api.Descriptor) (*api.Response, error)
}

// Options tunes queue behavior.
type Options struct {
	// DeadLetterAfter moves an entry to the dead-letter list after this
	// many failed drain cycles, unblocking the entries behind it.
	// Zero disables the policy: a failing head blocks the queue until it
	// succeeds or the queue is cleared (strict ordering wins).
	DeadLetterAfter int

	Log logging.Logger
}

// Queue is the durable FIFO mutation queue. Safe for concurrent use.
type Queue struct {
	pending Store
	dead    Store
	exec    Executor
	log     logging.Logger

	deadLetterAfter int

	mu          sync.Mutex
	draining    bool
	online      bool
	unsubscribe func()
}

// New constructs a Queue and subscribes it to the connectivity monitor;
// every offline→online transition triggers a background drain. Call Close
// to unsubscribe.
func New(pending, dead Store, exec Executor, mon connectivity.Monitor, opts Options) *Queue {
	log := opts.Log
	if log == nil {
		log = logging.NewNop()
	}

	q := &Queue{
		pending:         pending,
		dead:            dead,
		exec:            exec,
		log:             log,
		deadLetterAfter: opts.DeadLetterAfter,
		online:          mon.Online(),
	}
	q.unsubscribe = mon.Subscribe(q.onConnectivityChange)
	return q
}

func (q *Queue) onConnectivityChange(online bool) {
	q.mu.Lock()
	was := q.online
	q.online = online
	q.mu.Unlock()

	if !was && online {
		go func() {
			if err := q.Drain(context.Background()); err != nil {
				q.log.Error(context.Background(), "drain after reconnect failed", "error", err)
			}
		}()
	}
}

// Enqueue appends d as a new mutation and synchronously persists the whole
// snapshot before returning its id. A persistence failure is returned to the
// caller: the action may be lost and the app must say so.
func (q *Queue) Enqueue(ctx context.Context, d api.Descriptor) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ms, err := q.pending.Load(ctx)
	if err != nil {
		return "", err
	}

	m := Mutation{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now().UTC(),
		Descriptor: d,
	}
	ms = append(ms, m)

	if err := q.pending.Save(ctx, ms); err != nil {
		return "", fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	q.log.Info(ctx, "mutation enqueued", "id", m.ID, "method", d.Method, "path", d.Path, "pending", len(ms))
	return m.ID, nil
}

// Drain replays pending mutations strictly in FIFO order. Each success is
// removed and persisted before the next entry is dispatched. The first
// failure stops the cycle with the entry (and everything behind it) left in
// place for the next drain; dispatch failures are not returned as errors.
// Reentrant calls and calls on an empty queue are no-ops.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for {
		head, ok, err := q.peek(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		resp, err := q.exec.Execute(ctx, head.Descriptor)
		if err == nil && resp.Success() {
			if err := q.remove(ctx, head.ID); err != nil {
				return err
			}
			q.log.Info(ctx, "mutation delivered", "id", head.ID, "status", resp.StatusCode)
			continue
		}

		if err == nil {
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		q.log.Warn(ctx, "mutation dispatch failed", "id", head.ID, "attempts", head.Attempts+1, "error", err)

		moved, rerr := q.recordFailure(ctx, head.ID)
		if rerr != nil {
			return rerr
		}
		if !moved {
			// head stays; everything behind it waits for the next cycle
			return nil
		}
	}
}

// Size returns the number of pending mutations.
func (q *Queue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ms, err := q.pending.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(ms), nil
}

// IsOnline reports the last connectivity state the queue observed.
func (q *Queue) IsOnline() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Clear drops all pending mutations without dispatching them.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Save(ctx, nil)
}

// DeadLetters lists mutations parked by the dead-letter policy.
func (q *Queue) DeadLetters(ctx context.Context) ([]Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dead.Load(ctx)
}

// Close unsubscribes from the connectivity monitor.
func (q *Queue) Close() {
	if q.unsubscribe != nil {
		q.unsubscribe()
	}
}

// peek returns the current head without removing it.
func (q *Queue) peek(ctx context.Context) (Mutation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ms, err := q.pending.Load(ctx)
	if err != nil {
		return Mutation{}, false, err
	}
	if len(ms) == 0 {
		return Mutation{}, false, nil
	}
	return ms[0], true, nil
}

// remove deletes the mutation with the given id and persists the snapshot.
// Matching by id tolerates entries enqueued mid-drain.
func (q *Queue) remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ms, err := q.pending.Load(ctx)
	if err != nil {
		return err
	}
	kept := ms[:0]
	for _, m := range ms {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	return q.pending.Save(ctx, kept)
}

// recordFailure bumps the head's attempt counter and, when the dead-letter
// policy is active and exhausted, parks it on the dead-letter list.
// Returns true when the head was moved aside and draining may continue.
func (q *Queue) recordFailure(ctx context.Context, id string) (moved bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ms, err := q.pending.Load(ctx)
	if err != nil {
		return false, err
	}

	idx := -1
	for i, m := range ms {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}

	ms[idx].Attempts++

	if q.deadLetterAfter > 0 && ms[idx].Attempts >= q.deadLetterAfter {
		dead, err := q.dead.Load(ctx)
		if err != nil {
			return false, err
		}
		dead = append(dead, ms[idx])
		if err := q.dead.Save(ctx, dead); err != nil {
			return false, err
		}
		ms = append(ms[:idx], ms[idx+1:]...)
		if err := q.pending.Save(ctx, ms); err != nil {
			return false, err
		}
		q.log.Warn(ctx, "mutation dead-lettered", "id", id, "after_attempts", q.deadLetterAfter)
		return true, nil
	}

	return false, q.pending.Save(ctx, ms)
}
