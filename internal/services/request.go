package services

import (
	"context"
	"errors"

	"github.com/squadup/mobilecore/internal/api"
	"github.com/squadup/mobilecore/internal/logging"
	"github.com/squadup/mobilecore/internal/queue"
)

// Result is the outcome of Submit. Exactly one of Response and QueuedID
// is set: a response when the call was dispatched, a queue id when the
// mutation was stored for later delivery.
type Result struct {
	Response *api.Response
	QueuedID string
}

func (r *Result) Queued() bool { return r.QueuedID != "" }

// Executor dispatches a single request.
type Executor interface {
	Execute(ctx context.Context, d api.Descriptor) (*api.Response, error)
}

// RequestService routes requests between the live executor and the
// offline queue based on connectivity and outcome.
type RequestService struct {
	exec Executor
	q    *queue.Queue
	log  logging.Logger
}

func NewRequestService(exec Executor, q *queue.Queue, log logging.Logger) *RequestService {
	if log == nil {
		log = logging.NewNop()
	}
	return &RequestService{exec: exec, q: q, log: log}
}

// Submit executes the descriptor when possible. Mutating requests are
// enqueued instead of dispatched while offline, and fall back to the
// queue when dispatch fails on a network error. Reads are always
// attempted live.
func (s *RequestService) Submit(ctx context.Context, d api.Descriptor) (*Result, error) {
	if d.Mutating() && !s.q.IsOnline() {
		id, err := s.q.Enqueue(ctx, d)
		if err != nil {
			return nil, err
		}
		s.log.Info(ctx, "mutation queued while offline", "id", id, "method", d.Method, "path", d.Path)
		return &Result{QueuedID: id}, nil
	}

	resp, err := s.exec.Execute(ctx, d)
	if err != nil {
		var netErr *api.NetworkError
		if d.Mutating() && errors.As(err, &netErr) {
			id, qerr := s.q.Enqueue(ctx, d)
			if qerr != nil {
				return nil, errors.Join(err, qerr)
			}
			s.log.Warn(ctx, "dispatch failed, mutation queued", "id", id, "path", d.Path, "error", err)
			return &Result{QueuedID: id}, nil
		}
		return nil, err
	}
	return &Result{Response: resp}, nil
}

// Execute dispatches the descriptor directly, bypassing queue routing.
func (s *RequestService) Execute(ctx context.Context, d api.Descriptor) (*api.Response, error) {
	return s.exec.Execute(ctx, d)
}

func (s *RequestService) PendingCount(ctx context.Context) (int, error) {
	return s.q.Size(ctx)
}

func (s *RequestService) Drain(ctx context.Context) error {
	return s.q.Drain(ctx)
}

func (s *RequestService) ClearPending(ctx context.Context) error {
	return s.q.Clear(ctx)
}

func (s *RequestService) Online() bool {
	return s.q.IsOnline()
}
