package core

import (
	"context"
)

// Runner owns the engine goroutine. Transports call Submit and View from
// any goroutine; Run applies requests one at a time in arrival order.
type Runner struct {
	engine   *Engine
	requests chan request
	done     chan struct{}
}

type request struct {
	cmd     *Command
	view    func(*Engine)
	replyCh chan reply
}

type reply struct {
	receipt *Receipt
	err     error
}

func NewRunner(e *Engine, queue int) *Runner {
	if queue <= 0 {
		queue = 1024
	}
	return &Runner{
		engine:   e,
		requests: make(chan request, queue),
		done:     make(chan struct{}),
	}
}

// Run processes requests until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.requests:
			if req.view != nil {
				req.view(r.engine)
				req.replyCh <- reply{}
				continue
			}
			receipt, err := r.engine.Process(*req.cmd)
			req.replyCh <- reply{receipt: receipt, err: err}
		}
	}
}

// Submit queues cmd and waits for its outcome.
func (r *Runner) Submit(ctx context.Context, cmd Command) (*Receipt, error) {
	rep, err := r.do(ctx, request{cmd: &cmd})
	if err != nil {
		return nil, err
	}
	return rep.receipt, rep.err
}

// View runs fn on the engine goroutine. fn must not retain the engine.
func (r *Runner) View(ctx context.Context, fn func(*Engine)) error {
	_, err := r.do(ctx, request{view: fn})
	return err
}

func (r *Runner) do(ctx context.Context, req request) (reply, error) {
	req.replyCh = make(chan reply, 1)
	select {
	case r.requests <- req:
	case <-r.done:
		return reply{}, ErrEngineStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case rep := <-req.replyCh:
		return rep, nil
	case <-r.done:
		// Run may have replied just before exiting.
		select {
		case rep := <-req.replyCh:
			return rep, nil
		default:
			return reply{}, ErrEngineStopped
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}
