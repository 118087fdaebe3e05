package core

import (
	"context"

	"EscrowLedger/internal/command"
)

// Request is one command waiting for the core, with a buffered reply channel.
type Request struct {
	Command command.Command
	Reply   chan Reply
}

type Reply struct {
	Result Result
	Err    error
}

// Run consumes requests one at a time until ctx is cancelled or requests is closed.
func (c *Core) Run(ctx context.Context, requests <-chan Request) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			res, err := c.ProcessCommand(req.Command)
			if req.Reply != nil {
				req.Reply <- Reply{Result: res, Err: err}
			}
		}
	}
}

// Submit enqueues cmd and waits for its outcome.
func Submit(ctx context.Context, requests chan<- Request, cmd command.Command) (Result, error) {
	reply := make(chan Reply, 1)
	select {
	case requests <- Request{Command: cmd, Reply: reply}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.Result, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
