package registration

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ernie/whitelist-warden/internal/domain"
)

// Handler processes one interaction
type Handler interface {
	Handle(ctx context.Context, in domain.Interaction) Response
}

// ReplyFunc delivers a response back to the chat platform
type ReplyFunc func(Response)

// Dispatcher runs each interaction as its own task, at most limit at a time.
// Once closed it refuses new work and waits for running tasks to finish.
type Dispatcher struct {
	ctx     context.Context
	handler Handler
	log     *zap.Logger
	group   errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher whose tasks run under ctx
func NewDispatcher(ctx context.Context, handler Handler, limit int, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		ctx:     ctx,
		handler: handler,
		log:     log.Named("dispatcher"),
	}
	if limit > 0 {
		d.group.SetLimit(limit)
	}
	return d
}

// Dispatch queues in and reports whether it was accepted. It blocks while
// the task limit is reached. After Close, reply is called immediately with
// a shutdown notice.
func (d *Dispatcher) Dispatch(in domain.Interaction, reply ReplyFunc) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		reply(Response{Message: msgShuttingDown, State: Rejected})
		return false
	}

	d.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("interaction task panicked",
					zap.String("requester", in.RequesterID), zap.Any("panic", r))
				reply(Response{Message: msgServerError, State: Rejected})
			}
		}()
		reply(d.handler.Handle(d.ctx, in))
		return nil
	})
	return true
}

// Close stops accepting work and waits for in-flight tasks
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	_ = d.group.Wait()
}

// Drain is Close bounded by ctx. It returns ctx.Err() if tasks are still
// running when ctx ends.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
