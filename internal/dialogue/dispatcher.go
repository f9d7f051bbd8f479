package dialogue

import (
	"context"
	"log/slog"
	"sync"

	"relaybot/internal/domain"
)

// Dispatcher drains an inbound queue into a Handler with bounded concurrency.
type Dispatcher struct {
	handler     *Handler
	concurrency int
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher. A concurrency of 1 handles messages
// strictly in arrival order.
func NewDispatcher(handler *Handler, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handler: handler, concurrency: concurrency, logger: logger}
}

// Run handles messages until ctx is cancelled or the queue is closed, then
// waits for in-flight messages. Messages already buffered when ctx is
// cancelled are still handled, and in-flight handlers are not cancelled with
// ctx, so that users still get their reply or error notice.
func (d *Dispatcher) Run(ctx context.Context, queue domain.InboundQueue) error {
	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	handleCtx := context.WithoutCancel(ctx)
	inbound := queue.Subscribe()

	d.logger.Info("dispatcher started", "concurrency", d.concurrency)
	for {
		select {
		case <-ctx.Done():
			n := d.drain(handleCtx, inbound, sem, &wg)
			d.logger.Info("dispatcher stopping", "drained", n)
			return nil
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound queue closed")
				return nil
			}
			d.dispatch(handleCtx, msg, sem, &wg)
		}
	}
}

// dispatch waits for a free worker slot and handles msg on it.
func (d *Dispatcher) dispatch(ctx context.Context, msg domain.InboundMessage, sem chan struct{}, wg *sync.WaitGroup) {
	sem <- struct{}{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { <-sem }()
		d.handler.Handle(ctx, msg)
	}()
}

// drain hands every message still buffered in inbound to a worker and
// returns how many there were.
func (d *Dispatcher) drain(ctx context.Context, inbound <-chan domain.InboundMessage, sem chan struct{}, wg *sync.WaitGroup) int {
	n := 0
	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				return n
			}
			d.dispatch(ctx, msg, sem, wg)
			n++
		default:
			return n
		}
	}
}
