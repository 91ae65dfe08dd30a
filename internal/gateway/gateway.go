package gateway

import (
	"context"
	"sync"

	"github.com/user/xdcstore/internal/transport"
)

// Gateway routes inbound transport events into runs. It wraps each event in
// a Run keyed by chat and enqueues it, so per-chat ordering holds while
// independent chats proceed concurrently.
type Gateway struct {
	Queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Gateway with the given concurrency limit for simultaneous
// event processing.
func New(maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 4
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Gateway{
		Queue: NewQueue(concurrency),
	}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
	g.wg.Wait()
}

// HandleInbound wraps the event in a Run and enqueues it on its chat lane.
func (g *Gateway) HandleInbound(_ context.Context, event *transport.Event) error {
	return g.Queue.Enqueue(NewRun(event))
}
