package pipeline

import (
	"context"
	"sync"

	"github.com/hupe1980/clipvault/model"
)

// requestQueue is an unbounded multiple-producer/single-consumer queue.
// Push never blocks the caller; the single worker blocks in pop until an
// item arrives or its context is cancelled.
type requestQueue struct {
	mu     sync.Mutex
	items  []model.ProcessingRequest
	signal chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		signal: make(chan struct{}, 1),
	}
}

func (q *requestQueue) push(req model.ProcessingRequest) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *requestQueue) pop(ctx context.Context) (model.ProcessingRequest, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			req := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return req, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.ProcessingRequest{}, false
		case <-q.signal:
		}
	}
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
