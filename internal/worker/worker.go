// Package worker runs alert dispatch off the request path. The ingest
// request only guarantees the alert text was enqueued, never that
// delivery completed.
package worker

import (
	"context"
	"sync"
	"time"
)

// DispatchFunc delivers one alert text to all subscribers.
type DispatchFunc func(ctx context.Context, text string) error

type DispatchPool struct {
	numWorkers int
	jobs       chan string
	dispatch   DispatchFunc
	timeout    time.Duration
	wg         sync.WaitGroup
}

func NewDispatchPool(numWorkers, bufferSize int, timeout time.Duration, dispatch DispatchFunc) *DispatchPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &DispatchPool{
		numWorkers: numWorkers,
		jobs:       make(chan string, bufferSize),
		dispatch:   dispatch,
		timeout:    timeout,
	}
}

func (p *DispatchPool) Start(ctx context.Context) {
	for i := 1; i <= p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *DispatchPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-p.jobs:
			if !ok {
				return
			}
			jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
			p.dispatch(jobCtx, text)
			cancel()
		}
	}
}

// Enqueue hands text to the pool without blocking. False means the
// buffer was full and the alert was dropped; the caller logs it.
func (p *DispatchPool) Enqueue(text string) bool {
	select {
	case p.jobs <- text:
		return true
	default:
		return false
	}
}

// Stop drains the queue and waits for in-flight dispatches.
func (p *DispatchPool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
