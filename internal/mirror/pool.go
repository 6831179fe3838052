package mirror

import (
	"context"
	"errors"
	"sync"
)

type job func(ctx context.Context)

// WorkerPool runs retrieval jobs on a fixed number of goroutines fed by a
// bounded queue. Callers waiting on queued work help drain the queue so a
// saturated pool cannot deadlock on its own children.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool with the given concurrency and queue size.
func NewWorkerPool(parent context.Context, concurrency, queueSize int) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queueSize),
	}
	pool.start(concurrency)
	return pool, nil
}

func (p *WorkerPool) start(concurrency int) {
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for fn := range p.jobs {
				fn(p.ctx)
			}
		}()
	}
}

// TrySubmit queues fn without blocking. It reports false when the queue is
// full or the pool is closed; the caller is expected to run fn itself.
func (p *WorkerPool) TrySubmit(fn job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- fn:
		return true
	default:
		return false
	}
}

// Help runs queued jobs on the calling goroutine until until is closed or
// ctx is cancelled.
func (p *WorkerPool) Help(ctx context.Context, until <-chan struct{}) error {
	for {
		select {
		case <-until:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		select {
		case <-until:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case fn, ok := <-p.jobs:
			if !ok {
				select {
				case <-until:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			fn(p.ctx)
		}
	}
}

// Close stops accepting jobs, lets the workers drain what is queued and
// waits for them to exit.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}
