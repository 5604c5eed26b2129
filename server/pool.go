package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// ErrPoolClosed is returned by Pool.Do after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs jobs on a fixed number of worker goroutines. Script evaluation
// is CPU-bound and cannot be interrupted, so the pool bounds how many
// evaluations run at once regardless of how many requests are waiting.
type Pool struct {
	jobs    chan *poolJob
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type poolJob struct {
	ctx  context.Context
	fn   func() error
	err  error
	done chan struct{}
}

// NewPool starts a pool with the given number of workers (DefaultWorkers
// when workers <= 0).
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		jobs:    make(chan *poolJob),
		workers: workers,
	}
	for range workers {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Do runs fn on a worker and waits for it to finish. If ctx is done first,
// Do returns ctx.Err(); a job that has not started yet is then skipped,
// while a running job finishes in the background and its result is
// discarded.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	job := &poolJob{ctx: ctx, fn: fn, done: make(chan struct{})}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-job.done:
		return job.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for running jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job *poolJob) {
	defer close(job.done)
	if err := job.ctx.Err(); err != nil {
		job.err = err
		return
	}
	defer func() {
		if r := recover(); r != nil {
			job.err = fmt.Errorf("server: worker panic: %v", r)
		}
	}()
	job.err = job.fn()
}
