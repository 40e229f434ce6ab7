// Package pool runs jobs on a fixed set of worker goroutines fed by a
// bounded queue. Console opens are submitted here so callers never block on
// the broker or the transport handshake.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrShuttingDown = errors.New("pool is shutting down")
	ErrQueueFull    = errors.New("job queue is full")
)

type job func() error

// Pool is a set of workers draining a job queue.
type Pool struct {
	maxWorkers int
	jobQueue   chan job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	active     atomic.Int32
}

// NewPool starts maxWorkers workers behind a queue of queueSize jobs.
func NewPool(maxWorkers int, queueSize int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = maxWorkers * 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		maxWorkers: maxWorkers,
		jobQueue:   make(chan job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case fn := <-p.jobQueue:
			p.run(fn)
		case <-p.ctx.Done():
			// drain what was accepted before shutdown
			for {
				select {
				case fn := <-p.jobQueue:
					p.run(fn)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(fn job) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic in pool worker: %v\nstack: %s", r, debug.Stack())
		}
	}()

	if err := fn(); err != nil {
		log.Debug().Err(err).Msg("Pool job returned an error.")
	}
}

// Submit queues fn without blocking. It fails when the queue is full, the
// pool is shutting down, or ctx is already done.
func (p *Pool) Submit(ctx context.Context, fn func() error) error {
	if p.IsShuttingDown() {
		return ErrShuttingDown
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrShuttingDown
	case p.jobQueue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Active returns the number of jobs currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// MaxWorkers returns the number of workers
func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

func (p *Pool) IsShuttingDown() bool {
	select {
	case <-p.ctx.Done():
		return true
	default:
		return false
	}
}
