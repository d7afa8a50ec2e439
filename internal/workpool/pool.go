// Package workpool runs keyed batches of tasks on a fixed set of workers.
// Callers submit every task of a batch under one key and then block on
// Wait(key); batches under different keys can be in flight at once.
package workpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned when submitting to a closed pool.
var ErrClosed = errors.New("worker pool is closed")

type job struct {
	done *sync.WaitGroup
	task func()
}

// Pool is a fixed-size worker pool. Create it once with New and release it
// with Close.
type Pool struct {
	jobs   chan job
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*sync.WaitGroup
	closed  bool

	// send is held for reading while a task is queued and for writing when
	// the job channel is closed.
	send sync.RWMutex

	workers sync.WaitGroup
	size    int
}

// New starts a pool with n workers.
func New(n int, logger *slog.Logger) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", n)
	}
	p := &Pool{
		jobs:    make(chan job, n*4),
		logger:  logger,
		pending: make(map[string]*sync.WaitGroup),
		size:    n,
	}
	p.workers.Add(n)
	for i := 0; i < n; i++ {
		go p.work()
	}
	logger.Info("worker pool started", "workers", n)
	return p, nil
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.size }

// QueueDepth is the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int { return len(p.jobs) }

func (p *Pool) work() {
	defer p.workers.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer j.done.Done()
	j.task()
}

// Submit queues task under key. It blocks while the queue is full. A key
// must not be reused until Wait for it has returned.
func (p *Pool) Submit(key string, task func()) error {
	p.send.RLock()
	defer p.send.RUnlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	wg, ok := p.pending[key]
	if !ok {
		wg = &sync.WaitGroup{}
		p.pending[key] = wg
	}
	wg.Add(1)
	p.mu.Unlock()

	p.jobs <- job{done: wg, task: task}
	return nil
}

// Wait blocks until every task submitted under key has finished, then
// forgets the key. Waiting on an unknown key returns at once.
func (p *Pool) Wait(key string) {
	p.mu.Lock()
	wg, ok := p.pending[key]
	p.mu.Unlock()
	if !ok {
		return
	}
	wg.Wait()

	p.mu.Lock()
	if p.pending[key] == wg {
		delete(p.pending, key)
	}
	p.mu.Unlock()
}

// Close stops accepting work, lets queued tasks finish and stops the
// workers. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.send.Lock()
	close(p.jobs)
	p.send.Unlock()
	p.workers.Wait()
	p.logger.Info("worker pool stopped")
}
