// Package pool provides a fixed-size goroutine pool with an unbounded FIFO
// backlog, so submitting never blocks the caller.
package pool

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("queueflow: pool is shut down")

// Task is a unit of work run by the pool.
type Task func()

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog []Task
	closed  bool
	active  int
	wg      sync.WaitGroup
	size    int
}

// New starts size goroutines. Sizes below one are raised to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}
	return p
}

// Submit queues t. It never blocks on busy goroutines.
func (p *Pool) Submit(t Task) error {
	if t == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.backlog = append(p.backlog, t)
	p.cond.Signal()
	return nil
}

// Shutdown stops accepting tasks and blocks until every queued and running
// task has finished. Tasks are never cancelled.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// Size is the number of goroutines.
func (p *Pool) Size() int { return p.size }

// Stats reports queued and running task counts.
func (p *Pool) Stats() (queued, running int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog), p.active
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.backlog) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.backlog) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.backlog[0]
		p.backlog[0] = nil
		p.backlog = p.backlog[1:]
		p.active++
		p.mu.Unlock()

		task()

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}
