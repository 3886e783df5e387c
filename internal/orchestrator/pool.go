package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs tasks on a fixed number of workers, strictly in submission order.
// It is the one resource shared by every asset: a task holds a worker slot
// for as long as it runs.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	busy   int
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts size workers. size < 1 is treated as 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues tasks back to back, so no other submission interleaves
// with them.
func (p *Pool) Submit(tasks ...func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, tasks...)
	for range tasks {
		p.cond.Signal()
	}
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.busy++
		p.mu.Unlock()

		task()

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}
}

// Stats returns the number of running and waiting tasks.
func (p *Pool) Stats() (busy, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy, len(p.queue)
}

// Close stops accepting tasks. Queued tasks still run.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Wait blocks until every worker has exited after Close, or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
