package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs CPU-bound work (decryption, image resizing) on a fixed number of
// goroutines so request goroutines never saturate every core.
type Pool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	shutdown  chan struct{}
	closeOnce sync.Once
	// mu is held for reading while a task is being enqueued so the task
	// channel is never closed under a pending send.
	mu   sync.RWMutex
	size int
}

// New creates a worker pool with the given size.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}

	p := &Pool{
		tasks:    make(chan func(), max(size*8, 8)),
		shutdown: make(chan struct{}),
		size:     size,
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		if task != nil {
			task()
		}
	}
}

// Submit enqueues a task for execution.
func (p *Pool) Submit(task func()) error {
	return p.enqueue(context.Background(), task)
}

func (p *Pool) enqueue(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.shutdown:
		return ErrPoolClosed
	default:
	}

	select {
	case <-p.shutdown:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- task:
		return nil
	}
}

// SubmitWait enqueues a task and waits for it to complete.
func (p *Pool) SubmitWait(task func() error) error {
	return p.SubmitWaitContext(context.Background(), task)
}

// SubmitWaitContext is SubmitWait bounded by ctx. When ctx ends first the
// task still runs to completion in the background but its result is dropped.
func (p *Pool) SubmitWaitContext(ctx context.Context, task func() error) error {
	if task == nil {
		return nil
	}

	result := make(chan error, 1)
	err := p.enqueue(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("worker task panic: %v", r)
			}
		}()
		result <- task()
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// Shutdown stops accepting work and waits for queued tasks until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// StopNow closes the pool without waiting for tasks to finish.
func (p *Pool) StopNow() {
	p.close()
}

func (p *Pool) close() {
	p.closeOnce.Do(func() {
		close(p.shutdown)
		p.mu.Lock()
		close(p.tasks)
		p.mu.Unlock()
	})
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}
