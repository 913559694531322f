package concurrency

import (
	"context"
	"runtime"
	"sync"
)

// BlockingPool offloads heavy blocking work — process spawning, synchronous
// file I/O, CPU-bound embedding calls — off the cooperative task scheduler
// described in spec §5, bounding how many such calls run at once.
type BlockingPool struct {
	sem *semaphore
	wg  sync.WaitGroup
}

// NewBlockingPool creates a pool bounding concurrent blocking work to size
// goroutines. size <= 0 defaults to runtime.GOMAXPROCS(0).
func NewBlockingPool(size int) *BlockingPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &BlockingPool{sem: newSemaphore(size)}
}

// Run executes fn on the pool, blocking the caller until a slot is free (or
// ctx is cancelled) and until fn returns. The result type R lets callers
// offload a value-returning blocking call (e.g. an embedding request)
// without hand-rolling a channel per call site.
func Run[R any](ctx context.Context, p *BlockingPool, fn func(context.Context) (R, error)) (R, error) {
	var zero R
	if err := p.sem.acquire(ctx); err != nil {
		return zero, err
	}
	defer p.sem.release()

	p.wg.Add(1)
	defer p.wg.Done()

	return fn(ctx)
}

// Go runs fn on the pool in the background, without waiting for it to
// finish. Use Wait to block until all background work has drained, e.g.
// during graceful shutdown.
func (p *BlockingPool) Go(ctx context.Context, fn func(context.Context)) {
	if err := p.sem.acquire(ctx); err != nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.release()
		fn(ctx)
	}()
}

// Wait blocks until all work submitted via Go has completed.
func (p *BlockingPool) Wait() {
	p.wg.Wait()
}

// InUse reports how many blocking slots are currently occupied.
func (p *BlockingPool) InUse() int {
	return p.sem.inUse()
}
