// Package concurrency provides the bounded-concurrency primitives the
// runtime's resource model (spec §5) is built on: a per-provider stream
// limiter, a blocking-work pool for process spawns and CPU-bound embedding
// calls, and a circuit breaker for flaky downstream providers.
package concurrency

import (
	"context"
	"sync"
)

// DefaultProviderConcurrency is the per-provider concurrent-stream cap
// applied when a provider has no explicit override (spec §5: "up to a
// configured per-provider limit (default 4), with additional calls queued").
const DefaultProviderConcurrency = 4

// semaphore is a weighted semaphore for limiting concurrent access to a
// resource; unlike a mutex it allows up to max concurrent holders.
type semaphore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	max     int
	current int
}

func newSemaphore(max int) *semaphore {
	if max <= 0 {
		max = 1
	}
	s := &semaphore{max: max}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *semaphore) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.current < s.max {
		s.current++
		s.mu.Unlock()
		return nil
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	for s.current >= s.max {
		if ctx.Err() != nil {
			s.mu.Unlock()
			close(done)
			return ctx.Err()
		}
		s.cond.Wait()
	}
	s.current++
	s.mu.Unlock()
	close(done)
	return nil
}

func (s *semaphore) release() {
	s.mu.Lock()
	if s.current > 0 {
		s.current--
	}
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *semaphore) inUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ProviderLimiter caps concurrent streaming calls per provider name, queuing
// additional calls rather than rejecting them (spec §5's "shared resources"
// rule for the provider HTTP client).
type ProviderLimiter struct {
	mu         sync.Mutex
	limits     map[string]*semaphore
	defaultMax int
}

// NewProviderLimiter creates a limiter applying defaultMax to any provider
// without an explicit override.
func NewProviderLimiter(defaultMax int) *ProviderLimiter {
	if defaultMax <= 0 {
		defaultMax = DefaultProviderConcurrency
	}
	return &ProviderLimiter{
		limits:     make(map[string]*semaphore),
		defaultMax: defaultMax,
	}
}

// SetLimit overrides the concurrency cap for a specific provider name.
// Existing holders are unaffected; the new cap applies to future Acquire calls.
func (l *ProviderLimiter) SetLimit(provider string, max int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[provider] = newSemaphore(max)
}

func (l *ProviderLimiter) semFor(provider string) *semaphore {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.limits[provider]
	if !ok {
		sem = newSemaphore(l.defaultMax)
		l.limits[provider] = sem
	}
	return sem
}

// Acquire blocks until a stream slot for provider is available or ctx is done.
func (l *ProviderLimiter) Acquire(ctx context.Context, provider string) error {
	return l.semFor(provider).acquire(ctx)
}

// Release returns a stream slot for provider.
func (l *ProviderLimiter) Release(provider string) {
	l.semFor(provider).release()
}

// InUse reports how many concurrent streams a provider currently holds.
func (l *ProviderLimiter) InUse(provider string) int {
	return l.semFor(provider).inUse()
}

// Do runs fn holding one concurrency slot for provider, releasing it
// regardless of fn's outcome.
func (l *ProviderLimiter) Do(ctx context.Context, provider string, fn func(context.Context) error) error {
	if err := l.Acquire(ctx, provider); err != nil {
		return err
	}
	defer l.Release(provider)
	return fn(ctx)
}
