package subagent

import (
	"context"
	"sync"
)

// semaphore is a counting semaphore with strict FIFO handoff: a released
// slot goes to the longest-waiting acquirer, never to a late arrival.
type semaphore struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan struct{}
}

func newSemaphore(capacity int) *semaphore {
	return &semaphore{capacity: capacity}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (s *semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.inUse < s.capacity {
		s.inUse++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// The slot was handed over concurrently with cancellation; pass it
		// on so it is not lost.
		s.Release()
		return ctx.Err()
	}
}

// Release frees a slot, handing it directly to the oldest waiter if any.
func (s *semaphore) Release() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		ready := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		close(ready)
		return
	}
	s.inUse--
	s.mu.Unlock()
}
