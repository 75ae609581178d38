package scheduler

import "sync"

// resizableSemaphore is a counting semaphore whose capacity can change
// while goroutines are waiting on or holding it. The adaptive
// controller may raise or lower concurrency mid-tier (spec.md §4.4);
// a plain buffered-channel semaphore can't be resized in place, so
// this uses a condition variable instead.
type resizableSemaphore struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	inUse    int
}

func newResizableSemaphore(capacity int) *resizableSemaphore {
	s := &resizableSemaphore{capacity: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *resizableSemaphore) acquire() {
	s.mu.Lock()
	for s.inUse >= s.capacity {
		s.cond.Wait()
	}
	s.inUse++
	s.mu.Unlock()
}

func (s *resizableSemaphore) release() {
	s.mu.Lock()
	s.inUse--
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *resizableSemaphore) resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	s.mu.Lock()
	s.capacity = capacity
	s.cond.Broadcast()
	s.mu.Unlock()
}
