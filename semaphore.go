package reactor

import "sync"

// Semaphore is a counting semaphore built on a mutex and condition
// variable, the direct Go translation of the mutex+condition_variable
// semaphore this package was ported from. Signal wakes one waiter; Wait
// blocks until the count is positive, then decrements it. There is no
// fairness guarantee beyond sync.Cond's.
type Semaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(count int) *Semaphore {
	s := &Semaphore{count: count}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Signal increments the count and wakes one waiter.
func (s *Semaphore) Signal() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.cond.Signal()
}

// Wait blocks until the count is positive, then decrements it.
func (s *Semaphore) Wait() {
	s.mu.Lock()
	for s.count <= 0 {
		s.cond.Wait()
	}
	s.count--
	s.mu.Unlock()
}
