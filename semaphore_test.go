package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSemaphoreSignalWakesWaiter(t *testing.T) {
	s := NewSemaphore(0)
	woke := make(chan struct{})

	go func() {
		s.Wait()
		close(woke)
	}()

	select {
	case <-woke:
		t.Fatal("waiter returned before any Signal")
	case <-time.After(20 * time.Millisecond):
	}

	s.Signal()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after Signal")
	}
}

func TestSemaphoreNonZeroCountDoesNotBlock(t *testing.T) {
	s := NewSemaphore(2)
	done := make(chan struct{})
	go func() {
		s.Wait()
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waits on a pre-signaled count should not block")
	}
}

func TestSemaphoreSignalIsAdditive(t *testing.T) {
	s := NewSemaphore(0)
	s.Signal()
	s.Signal()

	n := 0
	for i := 0; i < 2; i++ {
		s.Wait()
		n++
	}
	assert.Equal(t, 2, n)
}
