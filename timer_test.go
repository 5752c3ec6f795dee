package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerFiresInDelayOrder(t *testing.T) {
	tm := NewTimer()
	tm.Init(2)
	defer tm.Shutdown()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	var once sync.Once

	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			once.Do(func() { close(done) })
		}
	}

	tm.Set(50*time.Millisecond, func() { record("A") })
	tm.Set(10*time.Millisecond, func() { record("B") })
	tm.Set(30*time.Millisecond, func() { record("C") })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all timers fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"B", "C", "A"}, order)
}

func TestTimerGetStateTransitions(t *testing.T) {
	tm := NewTimer()
	tm.Init(1)
	defer tm.Shutdown()

	fired := make(chan struct{})
	id := tm.Set(30*time.Millisecond, func() { close(fired) })
	assert.Equal(t, TimerWait, tm.GetState(id))

	<-fired
	// Allow the worker to finish the Process->Finish transition.
	require.Eventually(t, func() bool {
		return tm.GetState(id) == TimerFinish
	}, time.Second, time.Millisecond)
}

func TestTimerCancelRace(t *testing.T) {
	tm := NewTimer()
	tm.Init(1)
	defer tm.Shutdown()

	ran := false
	id := tm.Set(150*time.Millisecond, func() { ran = true })
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, tm.Cancel(id))
	err := tm.Cancel(id)
	assert.ErrorIs(t, err, ErrTimerAlreadyDone)

	time.Sleep(200 * time.Millisecond)
	assert.False(t, ran, "cancelled callback must never run")
}

func TestTimerCancelAfterProcessFails(t *testing.T) {
	tm := NewTimer()
	tm.Init(1)
	defer tm.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	id := tm.Set(5*time.Millisecond, func() {
		close(started)
		<-release
	})

	<-started
	err := tm.Cancel(id)
	assert.ErrorIs(t, err, ErrTimerCantCancel)
	close(release)
}

func TestTimerSizeAndEmpty(t *testing.T) {
	tm := NewTimer()
	tm.Init(1)
	defer tm.Shutdown()

	assert.True(t, tm.Empty())
	id := tm.Set(time.Hour, func() {})
	assert.Equal(t, 1, tm.Size())
	require.NoError(t, tm.Cancel(id))
	assert.True(t, tm.Empty())
}
