package reactor

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// TimerState is one of {Wait, Ready, Process, Finish, Cancel}; transitions
// are monotonic except Wait->Cancel (see TimerEntry state in spec §3).
type TimerState int32

const (
	TimerWait TimerState = iota
	TimerReady
	TimerProcess
	TimerFinish
	TimerCancel
)

// nowMillis is the monotonic-milliseconds clock this package is specified
// to consume as an external collaborator; it's a var so tests can use a
// deterministic fake.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// timerEntry is one scheduled callback. state is accessed both under the
// timer's mutex (for index mutation) and lock-free via atomics (for
// get_state/cancel's fast pre-checks), matching the source's
// atomic<int> state plus a mutex-guarded pair of indices.
type timerEntry struct {
	activationTime int64
	state          int32 // TimerState, atomic
	callback       func()
	heapIndex      int // position in the activation-time heap, -1 once removed
}

// TimerId is an owning, shared handle to one scheduled entry, issued by
// Timer.Set and observable by the caller via Timer.GetState/Timer.Cancel.
type TimerId struct {
	entry *timerEntry
}

// timerHeap is a min-heap ordered by activationTime, the Go equivalent of
// the source's std::multimap<long, shared_ptr<TimerInfo>> index. Entry
// lookup by identity for cancellation doesn't need a second index here:
// TimerId already holds the *timerEntry directly, and heapIndex lets
// container/heap remove it in O(log n) without a scan.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].activationTime < h[j].activationTime }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// Timer is a delayed, cancellable callback scheduler driven by a fixed pool
// of worker goroutines competing over one ordered structure.
type Timer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	entries  timerHeap
	initOnce sync.Once
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewTimer constructs an uninitialized Timer; call Init to start its worker
// pool before scheduling anything.
func NewTimer() *Timer {
	t := &Timer{shutdown: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Init starts threadCount worker goroutines. Safe to call more than once;
// only the first call has effect, matching Timer::init's _is_init guard.
func (t *Timer) Init(threadCount int) {
	t.initOnce.Do(func() {
		if threadCount <= 0 {
			threadCount = 1
		}
		for i := 0; i < threadCount; i++ {
			t.wg.Add(1)
			go t.run()
		}
	})
}

// Set schedules callback to run after delay, returning a handle usable with
// Cancel and GetState.
func (t *Timer) Set(delay time.Duration, callback func()) TimerId {
	e := &timerEntry{
		activationTime: nowMillis() + delay.Milliseconds(),
		state:          int32(TimerWait),
		callback:       callback,
	}

	t.mu.Lock()
	heap.Push(&t.entries, e)
	t.mu.Unlock()
	t.cond.Signal()

	return TimerId{entry: e}
}

// Cancel cancels a scheduled entry. Effective only in the Wait state:
// returns ErrTimerCantCancel if the entry is already Process or Finish, and
// ErrTimerAlreadyDone if it was already cancelled.
func (t *Timer) Cancel(id TimerId) error {
	if id.entry == nil {
		return ErrTimerIDInvalid
	}
	e := id.entry

	switch TimerState(atomic.LoadInt32(&e.state)) {
	case TimerProcess, TimerFinish:
		return ErrTimerCantCancel
	case TimerCancel:
		return ErrTimerAlreadyDone
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e.heapIndex < 0 || e.heapIndex >= len(t.entries) || t.entries[e.heapIndex] != e {
		return ErrTimerNotFound
	}
	atomic.StoreInt32(&e.state, int32(TimerCancel))
	heap.Remove(&t.entries, e.heapIndex)
	return nil
}

// GetState reports an entry's state. A Wait entry whose activation time has
// already passed, but hasn't yet been picked up by a worker, reports Ready
// without mutating anything.
func (t *Timer) GetState(id TimerId) TimerState {
	if id.entry == nil {
		return TimerCancel // no meaningful "unknown" zero value; treat as terminal.
	}
	e := id.entry
	state := TimerState(atomic.LoadInt32(&e.state))
	if state == TimerWait && e.activationTime <= nowMillis() {
		return TimerReady
	}
	return state
}

// Size returns the number of entries still pending (Wait state).
func (t *Timer) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Empty reports whether there are no pending entries.
func (t *Timer) Empty() bool {
	return t.Size() == 0
}

// Shutdown stops all worker goroutines and waits for them to exit.
func (t *Timer) Shutdown() {
	t.mu.Lock()
	select {
	case <-t.shutdown:
		t.mu.Unlock()
		return
	default:
	}
	close(t.shutdown)
	t.mu.Unlock()
	t.cond.Broadcast()
	t.wg.Wait()
}

// run is one worker's loop (spec §4.F "Worker loop"): take the earliest due
// entry if its deadline has passed, otherwise wait on the condition
// variable, bounded by the time remaining until the next deadline.
func (t *Timer) run() {
	defer t.wg.Done()
	for {
		next := t.waitForDue()
		if next == nil {
			return // shutdown
		}
		t.process(next)
	}
}

// waitForDue blocks until an entry is due, removes and returns it, or
// returns nil once Shutdown has been called.
func (t *Timer) waitForDue() *timerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		select {
		case <-t.shutdown:
			return nil
		default:
		}

		if len(t.entries) > 0 {
			next := t.entries[0]
			delta := next.activationTime - nowMillis()
			if delta <= 0 {
				heap.Remove(&t.entries, next.heapIndex)
				return next
			}
			t.waitBounded(time.Duration(delta) * time.Millisecond)
		} else {
			t.cond.Wait()
		}
	}
}

// waitBounded waits on the condition variable for at most d. A deadline
// timer broadcasts once d elapses so the worker wakes even if no Set call
// ever signals it; any wakeup (deadline, Set, Shutdown) is sufficient
// reason to return and let waitForDue's loop re-examine the heap. Cancel
// does not signal: a worker waiting on a cancelled entry's deadline wakes
// when that deadline passes.
// Callers hold t.mu on entry and exit; cond.Wait releases it for the
// duration of the wait.
func (t *Timer) waitBounded(d time.Duration) {
	timer := time.AfterFunc(d, t.cond.Broadcast)
	defer timer.Stop()
	t.cond.Wait()
}

// process runs one entry's callback outside the mutex, transitioning
// Wait->Process->Finish around the call (cancellation already excludes
// entries that reached Process).
func (t *Timer) process(e *timerEntry) {
	atomic.StoreInt32(&e.state, int32(TimerProcess))
	if e.callback != nil {
		e.callback()
	}
	atomic.StoreInt32(&e.state, int32(TimerFinish))
}
