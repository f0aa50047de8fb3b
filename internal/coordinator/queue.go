package coordinator

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/windowpet/companiond/api/types"
)

// DefaultMaxQueueSize bounds how many pending signals are retained.
const DefaultMaxQueueSize = 10

// prioritySignalTypes are genuine state changes that go stale quickly; they
// are always selected before ordinary signals.
var prioritySignalTypes = []types.SignalType{
	types.SignalIdleDetected,
	types.SignalActivitySpike,
}

// SignalQueue is a bounded, ordered queue of pending signals. When the bound
// is exceeded the oldest signal is evicted first. Selection removes exactly
// one signal per call; everything else stays queued for the next window.
type SignalQueue struct {
	mu      sync.Mutex
	signals []types.Signal
	maxSize int
	dropped int64
}

// NewSignalQueue creates a queue with the given bound.
func NewSignalQueue(maxSize int) *SignalQueue {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}
	return &SignalQueue{maxSize: maxSize}
}

// Enqueue appends a signal, evicting the oldest entry when the queue is at
// capacity. Returns true if an eviction happened.
func (q *SignalQueue) Enqueue(sig types.Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.signals) >= q.maxSize {
		q.signals = q.signals[1:]
		q.dropped++
		evicted = true
	}
	q.signals = append(q.signals, sig)
	return evicted
}

// SelectNext pops the single best pending signal:
//  1. the earliest-queued priority-type signal, if any (FIFO among urgent types);
//  2. otherwise the most recently queued signal (LIFO), since an old
//     window-change or clipboard event is less relevant once newer context exists.
//
// Returns false if the queue is empty.
func (q *SignalQueue) SelectNext() (types.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.signals) == 0 {
		return types.Signal{}, false
	}

	for i, sig := range q.signals {
		if slices.Contains(prioritySignalTypes, sig.Type) {
			q.signals = append(q.signals[:i], q.signals[i+1:]...)
			return sig, true
		}
	}

	last := len(q.signals) - 1
	sig := q.signals[last]
	q.signals = q.signals[:last]
	return sig, true
}

// Depth returns the number of pending signals.
func (q *SignalQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}

// Dropped returns how many signals were evicted due to overflow.
func (q *SignalQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
