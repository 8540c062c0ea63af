package asyncexec

import (
	"sync/atomic"
	"time"
)

// StateRequestBuffer holds requests that are ready to execute (active
// queue, FIFO) and requests waiting for their key to be released (one FIFO
// queue per key). A request lives in exactly one of the two, or is
// currently executing.
//
// Batch triggering: the controller pops when the active queue reaches the
// batch size; the buffer itself arms a single timer per batch window so a
// lone request still executes within [timeout, timeout+checkInterval]. A
// monotonic sequence counter invalidates stale scheduled checks.
//
// All methods run on the execution thread; the size gauges are additionally
// published for observability.
type StateRequestBuffer struct {
	active   []*StateRequest
	blocking map[string][]*StateRequest

	seq    int64
	closed bool

	bufferTimeout time.Duration
	checkInterval time.Duration

	// scheduleTimeoutCheck hops back to the execution thread; the captured
	// sequence is validated there with CheckCurrentSeq.
	scheduleTimeoutCheck func(seq int64)
	timer                *time.Timer

	activeLen   atomic.Int64
	blockingLen atomic.Int64
}

func NewStateRequestBuffer(bufferTimeout, checkInterval time.Duration, scheduleTimeoutCheck func(seq int64)) *StateRequestBuffer {
	return &StateRequestBuffer{
		blocking:             make(map[string][]*StateRequest),
		bufferTimeout:        bufferTimeout,
		checkInterval:        checkInterval,
		scheduleTimeoutCheck: scheduleTimeoutCheck,
	}
}

// EnqueueToActive appends a request to the active queue.
func (b *StateRequestBuffer) EnqueueToActive(request *StateRequest) {
	if b.closed {
		return
	}

	wasEmpty := len(b.active) == 0
	b.active = append(b.active, request)
	b.activeLen.Store(int64(len(b.active)))

	if wasEmpty {
		b.armTimer(b.bufferTimeout)
	}
}

// EnqueueToBlocking appends a request to the queue of its context's key.
func (b *StateRequestBuffer) EnqueueToBlocking(request *StateRequest) {
	if b.closed {
		return
	}

	key := request.Key()
	b.blocking[key] = append(b.blocking[key], request)
	b.blockingLen.Add(1)
}

// ActiveQueueSize is safe to read from any goroutine.
func (b *StateRequestBuffer) ActiveQueueSize() int {
	return int(b.activeLen.Load())
}

// BlockingQueueSize is safe to read from any goroutine.
func (b *StateRequestBuffer) BlockingQueueSize() int {
	return int(b.blockingLen.Load())
}

// PopActive removes up to maxCount oldest active requests into a container
// built by factory. Returns nil if nothing was ready.
func (b *StateRequestBuffer) PopActive(maxCount int, factory func() RequestContainer) RequestContainer {
	if len(b.active) == 0 {
		return nil
	}

	container := factory()

	count := maxCount
	if count > len(b.active) {
		count = len(b.active)
	}

	for _, request := range b.active[:count] {
		container.Offer(request)
	}

	b.active = b.active[count:]
	b.activeLen.Store(int64(len(b.active)))

	return container
}

// TryActivateOneByKey promotes the head of the key's blocking queue into
// the active queue and returns its context, or nil if no request waits for
// the key.
func (b *StateRequestBuffer) TryActivateOneByKey(key string) *RecordContext {
	queue := b.blocking[key]
	if len(queue) == 0 {
		return nil
	}

	head := queue[0]
	if len(queue) == 1 {
		delete(b.blocking, key)
	} else {
		b.blocking[key] = queue[1:]
	}

	b.blockingLen.Add(-1)
	b.EnqueueToActive(head)

	return head.Context()
}

// AdvanceSeq bumps the sequence counter, invalidating scheduled timeout
// checks whose captured sequence no longer matches. Called after a batch is
// handed off; requests left in the active queue get a re-armed check.
func (b *StateRequestBuffer) AdvanceSeq() {
	b.seq++

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	if len(b.active) > 0 {
		b.armTimer(b.checkInterval)
	}
}

// CheckCurrentSeq is the validity check run by a scheduled timeout callback
// to avoid acting on a stale trigger.
func (b *StateRequestBuffer) CheckCurrentSeq(seq int64) bool {
	return !b.closed && b.seq == seq
}

// Close discards unexecuted requests and disables further triggering.
func (b *StateRequestBuffer) Close() {
	b.closed = true

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	b.active = nil
	b.blocking = nil
	b.activeLen.Store(0)
	b.blockingLen.Store(0)
}

func (b *StateRequestBuffer) armTimer(delay time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}

	seq := b.seq
	b.timer = time.AfterFunc(delay, func() {
		b.scheduleTimeoutCheck(seq)
	})
}
