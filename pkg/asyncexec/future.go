package asyncexec

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// StateFuture resolves with the result of one StateRequest. Completion
// happens on a state executor goroutine; registered continuations are
// scheduled back onto the execution thread with the originating context
// restored, in registration order.
type StateFuture struct {
	mu        sync.Mutex
	done      atomic.Bool
	value     []byte
	err       error
	callbacks []func(value []byte)

	// syncWaited marks a future whose error a synchronous caller consumes
	// through Get; such failures skip the exception handler so they are
	// reported exactly once.
	syncWaited atomic.Bool

	ctx     *RecordContext
	runner  *callbackRunner
	handler ExceptionHandler
}

func newStateFuture(ctx *RecordContext, runner *callbackRunner, handler ExceptionHandler) *StateFuture {
	return &StateFuture{
		ctx:     ctx,
		runner:  runner,
		handler: handler,
	}
}

// Done reports whether the future has resolved. Safe from the execution
// thread while the executor completes concurrently.
func (f *StateFuture) Done() bool {
	return f.done.Load()
}

// Get returns the resolved value or the failure it carries. Calling Get
// before the future is done is a contract violation.
func (f *StateFuture) Get() ([]byte, error) {
	if !f.done.Load() {
		panic("asyncexec: StateFuture.Get called before completion")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.value, f.err
}

// ThenAccept registers a continuation to run on the execution thread once
// the future resolves successfully. On failure the error is routed to the
// exception handler instead. Must be called from the execution thread.
func (f *StateFuture) ThenAccept(callback func(value []byte)) *StateFuture {
	f.mu.Lock()

	if !f.done.Load() {
		f.callbacks = append(f.callbacks, callback)
		f.mu.Unlock()

		return f
	}

	value, err := f.value, f.err
	f.mu.Unlock()

	// Already resolved: the completion mail may have run and released the
	// request's reference, so take a fresh one for this late continuation.
	f.ctx.Retain()
	f.runner.submit(f.ctx, "state-future-callback", func() {
		defer f.ctx.Release()

		if err != nil {
			f.reportFailure(err)

			return
		}

		f.runCallback(callback, value)
	})

	return f
}

// markSyncWait is called before a caller blocks on Get for the outcome.
func (f *StateFuture) markSyncWait() {
	f.syncWaited.Store(true)
}

func (f *StateFuture) complete(value []byte) {
	f.resolve(value, nil)
}

func (f *StateFuture) fail(err error) {
	f.resolve(nil, err)
}

func (f *StateFuture) resolve(value []byte, err error) {
	f.mu.Lock()

	if f.done.Load() {
		f.mu.Unlock()
		panic("asyncexec: StateFuture resolved twice")
	}

	f.value = value
	f.err = err
	f.done.Store(true)
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	f.runner.submit(f.ctx, "state-future-complete", func() {
		defer f.ctx.Release()

		if err != nil {
			f.reportFailure(err)

			return
		}

		for _, callback := range callbacks {
			f.runCallback(callback, value)
		}
	})
}

func (f *StateFuture) reportFailure(err error) {
	if f.syncWaited.Load() {
		return
	}

	f.handler.HandleException("state request failed", err)
}

// runCallback isolates continuation panics so a failing user callback
// cannot unwind the run loop or skip the context release.
func (f *StateFuture) runCallback(callback func(value []byte), value []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			f.handler.HandleException("panic in state future continuation", fmt.Errorf("%v", rec))
		}
	}()

	callback(value)
}
