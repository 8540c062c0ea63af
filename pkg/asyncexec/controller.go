// Package asyncexec is the asynchronous execution control layer of a
// streaming task. It accepts per-key state requests issued while records
// are processed, preserves per-key submission order even though requests
// execute in batches on an external backend, bounds in-flight work, and
// aligns non-record actions such as checkpoint barriers with epoch
// completion.
//
// Exactly one logical execution thread drives the controller and every
// continuation; state executors run batches on their own goroutines and
// only cross back by scheduling mails.
package asyncexec

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asyncflow/asyncflow/pkg/keygroup"
	"github.com/asyncflow/asyncflow/pkg/mailbox"
)

const (
	// defaultBufferTimeoutCheckInterval bounds the slack of the buffer
	// timeout trigger: a timer per request would be far more precise but
	// much more expensive, so a lone request executes within
	// [timeout, timeout+interval] instead.
	defaultBufferTimeoutCheckInterval = 100 * time.Millisecond

	// newMailWaitInterval bounds how long a cooperative wait sleeps when no
	// callback is ready and no forced trigger is warranted.
	newMailWaitInterval = time.Millisecond
)

// AsyncExecutionController orchestrates key accounting, epochs, the request
// buffer and the continuation wiring. All fields except the in-flight
// counter and the published gauges are touched exclusively from the
// execution thread.
type AsyncExecutionController struct {
	batchSize          int
	bufferTimeout      time.Duration
	maxInFlightRecords int
	maxParallelism     int

	mb            mailbox.Executor
	handler       ExceptionHandler
	stateExecutor StateExecutor
	runner        *callbackRunner

	keyAccounting *KeyAccountingUnit
	buffer        *StateRequestBuffer
	epochManager  *EpochManager

	currentContext *RecordContext
	listener       SwitchContextListener

	// inFlightRecordNum is the only state crossing threads lock-free: it is
	// read by completion callbacks and the backpressure wait loop.
	inFlightRecordNum atomic.Int32

	waitingMail atomic.Bool
	notifyCh    chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once

	logger *slog.Logger
}

func NewAsyncExecutionController(
	mb mailbox.Executor,
	handler ExceptionHandler,
	stateExecutor StateExecutor,
	maxParallelism int,
	batchSize int,
	bufferTimeout time.Duration,
	maxInFlightRecords int,
	listener SwitchContextListener,
	logger *slog.Logger,
) *AsyncExecutionController {
	aec := &AsyncExecutionController{
		batchSize:          batchSize,
		bufferTimeout:      bufferTimeout,
		maxInFlightRecords: maxInFlightRecords,
		maxParallelism:     maxParallelism,
		mb:                 mb,
		handler:            handler,
		stateExecutor:      stateExecutor,
		keyAccounting:      NewKeyAccountingUnit(maxInFlightRecords),
		listener:           listener,
		notifyCh:           make(chan struct{}, 1),
		closed:             make(chan struct{}),
		logger:             logger.With("module", "async_execution_controller"),
	}

	aec.runner = &callbackRunner{
		mb:            mb,
		switchContext: aec.SetCurrentContext,
		notify:        aec.notifyNewMail,
		handler:       handler,
	}

	aec.buffer = NewStateRequestBuffer(
		bufferTimeout,
		defaultBufferTimeoutCheckInterval,
		func(scheduledSeq int64) {
			mb.Execute("buffer-timeout", func() {
				if aec.buffer.CheckCurrentSeq(scheduledSeq) {
					aec.TriggerIfNeeded(true)
				}
			})
			aec.notifyNewMail()
		},
	)

	aec.epochManager = NewEpochManager(func() {
		aec.DrainInflightRecords(0)
	}, logger)

	aec.logger.Info("Created async execution controller",
		"batch_size", batchSize,
		"buffer_timeout", bufferTimeout,
		"max_in_flight_records", maxInFlightRecords,
		"max_parallelism", maxParallelism,
	)

	return aec
}

// BuildContext creates a RecordContext for a record and key. A nil record
// builds a non-record context (timers, barriers). With inheritEpoch the
// context joins the epoch of the current context instead of registering
// under the active one. Pure construction apart from the epoch counter.
func (aec *AsyncExecutionController) BuildContext(record any, key string, inheritEpoch bool) *RecordContext {
	var epoch *Epoch
	if inheritEpoch && aec.currentContext != nil {
		epoch = aec.epochManager.OnEpoch(aec.currentContext.Epoch())
	} else {
		epoch = aec.epochManager.OnRecord()
	}

	return newRecordContext(
		record,
		key,
		keygroup.Assign(key, aec.maxParallelism),
		epoch,
		aec.disposeContext,
	)
}

// SetCurrentContext installs the ambient context observed by code running
// on the execution thread. Invoked immediately before any continuation is
// dispatched. Must only be called from the execution thread.
func (aec *AsyncExecutionController) SetCurrentContext(ctx *RecordContext) {
	aec.currentContext = ctx
	if aec.listener != nil {
		aec.listener.SwitchContext(ctx)
	}
}

func (aec *AsyncExecutionController) CurrentContext() *RecordContext {
	return aec.currentContext
}

// SetCurrentNamespaceForState binds a namespace on the current context.
func (aec *AsyncExecutionController) SetCurrentNamespaceForState(state *StateDescriptor, namespace any) {
	aec.currentContext.SetNamespace(state, namespace)
}

// HandleRequest wraps one state operation into a StateRequest bound to the
// current context and enqueues it, seizing capacity first (backpressure)
// and key exclusivity second. Returns the future immediately.
func (aec *AsyncExecutionController) HandleRequest(state *StateDescriptor, requestType RequestType, payload []byte) *StateFuture {
	future := newStateFuture(aec.currentContext, aec.runner, aec.handler)
	aec.currentContext.Retain()

	request := &StateRequest{
		state:   state,
		typ:     requestType,
		payload: payload,
		future:  future,
		ctx:     aec.currentContext,
	}

	aec.seizeCapacity()

	if aec.tryOccupyKey(request.ctx) {
		aec.buffer.EnqueueToActive(request)
	} else {
		aec.buffer.EnqueueToBlocking(request)
	}

	aec.TriggerIfNeeded(false)

	return future
}

// HandleRequestSync submits a request, force-triggers once and yields
// cooperatively until the future resolves, then returns its value.
func (aec *AsyncExecutionController) HandleRequestSync(state *StateDescriptor, requestType RequestType, payload []byte) ([]byte, error) {
	future := aec.HandleRequest(state, requestType, payload)
	future.markSyncWait()

	aec.TriggerIfNeeded(true)

	for !future.Done() {
		select {
		case <-aec.closed:
			// Shutdown in progress; end the wait without error.
			return nil, nil
		default:
		}

		if !aec.mb.TryYield() {
			if !aec.stateExecutor.FullyLoaded() {
				aec.TriggerIfNeeded(true)
			}

			aec.waitForNewMails()
		}
	}

	return future.Get()
}

// SyncPointRequestWithCallback serializes a callback after every previously
// submitted request for the current key has completed.
func (aec *AsyncExecutionController) SyncPointRequestWithCallback(callback func()) *StateFuture {
	return aec.HandleRequest(nil, RequestTypeSyncPoint, nil).ThenAccept(func([]byte) {
		callback()
	})
}

// TriggerIfNeeded pops a batch and hands it to the state executor. Without
// force this is a no-op until the active queue reaches the batch size.
func (aec *AsyncExecutionController) TriggerIfNeeded(force bool) {
	if !force && aec.buffer.ActiveQueueSize() < aec.batchSize {
		return
	}

	batch := aec.buffer.PopActive(aec.batchSize, aec.stateExecutor.CreateRequestContainer)
	if batch == nil || batch.IsEmpty() {
		return
	}

	aec.stateExecutor.ExecuteBatchRequests(batch)
	aec.buffer.AdvanceSeq()
}

// DrainInflightRecords yields to pending callbacks until the in-flight
// counter is at most targetNum, force-triggering the buffer when nothing is
// pending and the state executor still has slack. targetNum 0 is used
// before closing an epoch.
func (aec *AsyncExecutionController) DrainInflightRecords(targetNum int) {
	for int(aec.inFlightRecordNum.Load()) > targetNum {
		select {
		case <-aec.closed:
			// Treated as orderly cancellation, not an error.
			return
		default:
		}

		if !aec.mb.TryYield() {
			if targetNum == 0 || !aec.stateExecutor.FullyLoaded() {
				aec.TriggerIfNeeded(true)
			}

			aec.waitForNewMails()
		}
	}
}

// ProcessNonRecord runs a non-record action (e.g. a checkpoint barrier)
// aligned with epoch completion. Both actions run with no current context;
// failures go to the exception handler, never into the run loop. Either
// action may be nil.
func (aec *AsyncExecutionController) ProcessNonRecord(triggerAction, finalAction func() error) {
	aec.epochManager.OnNonRecord(
		aec.wrapNonRecordAction(triggerAction),
		aec.wrapNonRecordAction(finalAction),
		SerialBetweenEpoch,
	)
}

func (aec *AsyncExecutionController) wrapNonRecordAction(action func() error) func() {
	if action == nil {
		return nil
	}

	return func() {
		previous := aec.currentContext
		aec.SetCurrentContext(nil)

		defer func() {
			if rec := recover(); rec != nil {
				aec.handler.HandleException("panic in non-record action", asPanicError(rec))
			}

			aec.SetCurrentContext(previous)
		}()

		if err := action(); err != nil {
			aec.handler.HandleException("failed to process non-record action", err)
		}
	}
}

// InFlightRecordNum is safe to read from any goroutine.
func (aec *AsyncExecutionController) InFlightRecordNum() int {
	return int(aec.inFlightRecordNum.Load())
}

// ActiveBufferSize is safe to read from any goroutine.
func (aec *AsyncExecutionController) ActiveBufferSize() int {
	return aec.buffer.ActiveQueueSize()
}

// BlockingBufferSize is safe to read from any goroutine.
func (aec *AsyncExecutionController) BlockingBufferSize() int {
	return aec.buffer.BlockingQueueSize()
}

// CurrentEpochID is safe to read from any goroutine.
func (aec *AsyncExecutionController) CurrentEpochID() int64 {
	return aec.epochManager.ActiveEpochID()
}

// EpochManager exposes the epoch manager for test assertions.
func (aec *AsyncExecutionController) EpochManager() *EpochManager {
	return aec.epochManager
}

// Close discards unexecuted batches and ends any cooperative wait.
// In-flight requests are abandoned, not retried.
func (aec *AsyncExecutionController) Close() {
	aec.closeOnce.Do(func() {
		close(aec.closed)
		aec.buffer.Close()
	})
}

// disposeContext is the release edge captured by every RecordContext. It
// runs on the execution thread when the context's last reference drops:
// completes one record in the epoch manager, releases the key, decrements
// the in-flight counter and promotes the next waiter for the key.
func (aec *AsyncExecutionController) disposeContext(toDispose *RecordContext) {
	aec.epochManager.CompleteOneRecord(toDispose.Epoch())

	// Release and promotion are paired: a context that never occupied its
	// key (it issued no requests) must not promote a waiter, because
	// another context still holds the key.
	if toDispose.isKeyOccupied() {
		aec.keyAccounting.Release(toDispose.Key(), toDispose)
		toDispose.clearKeyOccupied()

		if next := aec.buffer.TryActivateOneByKey(toDispose.Key()); next != nil {
			if !aec.tryOccupyKey(next) {
				panic("asyncexec: promoted context failed to occupy its key")
			}
		}
	}

	if toDispose.isCounted() {
		aec.inFlightRecordNum.Add(-1)
	}
}

// tryOccupyKey returns true if the context holds or newly seizes the
// exclusive slot for its key.
func (aec *AsyncExecutionController) tryOccupyKey(ctx *RecordContext) bool {
	if ctx.isKeyOccupied() {
		return true
	}

	if aec.keyAccounting.Occupy(ctx.Key(), ctx) {
		ctx.setKeyOccupied()

		return true
	}

	return false
}

// seizeCapacity admits a record's first request only when the in-flight
// counter is strictly below the maximum, yielding until enough contexts
// have been disposed. Requests from an already admitted context (key
// occupied) pass through.
func (aec *AsyncExecutionController) seizeCapacity() {
	if aec.currentContext.isKeyOccupied() || aec.currentContext.isCounted() {
		return
	}

	stored := aec.currentContext
	aec.DrainInflightRecords(aec.maxInFlightRecords - 1)
	// Yielded callbacks may have switched the ambient context.
	aec.SetCurrentContext(stored)

	stored.setCounted()
	aec.inFlightRecordNum.Add(1)
}

// waitForNewMails sleeps briefly on the wake signal so cooperative waits do
// not busy-spin; the short timeout bounds staleness.
func (aec *AsyncExecutionController) waitForNewMails() {
	aec.waitingMail.Store(true)
	defer aec.waitingMail.Store(false)

	select {
	case <-aec.notifyCh:
	case <-aec.closed:
	case <-time.After(newMailWaitInterval):
	}
}

func (aec *AsyncExecutionController) notifyNewMail() {
	if aec.waitingMail.Load() {
		select {
		case aec.notifyCh <- struct{}{}:
		default:
		}
	}
}
