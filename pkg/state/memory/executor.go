// Package memory provides an in-memory state executor for tests and local
// development. Batches execute on a single goroutine in submission order,
// so a put followed by a get in one batch observes the written value.
package memory

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
)

type Executor struct {
	mu     sync.Mutex
	states map[string]map[string][]byte

	pendingBatches atomic.Int32
	closed         atomic.Bool

	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{
		states: make(map[string]map[string][]byte),
		logger: logger.With("module", "memory_state_executor"),
	}
}

func (e *Executor) CreateRequestContainer() asyncexec.RequestContainer {
	return asyncexec.NewRequestBatch()
}

func (e *Executor) ExecuteBatchRequests(container asyncexec.RequestContainer) {
	batch, ok := container.(*asyncexec.RequestBatch)
	if !ok {
		panic(fmt.Sprintf("memory: unexpected container type %T", container))
	}

	e.pendingBatches.Add(1)

	go func() {
		defer e.pendingBatches.Add(-1)

		for _, request := range batch.Requests() {
			e.executeOne(request)
		}
	}()
}

func (e *Executor) FullyLoaded() bool {
	return false
}

func (e *Executor) Shutdown() {
	e.closed.Store(true)
}

// Value reads a stored value directly, bypassing the request path. Intended
// for assertions in tests.
func (e *Executor) Value(stateName, key string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.states[stateName][key]
}

func (e *Executor) executeOne(request *asyncexec.StateRequest) {
	if e.closed.Load() {
		request.Fail(fmt.Errorf("memory: executor is shut down"))

		return
	}

	if request.Type() == asyncexec.RequestTypeSyncPoint {
		request.Complete(nil)

		return
	}

	stateName := request.State().Name
	key := request.Key()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch request.Type() {
	case asyncexec.RequestTypeGet:
		request.Complete(e.states[stateName][key])
	case asyncexec.RequestTypePut:
		keyspace := e.states[stateName]
		if keyspace == nil {
			keyspace = make(map[string][]byte)
			e.states[stateName] = keyspace
		}

		keyspace[key] = request.Payload()
		request.Complete(nil)
	case asyncexec.RequestTypeDelete:
		delete(e.states[stateName], key)
		request.Complete(nil)
	default:
		request.Fail(fmt.Errorf("memory: unsupported request type %s", request.Type()))
	}
}
