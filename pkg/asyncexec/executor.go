package asyncexec

// RequestContainer holds the requests of one batch in the order they were
// drawn from the active buffer. RequestBatch is the default implementation;
// executors may build their own.
type RequestContainer interface {
	Offer(request *StateRequest)
	IsEmpty() bool
	Size() int
}

// StateExecutor is the external backend that actually performs batched
// state reads and writes, on its own goroutines. It resolves each request's
// future; the resulting continuations are scheduled back onto the execution
// thread by the future wiring, never run inline.
type StateExecutor interface {
	// CreateRequestContainer builds an empty batch container.
	CreateRequestContainer() RequestContainer

	// ExecuteBatchRequests executes a batch as one unit, eventually
	// resolving every request in it. Must not block the caller.
	ExecuteBatchRequests(container RequestContainer)

	// FullyLoaded is a throttling hint: when true, forcing another batch
	// trigger is not worthwhile.
	FullyLoaded() bool

	// Shutdown abandons in-flight work and releases resources.
	Shutdown()
}

// ExceptionHandler is the sink for failures raised inside non-record
// actions or continuations. They are routed here instead of propagating
// into the cooperative run loop.
type ExceptionHandler interface {
	HandleException(message string, err error)
}

// ExceptionHandlerFunc adapts a function to the ExceptionHandler interface.
type ExceptionHandlerFunc func(message string, err error)

func (f ExceptionHandlerFunc) HandleException(message string, err error) {
	f(message, err)
}

// SwitchContextListener is notified with the new current context every time
// the execution thread switches context. The context is nil while a
// non-record action runs.
type SwitchContextListener interface {
	SwitchContext(ctx *RecordContext)
}
