package asyncexec

import "fmt"

// RequestType is the kind of operation a StateRequest performs.
type RequestType int

const (
	// RequestTypeGet reads the value of the context's key from a state.
	RequestTypeGet RequestType = iota
	// RequestTypePut writes the payload as the value of the context's key.
	RequestTypePut
	// RequestTypeDelete removes the value of the context's key.
	RequestTypeDelete
	// RequestTypeSyncPoint carries no state operation. It is used solely to
	// serialize a continuation after prior requests for the same key.
	RequestTypeSyncPoint
)

func (t RequestType) String() string {
	switch t {
	case RequestTypeGet:
		return "get"
	case RequestTypePut:
		return "put"
	case RequestTypeDelete:
		return "delete"
	case RequestTypeSyncPoint:
		return "sync-point"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// StateDescriptor names a piece of partitioned state.
type StateDescriptor struct {
	Name string
}

// StateRequest is one operation against named state, bound to the
// RecordContext that issued it. Immutable after creation and consumed
// exactly once by the state executor.
type StateRequest struct {
	state   *StateDescriptor // nil for sync points
	typ     RequestType
	payload []byte
	future  *StateFuture
	ctx     *RecordContext
}

func (r *StateRequest) State() *StateDescriptor { return r.state }

func (r *StateRequest) Type() RequestType { return r.typ }

func (r *StateRequest) Payload() []byte { return r.payload }

// Key is the key of the owning context.
func (r *StateRequest) Key() string { return r.ctx.Key() }

func (r *StateRequest) Context() *RecordContext { return r.ctx }

// Complete resolves the request's future with a value. Called by state
// executors from their own goroutines; the continuation is scheduled back
// onto the execution thread.
func (r *StateRequest) Complete(value []byte) {
	r.future.complete(value)
}

// Fail resolves the request's future with an error.
func (r *StateRequest) Fail(err error) {
	r.future.fail(err)
}

// RequestBatch is the default RequestContainer: an ordered slice of
// requests handed to a state executor as one unit.
type RequestBatch struct {
	requests []*StateRequest
}

func NewRequestBatch() *RequestBatch {
	return &RequestBatch{}
}

func (b *RequestBatch) Offer(request *StateRequest) {
	b.requests = append(b.requests, request)
}

func (b *RequestBatch) IsEmpty() bool { return len(b.requests) == 0 }

func (b *RequestBatch) Size() int { return len(b.requests) }

// Requests returns the batched requests in the order they were drawn from
// the active buffer.
func (b *RequestBatch) Requests() []*StateRequest { return b.requests }
