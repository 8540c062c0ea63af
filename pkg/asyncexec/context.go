package asyncexec

import "fmt"

// emptyRecord is the sentinel payload for contexts built without a record,
// used by timers and barriers.
type emptyRecord struct{}

func (emptyRecord) String() string { return "<no record>" }

// RecordContext is the unit of work bound to one key and either a real
// record or the no-record sentinel. It is created by the controller,
// mutated only by the controller, and disposed exactly once when its last
// outstanding state request completes.
//
// Disposal is reference counted: the record driver holds one reference for
// the duration of record processing and each state request holds one until
// its continuation has run. All retain/release calls happen on the
// execution thread.
type RecordContext struct {
	record   any
	key      string
	keyGroup int
	epoch    *Epoch

	keyOccupied bool
	counted     bool
	refCount    int
	disposed    bool

	// disposer is the release edge back to the controller, captured at
	// construction as a closure rather than a back-pointer.
	disposer func(*RecordContext)

	namespaces map[string]any
}

func newRecordContext(record any, key string, keyGroup int, epoch *Epoch, disposer func(*RecordContext)) *RecordContext {
	if record == nil {
		record = emptyRecord{}
	}

	return &RecordContext{
		record:   record,
		key:      key,
		keyGroup: keyGroup,
		epoch:    epoch,
		refCount: 1,
		disposer: disposer,
	}
}

func (c *RecordContext) Record() any { return c.record }

// HasRecord reports whether the context carries a real record, as opposed
// to the sentinel used for non-record work.
func (c *RecordContext) HasRecord() bool {
	_, sentinel := c.record.(emptyRecord)

	return !sentinel
}

func (c *RecordContext) Key() string { return c.key }

// KeyGroup is the partition derived from the key.
func (c *RecordContext) KeyGroup() int { return c.keyGroup }

func (c *RecordContext) Epoch() *Epoch { return c.epoch }

// Retain adds one reference. Called once per state request issued under
// this context.
func (c *RecordContext) Retain() {
	if c.disposed {
		panic(fmt.Sprintf("asyncexec: retain on disposed context (key %q)", c.key))
	}

	c.refCount++
}

// Release drops one reference. When the count reaches zero the context is
// disposed: its epoch is completed, its key released and the next waiter
// for the key promoted. Releasing below zero is a contract violation.
func (c *RecordContext) Release() {
	if c.disposed {
		panic(fmt.Sprintf("asyncexec: context disposed twice (key %q)", c.key))
	}

	c.refCount--
	if c.refCount < 0 {
		panic(fmt.Sprintf("asyncexec: reference count of context went negative (key %q)", c.key))
	}

	if c.refCount == 0 {
		c.disposed = true
		c.disposer(c)
	}
}

// SetNamespace binds a namespace to a state for the remainder of this
// context's lifetime.
func (c *RecordContext) SetNamespace(state *StateDescriptor, namespace any) {
	if c.namespaces == nil {
		c.namespaces = make(map[string]any, 1)
	}

	c.namespaces[state.Name] = namespace
}

// Namespace returns the namespace bound to a state, or nil.
func (c *RecordContext) Namespace(state *StateDescriptor) any {
	return c.namespaces[state.Name]
}

func (c *RecordContext) isKeyOccupied() bool { return c.keyOccupied }

func (c *RecordContext) setKeyOccupied() { c.keyOccupied = true }

func (c *RecordContext) clearKeyOccupied() { c.keyOccupied = false }

func (c *RecordContext) setCounted() { c.counted = true }

func (c *RecordContext) isCounted() bool { return c.counted }
