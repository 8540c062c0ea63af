package asyncexec

import "fmt"

// KeyAccountingUnit tracks which keys are exclusively held by an in-flight
// RecordContext. At most one context occupies a key at a time; there is no
// ordering guarantee across keys. Touched only from the execution thread.
type KeyAccountingUnit struct {
	occupied map[string]*RecordContext
}

func NewKeyAccountingUnit(initialCapacity int) *KeyAccountingUnit {
	return &KeyAccountingUnit{
		occupied: make(map[string]*RecordContext, initialCapacity),
	}
}

// Occupy records holder as the exclusive owner of key. Returns false if
// another context already holds it. Occupying a key twice with the same
// holder is allowed and returns true.
func (u *KeyAccountingUnit) Occupy(key string, holder *RecordContext) bool {
	previous, exists := u.occupied[key]
	if exists {
		return previous == holder
	}

	u.occupied[key] = holder

	return true
}

// Release removes the occupancy of key by holder. Releasing a key the
// holder does not hold is a contract violation and panics, since tolerating
// it would silently corrupt per-key ordering.
func (u *KeyAccountingUnit) Release(key string, holder *RecordContext) {
	previous, exists := u.occupied[key]
	if !exists || previous != holder {
		panic(fmt.Sprintf("asyncexec: key %q released by a context that does not hold it (record %v)",
			key, holder.Record()))
	}

	delete(u.occupied, key)
}

// OccupiedCount reports how many keys are currently held.
func (u *KeyAccountingUnit) OccupiedCount() int {
	return len(u.occupied)
}
