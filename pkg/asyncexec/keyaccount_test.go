package asyncexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testContext(key string) *RecordContext {
	return newRecordContext("record", key, 0, &Epoch{}, func(*RecordContext) {})
}

func TestKeyAccounting_OccupyAndRelease(t *testing.T) {
	unit := NewKeyAccountingUnit(4)
	holder := testContext("k1")

	assert.True(t, unit.Occupy("k1", holder))
	assert.Equal(t, 1, unit.OccupiedCount())

	unit.Release("k1", holder)
	assert.Equal(t, 0, unit.OccupiedCount())
}

func TestKeyAccounting_SameHolderReoccupies(t *testing.T) {
	unit := NewKeyAccountingUnit(4)
	holder := testContext("k1")

	assert.True(t, unit.Occupy("k1", holder))
	assert.True(t, unit.Occupy("k1", holder))
	assert.Equal(t, 1, unit.OccupiedCount())
}

func TestKeyAccounting_SecondHolderRejected(t *testing.T) {
	unit := NewKeyAccountingUnit(4)
	first := testContext("k1")
	second := testContext("k1")

	assert.True(t, unit.Occupy("k1", first))
	assert.False(t, unit.Occupy("k1", second))

	unit.Release("k1", first)
	assert.True(t, unit.Occupy("k1", second))
}

func TestKeyAccounting_IndependentKeys(t *testing.T) {
	unit := NewKeyAccountingUnit(4)

	assert.True(t, unit.Occupy("k1", testContext("k1")))
	assert.True(t, unit.Occupy("k2", testContext("k2")))
	assert.Equal(t, 2, unit.OccupiedCount())
}

func TestKeyAccounting_ReleaseWithoutHoldingPanics(t *testing.T) {
	unit := NewKeyAccountingUnit(4)
	holder := testContext("k1")
	intruder := testContext("k1")

	assert.Panics(t, func() {
		unit.Release("k1", holder)
	})

	assert.True(t, unit.Occupy("k1", holder))
	assert.Panics(t, func() {
		unit.Release("k1", intruder)
	})
}
