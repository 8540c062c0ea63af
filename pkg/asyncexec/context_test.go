package asyncexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordContext_DisposedOnceAtZeroReferences(t *testing.T) {
	disposals := 0
	ctx := newRecordContext("record", "k", 3, &Epoch{}, func(*RecordContext) {
		disposals++
	})

	ctx.Retain()
	ctx.Release()
	assert.Equal(t, 0, disposals)

	ctx.Release()
	assert.Equal(t, 1, disposals)
}

func TestRecordContext_UseAfterDisposePanics(t *testing.T) {
	ctx := newRecordContext("record", "k", 0, &Epoch{}, func(*RecordContext) {})
	ctx.Release()

	assert.Panics(t, func() { ctx.Retain() })
	assert.Panics(t, func() { ctx.Release() })
}

func TestRecordContext_NonRecordSentinel(t *testing.T) {
	withRecord := newRecordContext("record", "k", 3, &Epoch{}, func(*RecordContext) {})
	withoutRecord := newRecordContext(nil, "k", 0, &Epoch{}, func(*RecordContext) {})

	assert.True(t, withRecord.HasRecord())
	assert.False(t, withoutRecord.HasRecord())
	assert.Equal(t, 3, withRecord.KeyGroup())
}
