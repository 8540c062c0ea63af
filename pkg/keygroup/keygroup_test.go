package keygroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssign_Stable(t *testing.T) {
	first := Assign("order-42", 128)
	second := Assign("order-42", 128)

	assert.Equal(t, first, second)
}

func TestAssign_WithinRange(t *testing.T) {
	keys := []string{"", "a", "order-1", "order-2", "user:55", "☃"}

	for _, key := range keys {
		group := Assign(key, 16)
		assert.GreaterOrEqual(t, group, 0)
		assert.Less(t, group, 16)
	}
}

func TestAssign_PanicsOnInvalidParallelism(t *testing.T) {
	assert.Panics(t, func() {
		Assign("key", 0)
	})
}
