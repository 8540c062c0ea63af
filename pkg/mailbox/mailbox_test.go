package mailbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncflow/asyncflow/pkg/log"
)

func newTestMailbox() *Mailbox {
	return New(log.WithModule("test"))
}

func TestTryYield_RunsExactlyOneMail(t *testing.T) {
	mb := newTestMailbox()

	ran := 0
	mb.Execute("first", func() { ran++ })
	mb.Execute("second", func() { ran++ })

	assert.True(t, mb.TryYield())
	assert.Equal(t, 1, ran)

	assert.True(t, mb.TryYield())
	assert.Equal(t, 2, ran)

	assert.False(t, mb.TryYield())
}

func TestTryYield_FIFOOrder(t *testing.T) {
	mb := newTestMailbox()

	var order []string
	mb.Execute("a", func() { order = append(order, "a") })
	mb.Execute("b", func() { order = append(order, "b") })
	mb.Execute("c", func() { order = append(order, "c") })

	for mb.TryYield() {
	}

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestExecute_WakesWaiter(t *testing.T) {
	mb := newTestMailbox()

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		mb.Execute("from-other-goroutine", func() {})
	}()

	wg.Wait()

	select {
	case <-mb.Wake():
	default:
		require.Fail(t, "expected wake signal after enqueue")
	}

	assert.True(t, mb.HasMail())
}

func TestClose_DiscardsPendingMails(t *testing.T) {
	mb := newTestMailbox()

	ran := false
	mb.Execute("pending", func() { ran = true })
	mb.Close()

	assert.False(t, mb.TryYield())
	assert.False(t, ran)

	mb.Execute("after-close", func() { ran = true })
	assert.False(t, mb.TryYield())
	assert.False(t, ran)
}
