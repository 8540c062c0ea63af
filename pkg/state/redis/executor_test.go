package redis

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
	"github.com/asyncflow/asyncflow/pkg/mailbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T) (*Executor, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewExecutorWithClient(testLogger(), client), server
}

func newTestController(t *testing.T, executor *Executor) *asyncexec.AsyncExecutionController {
	t.Helper()

	mb := mailbox.New(testLogger())
	controller := asyncexec.NewAsyncExecutionController(
		mb,
		asyncexec.ExceptionHandlerFunc(func(message string, err error) {
			t.Logf("exception: %s: %v", message, err)
		}),
		executor,
		16,
		100,
		time.Hour,
		100,
		nil,
		testLogger(),
	)
	t.Cleanup(controller.Close)

	return controller
}

func TestExecutor_PutGetDelete(t *testing.T) {
	executor, server := newTestExecutor(t)
	controller := newTestController(t, executor)

	state := &asyncexec.StateDescriptor{Name: "counts"}
	ctx := controller.BuildContext("record", "user-1", false)
	controller.SetCurrentContext(ctx)

	_, err := controller.HandleRequestSync(state, asyncexec.RequestTypePut, []byte("7"))
	require.NoError(t, err)

	stored, err := server.Get("asyncflow:counts:user-1")
	require.NoError(t, err)
	assert.Equal(t, "7", stored)

	value, err := controller.HandleRequestSync(state, asyncexec.RequestTypeGet, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("7"), value)

	_, err = controller.HandleRequestSync(state, asyncexec.RequestTypeDelete, nil)
	require.NoError(t, err)
	assert.False(t, server.Exists("asyncflow:counts:user-1"))

	ctx.Release()
}

func TestExecutor_GetMissingKeyReturnsNil(t *testing.T) {
	executor, _ := newTestExecutor(t)
	controller := newTestController(t, executor)

	state := &asyncexec.StateDescriptor{Name: "counts"}
	ctx := controller.BuildContext("record", "unknown", false)
	controller.SetCurrentContext(ctx)

	value, err := controller.HandleRequestSync(state, asyncexec.RequestTypeGet, nil)
	require.NoError(t, err)
	assert.Nil(t, value)

	ctx.Release()
}

func TestExecutor_BatchResolvesInSubmissionOrder(t *testing.T) {
	executor, _ := newTestExecutor(t)
	controller := newTestController(t, executor)

	state := &asyncexec.StateDescriptor{Name: "counts"}
	ctx := controller.BuildContext("record", "user-1", false)
	controller.SetCurrentContext(ctx)

	controller.HandleRequest(state, asyncexec.RequestTypePut, []byte("41"))
	value, err := controller.HandleRequestSync(state, asyncexec.RequestTypeGet, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("41"), value, "a get pipelined after a put must observe it")

	ctx.Release()
}

func TestExecutor_StatesShareNothing(t *testing.T) {
	executor, server := newTestExecutor(t)
	controller := newTestController(t, executor)

	counts := &asyncexec.StateDescriptor{Name: "counts"}
	totals := &asyncexec.StateDescriptor{Name: "totals"}

	ctx := controller.BuildContext("record", "user-1", false)
	controller.SetCurrentContext(ctx)

	_, err := controller.HandleRequestSync(counts, asyncexec.RequestTypePut, []byte("1"))
	require.NoError(t, err)
	_, err = controller.HandleRequestSync(totals, asyncexec.RequestTypePut, []byte("100"))
	require.NoError(t, err)

	assert.True(t, server.Exists("asyncflow:counts:user-1"))
	assert.True(t, server.Exists("asyncflow:totals:user-1"))

	ctx.Release()
}

func TestNewExecutorFromURL_InvalidURL(t *testing.T) {
	_, err := NewExecutorFromURL(t.Context(), testLogger(), "not-a-url")
	assert.Error(t, err)
}
