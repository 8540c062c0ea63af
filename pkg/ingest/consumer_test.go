package ingest_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
	"github.com/asyncflow/asyncflow/pkg/channels/gochannel"
	"github.com/asyncflow/asyncflow/pkg/ingest"
	"github.com/asyncflow/asyncflow/pkg/mailbox"
	"github.com/asyncflow/asyncflow/pkg/state/memory"
)

var countState = &asyncexec.StateDescriptor{Name: "counts"}

type consumerHarness struct {
	publisher  message.Publisher
	controller *asyncexec.AsyncExecutionController
	executor   *memory.Executor
	done       chan error
	cancel     context.CancelFunc
}

// countingProcess increments a per-key counter through the async request
// path, exercising the full get/continue/put chain.
func countingProcess(controller *asyncexec.AsyncExecutionController) ingest.ProcessFunc {
	return func(_ *asyncexec.RecordContext, _ ingest.Record) error {
		controller.HandleRequest(countState, asyncexec.RequestTypeGet, nil).ThenAccept(func(value []byte) {
			count := int64(0)
			if len(value) > 0 {
				count, _ = strconv.ParseInt(string(value), 10, 64)
			}

			controller.HandleRequest(countState, asyncexec.RequestTypePut,
				[]byte(strconv.FormatInt(count+1, 10)))
		})

		return nil
	}
}

func startConsumer(t *testing.T, topic string) *consumerHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	executor := memory.NewExecutor(logger)
	mb := mailbox.New(logger)

	controller := asyncexec.NewAsyncExecutionController(
		mb,
		asyncexec.ExceptionHandlerFunc(func(message string, err error) {
			t.Errorf("unexpected exception: %s: %v", message, err)
		}),
		executor,
		16,
		1, // every request triggers immediately
		time.Hour,
		100,
		nil,
		logger,
	)

	consumer := ingest.NewConsumer(subscriber, controller, mb, topic, countingProcess(controller), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- consumer.Run(ctx)
	}()

	h := &consumerHarness{
		publisher:  publisher,
		controller: controller,
		executor:   executor,
		done:       done,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("consumer did not stop")
		}

		controller.Close()
	})

	return h
}

func TestConsumer_CountsRecordsPerKey(t *testing.T) {
	h := startConsumer(t, "records")

	for _, key := range []string{"a", "a", "b", "a"} {
		err := ingest.PublishRecord(h.publisher, "records", ingest.Record{Key: key})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return string(h.executor.Value("counts", "a")) == "3" &&
			string(h.executor.Value("counts", "b")) == "1"
	}, 2*time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return h.controller.InFlightRecordNum() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConsumer_KeyFallsBackToMetadata(t *testing.T) {
	h := startConsumer(t, "records")

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"value":null}`))
	msg.Metadata.Set("key", "meta-key")
	require.NoError(t, h.publisher.Publish("records", msg))

	assert.Eventually(t, func() bool {
		return string(h.executor.Value("counts", "meta-key")) == "1"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConsumer_DropsUndecodableRecords(t *testing.T) {
	h := startConsumer(t, "records")

	bad := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	require.NoError(t, h.publisher.Publish("records", bad))

	err := ingest.PublishRecord(h.publisher, "records", ingest.Record{Key: "good"})
	require.NoError(t, err)

	// The bad record is acked and skipped; the good one still flows.
	assert.Eventually(t, func() bool {
		return string(h.executor.Value("counts", "good")) == "1"
	}, 2*time.Second, 5*time.Millisecond)
}
