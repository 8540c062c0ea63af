// Package ingest drives records from a message bus through the async
// execution controller. The consumer's run loop is the single execution
// thread: it multiplexes pending continuation mails (which take priority)
// with new record input, so draining and backpressure never admit records
// underneath a cooperative wait.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
	"github.com/asyncflow/asyncflow/pkg/mailbox"
	"github.com/asyncflow/asyncflow/pkg/otelhelper"
)

// Record is the wire form of one keyed record.
type Record struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ProcessFunc is the user processing logic for one record. It runs on the
// execution thread with the record's context installed as current, and
// issues state requests through the controller.
type ProcessFunc func(ctx *asyncexec.RecordContext, record Record) error

type Consumer struct {
	subscriber message.Subscriber
	controller *asyncexec.AsyncExecutionController
	mb         *mailbox.Mailbox
	topic      string
	process    ProcessFunc

	logger *slog.Logger
	tracer trace.Tracer
}

func NewConsumer(
	subscriber message.Subscriber,
	controller *asyncexec.AsyncExecutionController,
	mb *mailbox.Mailbox,
	topic string,
	process ProcessFunc,
	logger *slog.Logger,
) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		controller: controller,
		mb:         mb,
		topic:      topic,
		process:    process,
		logger:     logger.With("module", "record_consumer", "topic", topic),
		tracer:     otel.Tracer("asyncflow/ingest"),
	}
}

// Run owns the execution thread until ctx is cancelled or the subscription
// closes. It must not be called concurrently with any other use of the
// mailbox's TryYield.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}

	c.logger.InfoContext(ctx, "Record consumer started")

	for {
		// Continuations first: mails may dispose contexts and free
		// capacity that the next record needs.
		if c.mb.TryYield() {
			continue
		}

		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Record consumer stopping")

			return nil
		case msg, ok := <-messages:
			if !ok {
				c.logger.InfoContext(ctx, "Subscription closed")

				return nil
			}

			c.handleMessage(ctx, msg)
		case <-c.mb.Wake():
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg *message.Message) {
	var record Record
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		c.logger.ErrorContext(ctx, "Dropping undecodable record", "error", err, "message_id", msg.UUID)
		msg.Ack()

		return
	}

	if record.Key == "" {
		record.Key = msg.Metadata.Get("key")
	}

	spanCtx, span := c.tracer.Start(ctx, "process_record", trace.WithAttributes(
		attribute.String(otelhelper.RecordKeyKey, record.Key),
		attribute.String("asyncflow.message.id", msg.UUID),
	))
	defer span.End()

	recordCtx := c.controller.BuildContext(record, record.Key, false)
	c.controller.SetCurrentContext(recordCtx)

	if err := c.process(recordCtx, record); err != nil {
		c.logger.ErrorContext(spanCtx, "Record processing failed", "error", err, "key", record.Key)
		otelhelper.SetError(span, err, attribute.String(otelhelper.RecordKeyKey, record.Key))
	}

	recordCtx.Release()

	// The record is admitted (its requests are buffered and accounted);
	// completion happens asynchronously.
	msg.Ack()
}

// PublishRecord marshals a record and publishes it to a topic. Used by
// producers and tests.
func PublishRecord(publisher message.Publisher, topic string, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("key", record.Key)

	return publisher.Publish(topic, msg)
}
