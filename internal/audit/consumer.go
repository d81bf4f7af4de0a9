// Package audit consumes transaction events from Kafka and hands them to the
// audit index.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/dlq"
	"github.com/chungtau/ledger-payments/internal/event"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Sink interface {
	Index(ctx context.Context, evt event.TransactionEvent, raw []byte) error
}

type DeadLetter interface {
	SendToDeadLetter(ctx context.Context, doc dlq.FailedDocument) error
}

type Consumer struct {
	reader       MessageReader
	sink         Sink
	deadLetter   DeadLetter
	logger       *zap.Logger
	topic        string
	attempts     int
	retryBackoff time.Duration
}

// NewReader joins groupID on topic and consumes messages as soon as they arrive.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func NewConsumer(reader MessageReader, sink Sink, deadLetter DeadLetter, topic string, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:     reader,
		sink:       sink,
		deadLetter: deadLetter,
		logger:     logger,
		topic:      topic,

		attempts:     3,
		retryBackoff: 500 * time.Millisecond,
	}
}

// Run consumes until ctx is cancelled. Offsets are committed only after a
// message was queued for indexing or parked on the dead-letter topic. A
// message that can be neither stops the loop uncommitted, so the group
// redelivers it after a restart.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("audit consumer started", zap.String("topic", c.topic))
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", zap.Error(err))
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("message left uncommitted, stopping",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			return fmt.Errorf("handle offset %d: %w", m.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit offset", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	c.logger.Debug("received event",
		zap.String("key", string(m.Key)),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	)

	var evt event.TransactionEvent
	if err := json.Unmarshal(m.Value, &evt); err != nil || evt.TransactionID == "" {
		reason := "missing transactionId"
		if err != nil {
			reason = err.Error()
		}
		c.logger.Warn("undecodable event", zap.String("key", string(m.Key)), zap.String("reason", reason))
		if c.deadLetter == nil {
			return nil
		}
		return c.park(ctx, m, "decode_error", reason)
	}

	err := c.index(ctx, evt, m.Value)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if c.deadLetter == nil {
		return err
	}
	return c.park(ctx, m, "index_error", err.Error())
}

// index retries the sink with a linear backoff.
func (c *Consumer) index(ctx context.Context, evt event.TransactionEvent, raw []byte) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = c.sink.Index(ctx, evt, raw); err == nil {
			return nil
		}
		c.logger.Warn("index attempt failed",
			zap.String("transaction_id", evt.TransactionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.retryBackoff):
		}
	}
	return err
}

// park moves a message to the dead-letter topic so its offset can be committed.
func (c *Consumer) park(ctx context.Context, m kafka.Message, errorType, reason string) error {
	return c.deadLetter.SendToDeadLetter(ctx, dlq.FailedDocument{
		OriginalDocument: rawOrString(m.Value),
		DocumentID:       fmt.Sprintf("%s-%d-%d", c.topic, m.Partition, m.Offset),
		ErrorType:        errorType,
		ErrorReason:      reason,
		FailedAt:         time.Now().UTC(),
		RetryCount:       c.attempts,
		Source:           c.topic,
	})
}

// rawOrString keeps the payload valid JSON for the dead-letter envelope.
func rawOrString(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
