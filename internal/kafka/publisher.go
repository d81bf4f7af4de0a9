// Package kafka publishes transaction lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/event"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("kafka publisher unavailable")

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per event, keyed by transaction id so every
// event of a transaction lands on the same partition.
type Publisher struct {
	writer  MessageWriter
	topic   string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	timeout time.Duration
}

// BreakerSettings controls when the publisher stops calling the brokers.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

var DefaultBreakerSettings = BreakerSettings{
	ConsecutiveFailures: 5,
	OpenTimeout:         30 * time.Second,
}

// NewWriter builds a synchronous writer with RequireOne acks.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

func NewPublisher(writer MessageWriter, topic string, logger *zap.Logger, settings BreakerSettings) *Publisher {
	p := &Publisher{
		writer:  writer,
		topic:   topic,
		logger:  logger,
		timeout: 5 * time.Second,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka:" + topic,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return p
}

func (p *Publisher) Publish(ctx context.Context, evt event.TransactionEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.TransactionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
		Time: evt.OccurredAt,
	}

	// the workflow has already committed; a slow broker must not hold the caller
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(writeCtx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("write event %s to %s: %w", evt.TransactionID, p.topic, err)
	}

	p.logger.Debug("event published",
		zap.String("transaction_id", evt.TransactionID),
		zap.String("type", string(evt.Type)),
		zap.String("topic", p.topic),
	)
	return nil
}

func (p *Publisher) State() string {
	return p.breaker.State().String()
}

// Ping fails while the breaker is open. Half-open counts as reachable since
// the next publish is the trial request.
func (p *Publisher) Ping(context.Context) error {
	if p.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w: breaker %s is open", ErrUnavailable, p.breaker.Name())
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
