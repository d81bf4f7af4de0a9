// Package dlq parks audit documents that Elasticsearch rejected on a Kafka
// dead-letter topic so they can be replayed.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// FailedDocument is one rejected audit document.
type FailedDocument struct {
	OriginalDocument json.RawMessage `json:"originalDocument"`
	DocumentID       string          `json:"documentId"`
	ErrorType        string          `json:"errorType"`
	ErrorReason      string          `json:"errorReason"`
	FailedAt         time.Time       `json:"failedAt"`
	RetryCount       int             `json:"retryCount"`
	Source           string          `json:"source"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	logger.Info("dead-letter producer initialized", zap.String("topic", topic))
	return newProducer(writer, topic, logger)
}

func newProducer(w messageWriter, topic string, logger *zap.Logger) *Producer {
	return &Producer{writer: w, topic: topic, logger: logger}
}

// SendToDeadLetter keys by document id so retries of one document stay ordered.
func (p *Producer) SendToDeadLetter(ctx context.Context, doc FailedDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal failed document: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(doc.DocumentID),
		Value: payload,
	})
	if err != nil {
		p.logger.Error("failed to send document to dead-letter topic",
			zap.String("document_id", doc.DocumentID),
			zap.Error(err),
		)
		return fmt.Errorf("write dead letter %s: %w", doc.DocumentID, err)
	}

	p.logger.Info("document sent to dead-letter topic",
		zap.String("document_id", doc.DocumentID),
		zap.String("topic", p.topic),
	)
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
