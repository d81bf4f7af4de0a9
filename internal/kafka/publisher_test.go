package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/event"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	calls  int
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() event.TransactionEvent {
	return event.TransactionEvent{
		Type:          event.TypeCompleted,
		TransactionID: "tx-1",
		Kind:          "TRANSFER",
		Amount:        "10",
		Currency:      "RSD",
		State:         "COMPLETED",
		OccurredAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPublisher_WritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, "ledger.transactions", zap.NewNop(), DefaultBreakerSettings)

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	assert.NoError(t, p.Ping(context.Background()))

	msg := w.msgs[0]
	assert.Equal(t, "tx-1", string(msg.Key))
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, "transaction.completed", string(msg.Headers[0].Value))

	var decoded event.TransactionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, sampleEvent(), decoded)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_BreakerOpensAfterFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewPublisher(w, "ledger.transactions", zap.NewNop(), BreakerSettings{
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
	})

	for i := 0; i < 2; i++ {
		err := p.Publish(context.Background(), sampleEvent())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, "open", p.State())
	assert.ErrorIs(t, p.Ping(context.Background()), ErrUnavailable)

	err := p.Publish(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, w.calls, "open breaker must not reach the writer")
}
