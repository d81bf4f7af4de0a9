package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/dlq"
	"github.com/chungtau/ledger-payments/internal/event"
)

// scriptedReader hands out msgs in order, then cancels the run.
type scriptedReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

type sinkFunc func(evt event.TransactionEvent) error

func (f sinkFunc) Index(_ context.Context, evt event.TransactionEvent, _ []byte) error {
	return f(evt)
}

type deadLetters struct {
	docs []dlq.FailedDocument
	err  error
}

func (d *deadLetters) SendToDeadLetter(_ context.Context, doc dlq.FailedDocument) error {
	if d.err != nil {
		return d.err
	}
	d.docs = append(d.docs, doc)
	return nil
}

func newTestConsumer(reader MessageReader, sink Sink, dl DeadLetter) *Consumer {
	c := NewConsumer(reader, sink, dl, "ledger.transactions", zap.NewNop())
	c.retryBackoff = 0
	return c
}

func message(t *testing.T, offset int64, evt event.TransactionEvent) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(evt.TransactionID), Value: payload, Offset: offset}
}

func TestConsumer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
		message(t, 1, event.TransactionEvent{Type: event.TypeCreated, TransactionID: "tx-1"}),
		{Offset: 2, Value: []byte("not json")},
		message(t, 3, event.TransactionEvent{Type: event.TypeCompleted, TransactionID: "tx-flaky"}),
		message(t, 4, event.TransactionEvent{Type: event.TypeCompleted, TransactionID: "tx-1"}),
	}}

	var indexed []string
	flaky := 0
	sink := sinkFunc(func(evt event.TransactionEvent) error {
		if evt.TransactionID == "tx-flaky" && flaky < 2 {
			flaky++
			return errors.New("bulk indexer busy")
		}
		indexed = append(indexed, evt.TransactionID+":"+string(evt.Type))
		return nil
	})
	dl := &deadLetters{}

	c := newTestConsumer(reader, sink, dl)
	require.NoError(t, c.Run(ctx))

	assert.Equal(t, []string{
		"tx-1:transaction.created",
		"tx-flaky:transaction.completed",
		"tx-1:transaction.completed",
	}, indexed)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)

	require.Len(t, dl.docs, 1)
	assert.Equal(t, "decode_error", dl.docs[0].ErrorType)
	assert.Equal(t, "ledger.transactions-0-2", dl.docs[0].DocumentID)
	assert.JSONEq(t, `"not json"`, string(dl.docs[0].OriginalDocument))
}

func TestConsumer_IndexFailureIsDeadLettered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
		message(t, 3, event.TransactionEvent{Type: event.TypeCompleted, TransactionID: "tx-broken"}),
		message(t, 4, event.TransactionEvent{Type: event.TypeCompleted, TransactionID: "tx-1"}),
	}}

	calls := 0
	sink := sinkFunc(func(evt event.TransactionEvent) error {
		if evt.TransactionID == "tx-broken" {
			calls++
			return errors.New("indexer closed")
		}
		return nil
	})
	dl := &deadLetters{}

	c := newTestConsumer(reader, sink, dl)
	require.NoError(t, c.Run(ctx))

	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{3, 4}, reader.committed)
	require.Len(t, dl.docs, 1)
	assert.Equal(t, "index_error", dl.docs[0].ErrorType)
	assert.Equal(t, "indexer closed", dl.docs[0].ErrorReason)
	assert.Equal(t, "ledger.transactions-0-3", dl.docs[0].DocumentID)
	assert.Equal(t, 3, dl.docs[0].RetryCount)
}

func TestConsumer_StopsUncommittedWhenNothingCanTakeTheEvent(t *testing.T) {
	tests := []struct {
		name string
		dl   DeadLetter
	}{
		{name: "dead-letter topic down", dl: &deadLetters{err: errors.New("broker unreachable")}},
		{name: "no dead-letter topic", dl: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			reader := &scriptedReader{cancel: cancel, msgs: []kafka.Message{
				message(t, 1, event.TransactionEvent{Type: event.TypeCreated, TransactionID: "tx-1"}),
				message(t, 3, event.TransactionEvent{Type: event.TypeCompleted, TransactionID: "tx-broken"}),
				message(t, 4, event.TransactionEvent{Type: event.TypeCompleted, TransactionID: "tx-1"}),
			}}
			sink := sinkFunc(func(evt event.TransactionEvent) error {
				if evt.TransactionID == "tx-broken" {
					return errors.New("indexer closed")
				}
				return nil
			})

			c := newTestConsumer(reader, sink, tt.dl)
			err := c.Run(ctx)

			require.Error(t, err)
			assert.Contains(t, err.Error(), "offset 3")
			assert.Equal(t, []int64{1}, reader.committed)
		})
	}
}
