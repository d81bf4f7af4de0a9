package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestSendToDeadLetter(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, "ledger.audit.dlq", zap.NewNop())

	doc := FailedDocument{
		OriginalDocument: json.RawMessage(`{"transactionId":"tx-1"}`),
		DocumentID:       "tx-1:transaction.created",
		ErrorType:        "mapper_parsing_exception",
		ErrorReason:      "failed to parse field [amount]",
		FailedAt:         time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Source:           "ledger.transactions",
	}
	require.NoError(t, p.SendToDeadLetter(context.Background(), doc))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "tx-1:transaction.created", string(w.msgs[0].Key))

	var got FailedDocument
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, doc.ErrorType, got.ErrorType)
	assert.JSONEq(t, `{"transactionId":"tx-1"}`, string(got.OriginalDocument))
}

func TestSendToDeadLetter_WriteError(t *testing.T) {
	p := newProducer(&recordingWriter{err: errors.New("no leader")}, "ledger.audit.dlq", zap.NewNop())

	err := p.SendToDeadLetter(context.Background(), FailedDocument{DocumentID: "tx-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx-2")
}
