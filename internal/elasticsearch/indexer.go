// Package elasticsearch keeps a searchable audit trail of transaction events.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/dlq"
	"github.com/chungtau/ledger-payments/internal/event"
)

// DeadLetter receives documents the cluster rejected.
type DeadLetter interface {
	SendToDeadLetter(ctx context.Context, doc dlq.FailedDocument) error
}

type Config struct {
	URL           string
	Index         string
	Source        string
	DeadLetter    DeadLetter
	Logger        *zap.Logger
	FlushInterval time.Duration
}

// Indexer writes one audit document per event through a bulk indexer.
type Indexer struct {
	es         *elasticsearch.Client
	bulk       esutil.BulkIndexer
	index      string
	source     string
	deadLetter DeadLetter
	logger     *zap.Logger
	now        func() time.Time
}

// AuditDocument is an event plus the fields only the index needs.
type AuditDocument struct {
	event.TransactionEvent
	AmountValue float64   `json:"amountValue"`
	IndexedAt   time.Time `json:"indexedAt"`
}

const indexMapping = `{
	"settings": {
		"number_of_shards": 1,
		"number_of_replicas": 0,
		"index": {
			"refresh_interval": "1s"
		}
	},
	"mappings": {
		"properties": {
			"type": { "type": "keyword" },
			"transactionId": { "type": "keyword" },
			"kind": { "type": "keyword" },
			"ownerClientId": { "type": "keyword" },
			"senderAccountRef": { "type": "keyword" },
			"receiverAccountRef": { "type": "keyword" },
			"paymentCode": { "type": "keyword" },
			"amount": { "type": "keyword" },
			"amountValue": { "type": "scaled_float", "scaling_factor": 10000 },
			"currency": { "type": "keyword" },
			"state": { "type": "keyword" },
			"failureCode": { "type": "keyword" },
			"occurredAt": { "type": "date", "format": "strict_date_optional_time||epoch_millis" },
			"indexedAt": { "type": "date" }
		}
	}
}`

// NewIndexer connects, makes sure the index exists and starts the bulk workers.
func NewIndexer(cfg Config) (*Indexer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 5 * time.Second
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    3,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("connect to elasticsearch: %w", err)
	}
	res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info: %s", res.Status())
	}

	ix := &Indexer{
		es:         es,
		index:      cfg.Index,
		source:     cfg.Source,
		deadLetter: cfg.DeadLetter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if err := ix.ensureIndex(); err != nil {
		return nil, err
	}

	ix.bulk, err = esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        es,
		Index:         cfg.Index,
		NumWorkers:    2,
		FlushBytes:    5e+6,
		FlushInterval: flush,
		OnError: func(ctx context.Context, err error) {
			logger.Error("bulk indexer error", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bulk indexer: %w", err)
	}

	logger.Info("audit indexer ready", zap.String("index", cfg.Index))
	return ix, nil
}

func (ix *Indexer) ensureIndex() error {
	res, err := ix.es.Indices.Exists([]string{ix.index})
	if err != nil {
		return fmt.Errorf("check index %s: %w", ix.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = ix.es.Indices.Create(ix.index, ix.es.Indices.Create.WithBody(strings.NewReader(indexMapping)))
	if err != nil {
		return fmt.Errorf("create index %s: %w", ix.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", ix.index, res.Status())
	}
	ix.logger.Info("created audit index", zap.String("index", ix.index))
	return nil
}

// Publish implements event.Publisher.
func (ix *Indexer) Publish(ctx context.Context, evt event.TransactionEvent) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return ix.Index(ctx, evt, raw)
}

// Index queues evt. raw is what gets dead-lettered if the cluster rejects it.
func (ix *Indexer) Index(ctx context.Context, evt event.TransactionEvent, raw []byte) error {
	doc := AuditDocument{TransactionEvent: evt, IndexedAt: ix.now()}
	if amount, err := decimal.NewFromString(evt.Amount); err == nil {
		doc.AmountValue = amount.InexactFloat64()
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal audit document: %w", err)
	}

	// one document per lifecycle step, so replays overwrite instead of duplicating
	docID := evt.TransactionID + ":" + string(evt.Type)

	err = ix.bulk.Add(ctx, esutil.BulkIndexerItem{
		Action:     "index",
		DocumentID: docID,
		Body:       bytes.NewReader(body),
		OnSuccess: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem) {
			ix.logger.Debug("audit document indexed", zap.String("document_id", docID))
		},
		OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			ix.onFailure(docID, raw, res, err)
		},
	})
	if err != nil {
		return fmt.Errorf("queue audit document %s: %w", docID, err)
	}
	return nil
}

func (ix *Indexer) onFailure(docID string, raw []byte, res esutil.BulkIndexerResponseItem, err error) {
	errorType, errorReason := "client_error", ""
	if err != nil {
		errorReason = err.Error()
	} else {
		errorType = res.Error.Type
		errorReason = res.Error.Reason
	}
	ix.logger.Error("failed to index audit document",
		zap.String("document_id", docID),
		zap.String("error_type", errorType),
		zap.String("error_reason", errorReason),
	)

	if ix.deadLetter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	doc := dlq.FailedDocument{
		OriginalDocument: raw,
		DocumentID:       docID,
		ErrorType:        errorType,
		ErrorReason:      errorReason,
		FailedAt:         ix.now(),
		Source:           ix.source,
	}
	if dlqErr := ix.deadLetter.SendToDeadLetter(ctx, doc); dlqErr != nil {
		ix.logger.Error("dead-letter write failed", zap.String("document_id", docID), zap.Error(dlqErr))
	}
}

func (ix *Indexer) Stats() esutil.BulkIndexerStats {
	return ix.bulk.Stats()
}

// Close flushes whatever is queued.
func (ix *Indexer) Close(ctx context.Context) error {
	if ix.bulk == nil {
		return nil
	}
	if err := ix.bulk.Close(ctx); err != nil {
		return fmt.Errorf("close bulk indexer: %w", err)
	}
	stats := ix.bulk.Stats()
	ix.logger.Info("bulk indexer closed",
		zap.Uint64("flushed", stats.NumFlushed),
		zap.Uint64("failed", stats.NumFailed),
	)
	return nil
}
