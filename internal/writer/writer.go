// Package writer coalesces many small record writes into periodic bulk
// writes to the storage engine.
package writer

import (
	"context"
	"sync"
	"time"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/log"
	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/metrics"
)

// BulkSink receives batched records for one tenant. The time-series
// storage engine sits behind this interface.
type BulkSink interface {
	WriteBatch(ctx context.Context, tenantID string, records [][]byte) error
}

// retryBackoff separates flush attempts against a struggling sink.
const retryBackoff = 500 * time.Millisecond

// Batcher buffers encoded records per tenant and flushes each buffer when
// it reaches the batch size or the flush interval elapses, whichever
// comes first. Add is safe for concurrent use by many ingest workers.
//
// A failed flush is retried up to the configured attempt budget; after
// that the batch is dropped and logged in full. This is the only place
// the pipeline can permanently lose data.
type Batcher struct {
	sink          BulkSink
	batchSize     int
	flushInterval time.Duration
	maxRetries    int
	metrics       *metrics.Metrics
	log           *log.Logger

	mu      sync.Mutex
	buffers map[string][][]byte
	kick    chan struct{}
}

// NewBatcher creates a batching writer over the sink.
func NewBatcher(cfg *config.WriterConfig, sink BulkSink, m *metrics.Metrics, logger *log.Logger) *Batcher {
	return &Batcher{
		sink:          sink,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		maxRetries:    cfg.MaxRetries,
		metrics:       m,
		log:           logger,
		buffers:       make(map[string][][]byte),
		kick:          make(chan struct{}, 1),
	}
}

// Add appends a record to the tenant's buffer. A full buffer wakes the
// flush loop immediately.
func (b *Batcher) Add(tenantID string, record []byte) {
	b.mu.Lock()
	b.buffers[tenantID] = append(b.buffers[tenantID], record)
	full := len(b.buffers[tenantID]) >= b.batchSize
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Run flushes on the interval and on demand until the context is
// canceled. It does not perform the final flush: ingest workers keep
// adding records while they settle their in-flight batch after cancel,
// so the owner must call Close once every producer has stopped.
func (b *Batcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.flushAll(ctx)
		case <-b.kick:
			b.flushFull(ctx)
		}
	}
}

// Close flushes everything still buffered. Call it after every producer
// has stopped adding records; a record added afterwards is not covered.
func (b *Batcher) Close() {
	b.flushAll(context.Background())
}

// Buffered reports the total number of buffered records.
func (b *Batcher) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, records := range b.buffers {
		n += len(records)
	}
	return n
}

// flushAll drains every tenant buffer.
func (b *Batcher) flushAll(ctx context.Context) {
	for tenantID, records := range b.take(false) {
		b.flushBatch(ctx, tenantID, records)
	}
}

// flushFull drains only buffers at or above the batch size.
func (b *Batcher) flushFull(ctx context.Context) {
	for tenantID, records := range b.take(true) {
		b.flushBatch(ctx, tenantID, records)
	}
}

func (b *Batcher) take(onlyFull bool) map[string][][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	taken := make(map[string][][]byte)
	for tenantID, records := range b.buffers {
		if len(records) == 0 || (onlyFull && len(records) < b.batchSize) {
			continue
		}
		taken[tenantID] = records
		delete(b.buffers, tenantID)
	}
	return taken
}

// flushBatch writes one tenant batch, retrying up to the attempt budget.
// Exhausting the budget drops the batch: the loss is logged record by
// record for forensic recovery.
func (b *Batcher) flushBatch(ctx context.Context, tenantID string, records [][]byte) {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		err := b.sink.WriteBatch(ctx, tenantID, records)
		if err == nil {
			b.metrics.WriterFlushes.Inc()
			b.log.Debug("Flushed %d records for tenant %s", len(records), tenantID)
			return
		}
		lastErr = err
		b.metrics.WriterFlushFailures.Inc()
		b.log.Warn("Flush attempt %d/%d for tenant %s failed: %v", attempt, b.maxRetries, tenantID, err)

		if attempt < b.maxRetries {
			select {
			case <-ctx.Done():
				// Shutdown while retrying: keep going, the remaining
				// attempts are the batch's last chance.
			case <-time.After(retryBackoff):
			}
		}
	}

	b.metrics.WriterDataLoss.Add(float64(len(records)))
	b.log.Error("DATA LOSS: dropping %d records for tenant %s after %d flush attempts: %v",
		len(records), tenantID, b.maxRetries, lastErr)
	for _, r := range records {
		b.log.Error("DATA LOSS record tenant=%s: %s", tenantID, r)
	}
}
