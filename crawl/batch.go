package crawl

import (
	"context"
	"errors"
	"fmt"

	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/researchaccelerator-hub/catalog-harvester/state"
	"github.com/rs/zerolog/log"
)

// DefaultBatchSize is the number of buffered records that triggers a flush.
const DefaultBatchSize = 50

// ErrPersistence means the record store could not be read or rewritten. It
// stops the run; the buffered records are kept so a later flush can retry.
var ErrPersistence = errors.New("persistence failure")

type pendingRecord struct {
	article model.Article
	replace bool
}

// BatchPersister buffers extracted records and merges them into the record
// store. Every flush reloads the store, applies the buffer in insertion order
// and rewrites the whole table.
type BatchPersister struct {
	store     state.RecordStore
	batchSize int
	buffer    []pendingRecord
	rows      int
	metrics   *Metrics
}

// NewBatchPersister creates a persister flushing every batchSize records.
func NewBatchPersister(store state.RecordStore, batchSize int, metrics *Metrics) *BatchPersister {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchPersister{store: store, batchSize: batchSize, rows: -1, metrics: metrics}
}

// Append buffers a record to be added after the existing rows.
func (b *BatchPersister) Append(a model.Article) {
	b.buffer = append(b.buffer, pendingRecord{article: a})
}

// AppendReplacing buffers a record that overwrites the first stored row with
// the same URL. If no such row exists at flush time it is appended.
func (b *BatchPersister) AppendReplacing(a model.Article) {
	b.buffer = append(b.buffer, pendingRecord{article: a, replace: true})
}

// Buffered returns the number of records waiting to be flushed.
func (b *BatchPersister) Buffered() int {
	return len(b.buffer)
}

// PendingURLs returns the URLs of the buffered records in insertion order.
func (b *BatchPersister) PendingURLs() []string {
	urls := make([]string, 0, len(b.buffer))
	for _, p := range b.buffer {
		urls = append(urls, p.article.URL)
	}
	return urls
}

// Rows returns the stored row count after the last successful flush, or -1
// if nothing has been flushed yet.
func (b *BatchPersister) Rows() int {
	return b.rows
}

// MaybeFlush flushes once the buffer has reached the batch size.
func (b *BatchPersister) MaybeFlush(ctx context.Context) error {
	if len(b.buffer) < b.batchSize {
		return nil
	}
	return b.Flush(ctx)
}

// Flush merges the buffer into the record store. It is a no-op on an empty
// buffer. On failure the store is left as it was and the buffer is kept.
// Cancelling ctx does not abort a flush that has started.
func (b *BatchPersister) Flush(ctx context.Context) error {
	if len(b.buffer) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	table, err := b.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load records: %v", ErrPersistence, err)
	}

	replaced := 0
	for _, p := range b.buffer {
		if p.replace {
			if i := table.IndexOf(p.article.URL); i >= 0 {
				table.Replace(i, p.article)
				replaced++
				continue
			}
		}
		table.Append(p.article)
	}

	if err := b.store.Save(ctx, table); err != nil {
		return fmt.Errorf("%w: save records: %v", ErrPersistence, err)
	}

	log.Info().
		Int("batch", len(b.buffer)).
		Int("replaced", replaced).
		Int("rows", table.Len()).
		Msg("Flushed records")
	b.metrics.flushed(len(b.buffer))
	b.rows = table.Len()
	b.buffer = nil
	return nil
}
