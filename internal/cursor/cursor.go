// Package cursor tracks pagination state and fetches pages with a bounded
// timeout and a single reconnect-and-retry.
package cursor

import (
	"github.com/raphaelgruber/docjobs/internal/docstore"
)

// Cursor is the pagination state of one job.
//
// Pages are always requested with BatchSize. When the capability provider
// limits how many inputs it accepts per call, EffectiveBatchSize is smaller and
// a page is processed in chunks of that size, but Offset still moves by
// BatchSize per page.
type Cursor struct {
	Offset             int
	BatchIndex         int
	BatchSize          int
	EffectiveBatchSize int
	MaxBatches         int // 0 means no ceiling
	DocumentsSeen      int
	DocumentsSkipped   int
}

// New creates a cursor at offset zero. capacity is the provider's maximum
// inputs per call, or 0 when it has none.
func New(batchSize, capacity, maxBatches int) *Cursor {
	effective := batchSize
	if capacity > 0 && capacity < batchSize {
		effective = capacity
	}
	return &Cursor{
		BatchSize:          batchSize,
		EffectiveBatchSize: effective,
		MaxBatches:         maxBatches,
	}
}

// LimitReached reports whether the batch ceiling has been hit.
func (c *Cursor) LimitReached() bool {
	return c.MaxBatches > 0 && c.BatchIndex >= c.MaxBatches
}

// Chunks splits a page into sub-batches of EffectiveBatchSize.
func (c *Cursor) Chunks(docs []docstore.Document) [][]docstore.Document {
	size := c.EffectiveBatchSize
	if size <= 0 || size >= len(docs) {
		if len(docs) == 0 {
			return nil
		}
		return [][]docstore.Document{docs}
	}

	chunks := make([][]docstore.Document, 0, (len(docs)+size-1)/size)
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		chunks = append(chunks, docs[start:end])
	}
	return chunks
}

// Advance moves past a page whose results have been persisted.
func (c *Cursor) Advance(skipped int) {
	c.Offset += c.BatchSize
	c.BatchIndex++
	c.DocumentsSkipped += skipped
}

// ShortPage reports whether a page of pageLen documents was the last one.
func (c *Cursor) ShortPage(pageLen int) bool {
	return pageLen < c.BatchSize
}

func (c *Cursor) observe(n int) {
	c.DocumentsSeen += n
}
