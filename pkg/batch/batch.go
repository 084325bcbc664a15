// Package batch provides client-side buffering for high-throughput inserts:
// accumulate rows locally, then flush them as one batch insert that
// acquires the database's lock once instead of once per row.
package batch

import (
	"fmt"
	"sync"

	"github.com/mars/mars/pkg/schema"
)

// RowEntry is one buffered row awaiting insertion: a vector plus whatever
// named metadata columns accompany it.
type RowEntry struct {
	Vector   []float32
	Metadata map[string]schema.Value
}

// RowBatch accumulates RowEntry values for later bulk insertion.
type RowBatch struct {
	rows    []RowEntry
	mu      sync.Mutex
	maxSize int
}

// NewRowBatch creates a new row batch. maxSize <= 0 defaults to 1000.
func NewRowBatch(maxSize int) *RowBatch {
	if maxSize <= 0 {
		maxSize = 1000
	}

	return &RowBatch{
		rows:    make([]RowEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add adds one entry to the batch.
func (b *RowBatch) Add(entry RowEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, entry)
}

// AddBulk adds multiple entries to the batch.
func (b *RowBatch) AddBulk(entries []RowEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, entries...)
}

// Size returns the current batch size.
func (b *RowBatch) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// IsFull reports whether the batch has reached its configured max size.
func (b *RowBatch) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows) >= b.maxSize
}

// Flush returns and clears the batch. Returns nil if the batch is empty.
func (b *RowBatch) Flush() []RowEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.rows) == 0 {
		return nil
	}

	result := make([]RowEntry, len(b.rows))
	copy(result, b.rows)
	b.rows = b.rows[:0]

	return result
}

// FlushFunc inserts a flushed batch of entries into a table, typically via
// Database.InsertBatchDirect or Connection.InsertBatchDirect.
type FlushFunc func(entries []RowEntry) error

// Processor wraps a RowBatch with an optional auto-flush policy and the
// callback that actually performs the bulk insert.
type Processor struct {
	batch     *RowBatch
	flush     FlushFunc
	autoFlush bool
	mu        sync.Mutex
}

// NewProcessor creates a processor for one table's insert stream. When
// autoFlush is true, Add triggers Flush as soon as the batch fills.
func NewProcessor(maxSize int, autoFlush bool, flush FlushFunc) *Processor {
	return &Processor{
		batch:     NewRowBatch(maxSize),
		flush:     flush,
		autoFlush: autoFlush,
	}
}

// Add buffers one entry, flushing automatically if the batch is now full
// and autoFlush is enabled.
func (p *Processor) Add(entry RowEntry) error {
	p.batch.Add(entry)

	if p.autoFlush && p.batch.IsFull() {
		return p.Flush()
	}
	return nil
}

// AddBulk buffers multiple entries, flushing automatically under the same
// rule as Add.
func (p *Processor) AddBulk(entries []RowEntry) error {
	p.batch.AddBulk(entries)

	if p.autoFlush && p.batch.IsFull() {
		return p.Flush()
	}
	return nil
}

// Flush drains the buffered batch and runs the flush callback against it.
// A no-op if the batch is currently empty.
func (p *Processor) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.batch.Flush()
	if len(entries) == 0 {
		return nil
	}
	if p.flush == nil {
		return fmt.Errorf("batch: processor has no flush callback")
	}
	return p.flush(entries)
}

// Stats reports the processor's current buffered size.
type Stats struct {
	BatchSize int
}

// Stats returns the processor's current buffer stats.
func (p *Processor) Stats() Stats {
	return Stats{BatchSize: p.batch.Size()}
}
