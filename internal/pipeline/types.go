// Package pipeline implements the ingestion pipeline stages: Reconciler,
// Reader, Embedder, Writer, their orchestration, and the Reprocessor.
package pipeline

import (
	"sync/atomic"

	"github.com/dimfeld/perceive/internal/source"
)

const (
	DefaultEmbeddingBatchSize        = 64
	DefaultReaderWorkers             = 8
	DefaultReconcilerChannelCapacity = 256
	DefaultWriterChannelCapacity     = 8
)

// embeddedItem is a ScanItem paired with its computed embedding (absent
// when the item had no usable document), flowing from Embedder to Writer.
type embeddedItem struct {
	item      source.ScanItem
	embedding []float32
}

// Stats accumulates the writer's added/changed/unchanged counters, plus a
// Scanned counter the counting channel bumps as scanner batches are sent,
// which backs the live progress bar in cmd/perceive.
type Stats struct {
	Added     atomic.Int64
	Changed   atomic.Int64
	Unchanged atomic.Int64
	Scanned   atomic.Int64
}
