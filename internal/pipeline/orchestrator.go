package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dimfeld/perceive/internal/batch"
	"github.com/dimfeld/perceive/internal/model"
	"github.com/dimfeld/perceive/internal/source"
	"github.com/dimfeld/perceive/internal/store"
)

// scanBufferCapacity backs the scanner's output channel. The scanner
// should rarely wait on the reconciler to keep up, so this buffer is far
// larger than the bounded links downstream.
const scanBufferCapacity = 4096

// Options configures one scan run across a single source.
type Options struct {
	Scanner       source.Scanner
	Store         *store.Store
	Model         model.Model
	SourceID      int64
	IndexVersion  int64
	Strategy      source.CompareStrategy
	ModelID       uint32
	ModelVersion  uint32
	ReaderWorkers int
	// EmbeddingBatch sizes both the embedder's internal flush threshold and
	// the reader->embedder channel capacity.
	EmbeddingBatch int
	// ReconcilerCapacity and WriterCapacity bound the reconciler->readers
	// and embedder->writer channels.
	ReconcilerCapacity int
	WriterCapacity     int
}

// Run wires the five ingestion stages:
//
//	scanner --(4096)--> reconciler --(256)--> readers --(N)--> embedder --(8)--> writer
//
// Stages run concurrently under one errgroup; each stage closes its output
// channel once its own work (and any upstream closes) are done, so shutdown
// cascades writer <- embedder <- readers <- reconciler <- scanner without
// anyone reading from or writing to a closed channel.
func Run(ctx context.Context, opts Options, stats *Stats) error {
	if opts.ReaderWorkers <= 0 {
		opts.ReaderWorkers = DefaultReaderWorkers
	}
	if opts.EmbeddingBatch <= 0 {
		opts.EmbeddingBatch = DefaultEmbeddingBatchSize
	}
	if opts.ReconcilerCapacity <= 0 {
		opts.ReconcilerCapacity = DefaultReconcilerChannelCapacity
	}
	if opts.WriterCapacity <= 0 {
		opts.WriterCapacity = DefaultWriterChannelCapacity
	}

	scanOut := make(chan []source.Item, scanBufferCapacity)
	reconcileOut := make(chan []source.ScanItem, opts.ReconcilerCapacity)
	readOut := make(chan []source.ScanItem, opts.EmbeddingBatch)
	embedOut := make(chan []embeddedItem, opts.WriterCapacity)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(scanOut)
		// Batches are counted as they enter the channel, so progress
		// observers see items the moment the scanner hands them off.
		counting := batch.NewCountingSender[source.Item](ctx, scanOut, &stats.Scanned)
		sender := batch.NewCounting[source.Item](64, counting)
		if err := opts.Scanner.Scan(ctx, sender); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		sender.Drop()
		return nil
	})

	reconciler := NewReconciler(opts.Store, opts.SourceID, opts.Strategy, opts.ModelID, opts.ModelVersion)
	g.Go(func() error {
		defer close(reconcileOut)
		return reconciler.Run(ctx, scanOut, reconcileOut)
	})

	g.Go(func() error {
		defer close(readOut)
		return RunReaders(ctx, opts.Scanner, opts.Strategy, opts.ReaderWorkers, reconcileOut, readOut)
	})

	g.Go(func() error {
		defer close(embedOut)
		return RunEmbedder(ctx, opts.Model, opts.EmbeddingBatch, readOut, embedOut)
	})

	g.Go(func() error {
		return RunWriter(ctx, opts.Store, opts.SourceID, opts.IndexVersion, opts.ModelID, opts.ModelVersion, stats, embedOut)
	})

	return g.Wait()
}
