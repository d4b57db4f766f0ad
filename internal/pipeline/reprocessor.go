package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dimfeld/perceive/internal/model"
	"github.com/dimfeld/perceive/internal/source"
	"github.com/dimfeld/perceive/internal/store"
)

// reprocessPageSize bounds how many candidate rows are paged in from the
// store at once, independent of the embedding batch size.
const reprocessPageSize = 256

// reprocessLookup is the subset of *store.Store the reprocessor needs.
type reprocessLookup interface {
	ItemsNeedingReprocess(ctx context.Context, sourceID int64, latest int, limit, afterID int64) ([]store.ReprocessCandidate, error)
}

// ReprocessOptions configures one reprocess run over a single source.
type ReprocessOptions struct {
	Scanner        source.Scanner
	Store          *store.Store
	Model          model.Model
	SourceID       int64
	IndexVersion   int64
	ModelID        uint32
	ModelVersion   uint32
	Workers        int
	EmbeddingBatch int
}

// Reprocess re-derives content from stored raw bytes for every item in a
// source whose process_version is behind the scanner's current one. It
// reuses the scan pipeline's Embedder and Writer stages unchanged; only
// the producer side (paging candidates and calling Scanner.Reprocess
// instead of Scan+Read) differs.
func Reprocess(ctx context.Context, opts ReprocessOptions) error {
	if opts.Workers <= 0 {
		opts.Workers = DefaultReaderWorkers
	}
	if opts.EmbeddingBatch <= 0 {
		opts.EmbeddingBatch = DefaultEmbeddingBatchSize
	}

	readOut := make(chan []source.ScanItem, opts.EmbeddingBatch)
	embedOut := make(chan []embeddedItem, DefaultWriterChannelCapacity)

	g, ctx := errgroup.WithContext(ctx)

	candidates := make(chan store.ReprocessCandidate, reprocessPageSize)
	g.Go(func() error {
		defer close(candidates)
		return pageReprocessCandidates(ctx, opts.Store, opts.SourceID, opts.Scanner.LatestProcessVersion(), candidates)
	})

	g.Go(func() error {
		defer close(readOut)
		return runReprocessWorkers(ctx, opts.Scanner, opts.Workers, candidates, readOut)
	})

	g.Go(func() error {
		defer close(embedOut)
		return RunEmbedder(ctx, opts.Model, opts.EmbeddingBatch, readOut, embedOut)
	})

	stats := &Stats{}
	g.Go(func() error {
		return RunWriter(ctx, opts.Store, opts.SourceID, opts.IndexVersion, opts.ModelID, opts.ModelVersion, stats, embedOut)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("reprocess source %d: %w", opts.SourceID, err)
	}
	return nil
}

func pageReprocessCandidates(ctx context.Context, st reprocessLookup, sourceID int64, latest int, out chan<- store.ReprocessCandidate) error {
	var afterID int64
	for {
		page, err := st.ItemsNeedingReprocess(ctx, sourceID, latest, reprocessPageSize, afterID)
		if err != nil {
			return fmt.Errorf("list reprocess candidates: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		for _, c := range page {
			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
			afterID = c.ID
		}
	}
}

func runReprocessWorkers(ctx context.Context, scanner source.Scanner, workers int, in <-chan store.ReprocessCandidate, out chan<- []source.ScanItem) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case c, ok := <-in:
					if !ok {
						return nil
					}
					si, ok := reprocessOne(ctx, scanner, c)
					if !ok {
						continue
					}
					select {
					case out <- []source.ScanItem{si}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}
	return g.Wait()
}

func reprocessOne(ctx context.Context, scanner source.Scanner, c store.ReprocessCandidate) (source.ScanItem, bool) {
	item := source.Item{
		ID:         c.ID,
		ExternalID: c.ExternalID,
		RawContent: c.RawContent,
		Content:    c.Content,
		Hash:       c.Hash,
	}
	item.Metadata.Name = c.Name.String
	item.Metadata.Author = c.Author.String
	item.Metadata.Description = c.Description.String
	if c.Modified.Valid {
		t := time.Unix(c.Modified.Int64, 0).UTC()
		item.Metadata.MTime = &t
	}
	if c.LastAccessed.Valid {
		t := time.Unix(c.LastAccessed.Int64, 0).UTC()
		item.Metadata.ATime = &t
	}

	result, err := scanner.Reprocess(ctx, &item)
	if err != nil {
		log.Printf("reprocessor: reprocess %s: %v", c.ExternalID, err)
		return source.ScanItem{}, false
	}
	switch result {
	case source.ReadFound:
		return source.ScanItem{Item: item, State: source.StateChanged}, true
	default:
		// Unchanged or Omit: nothing new to embed or write.
		return source.ScanItem{}, false
	}
}
