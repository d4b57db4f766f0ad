package pipeline

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/dimfeld/perceive/internal/source"
)

// RunReaders fans the reconciler's output out across workers readers, each
// running the scanner's Read for items that aren't already Unchanged.
// Output preserves per-batch grouping but not input order across workers,
// which is acceptable because downstream stages key on id.
func RunReaders(ctx context.Context, scanner source.Scanner, strategy source.CompareStrategy, workers int, in <-chan []source.ScanItem, out chan<- []source.ScanItem) error {
	if workers <= 0 {
		workers = DefaultReaderWorkers
	}

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			return readerLoop(ctx, scanner, strategy, in, out)
		})
	}
	return g.Wait()
}

func readerLoop(ctx context.Context, scanner source.Scanner, strategy source.CompareStrategy, in <-chan []source.ScanItem, out chan<- []source.ScanItem) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-in:
			if !ok {
				return nil
			}
			processed := processReaderBatch(ctx, scanner, strategy, batch)
			if len(processed) == 0 {
				continue
			}
			select {
			case out <- processed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func processReaderBatch(ctx context.Context, scanner source.Scanner, strategy source.CompareStrategy, batch []source.ScanItem) []source.ScanItem {
	out := make([]source.ScanItem, 0, len(batch))
	for _, si := range batch {
		if si.State == source.StateUnchanged {
			out = append(out, si)
			continue
		}

		result, err := scanner.Read(ctx, si.Existing, strategy, &si.Item)
		if err != nil {
			log.Printf("reader: read %s: %v", si.Item.ExternalID, err)
			continue
		}

		switch result {
		case source.ReadOmit:
			continue
		case source.ReadUnchanged:
			if si.State == source.StateNew {
				// A new item the scanner decided to ignore never existed as
				// far as the store is concerned.
				continue
			}
			si.State = source.StateUnchanged
		case source.ReadFound:
			if si.State == source.StateFound && strategy.ShouldCompareContent() && si.Existing != nil {
				if si.Item.Content != si.Existing.Content {
					si.State = source.StateChanged
				} else {
					si.State = source.StateUnchanged
				}
			}
			// Otherwise keep the reconciler's classification (New/Found/Changed).
		}
		out = append(out, si)
	}
	return out
}
