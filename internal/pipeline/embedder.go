package pipeline

import (
	"context"
	"fmt"

	"github.com/dimfeld/perceive/internal/model"
	"github.com/dimfeld/perceive/internal/source"
)

// RunEmbedder buffers items whose final state is New or Changed and whose
// Skipped is absent, up to batchSize (or until in closes), composes a
// document per item, and calls model.Encode once per buffered group. The
// model is a single-owner resource: no concurrent Encode calls happen
// because this is the only goroutine driving it.
func RunEmbedder(ctx context.Context, m model.Model, batchSize int, in <-chan []source.ScanItem, out chan<- []embeddedItem) error {
	if batchSize <= 0 {
		batchSize = DefaultEmbeddingBatchSize
	}

	var buffer []embeddedItem
	var documents []string
	var pending []int // indices into buffer needing a real embedding

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if len(pending) > 0 {
			docs := make([]string, len(pending))
			for i, idx := range pending {
				docs[i] = documents[idx]
			}
			vectors, err := m.Encode(ctx, docs)
			if err != nil {
				return fmt.Errorf("encode batch: %w", err)
			}
			for i, idx := range pending {
				buffer[idx].embedding = vectors[i]
			}
		}
		select {
		case out <- buffer:
		case <-ctx.Done():
			return ctx.Err()
		}
		buffer = nil
		documents = nil
		pending = nil
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-in:
			if !ok {
				return flush()
			}
			for _, si := range batch {
				idx := len(buffer)
				buffer = append(buffer, embeddedItem{item: si})

				var doc string
				if needsEmbedding(si) {
					doc = model.BuildDocument(si.Item.Metadata.Name, si.Item.Metadata.Description, si.Item.Content)
				}
				documents = append(documents, doc)
				if doc != "" {
					pending = append(pending, idx)
				}

				if len(buffer) >= batchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
	}
}

func needsEmbedding(si source.ScanItem) bool {
	if si.Item.Skipped != nil {
		return false
	}
	return si.State == source.StateNew || si.State == source.StateChanged
}
