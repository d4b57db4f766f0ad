package model

import (
	"context"
	"fmt"
	"strings"
)

// Chunk is a token-offset window into a document, used to highlight the
// passages that best match a query.
type Chunk struct {
	DocIndex int
	Start    int
	End      int
}

// ChunkDocuments splits each document's token list into overlapping windows
// of chunkSize tokens, advancing by chunkSize-2*chunkOverlap tokens each
// step, always emitting at least one chunk per non-empty document, so that
// a later score pass (query-chunk dot product via Encode) can find the
// best-matching passage without re-encoding the whole document.
func ChunkDocuments(tokenCounts []int, chunkSize, chunkOverlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = 20
	}
	if chunkOverlap < 0 || chunkOverlap*2 >= chunkSize {
		chunkOverlap = 0
	}
	step := chunkSize - chunkOverlap*2
	if step <= 0 {
		step = chunkSize
	}

	var chunks []Chunk
	for docIdx, n := range tokenCounts {
		if n <= 0 {
			continue
		}
		first := chunkSize
		if first > n {
			first = n
		}
		chunks = append(chunks, Chunk{DocIndex: docIdx, Start: 0, End: first})

		for i := step; i+chunkOverlap < n; i += step {
			end := i + chunkSize
			if end > n {
				end = n
			}
			chunks = append(chunks, Chunk{DocIndex: docIdx, Start: i, End: end})
		}
	}
	return chunks
}

// BestChunk pairs a chunk's word span with its similarity to a query.
type BestChunk struct {
	Chunk
	Score float32
}

// words splits text into the word-level units ChunkDocuments windows over.
// Model's tokenizer is opaque (Encode only accepts whole strings), so
// whitespace word-splitting is the chunking unit this package can see.
func words(text string) []string {
	return strings.Fields(text)
}

// Highlight finds, for each document, the chunkSize-word window (overlapping
// chunkOverlap words on each side) whose re-encoded text best matches query,
// by encoding the query and every candidate chunk in one batch and comparing
// via dot product. Vectors are L2-normalized by the model, so dot product is
// cosine similarity. Returns one BestChunk per document (zero value if the
// document produced no chunks).
func Highlight(ctx context.Context, m Model, query string, documents []string, chunkSize, chunkOverlap int) ([]BestChunk, error) {
	docWords := make([][]string, len(documents))
	tokenCounts := make([]int, len(documents))
	for i, d := range documents {
		docWords[i] = words(d)
		tokenCounts[i] = len(docWords[i])
	}

	chunks := ChunkDocuments(tokenCounts, chunkSize, chunkOverlap)
	best := make([]BestChunk, len(documents))
	if len(chunks) == 0 {
		return best, nil
	}

	texts := make([]string, 0, len(chunks)+1)
	texts = append(texts, query)
	for _, c := range chunks {
		texts = append(texts, strings.Join(docWords[c.DocIndex][c.Start:c.End], " "))
	}

	vectors, err := m.Encode(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("encode query and chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("encode returned %d vectors for %d texts", len(vectors), len(texts))
	}
	queryVec := vectors[0]

	haveBest := make([]bool, len(documents))
	for i, c := range chunks {
		score := dot(queryVec, vectors[i+1])
		if !haveBest[c.DocIndex] || score > best[c.DocIndex].Score {
			best[c.DocIndex] = BestChunk{Chunk: c, Score: score}
			haveBest[c.DocIndex] = true
		}
	}
	return best, nil
}

// Text rehydrates a BestChunk's word span back into a string, given the same
// document text Highlight was called with.
func (b BestChunk) Text(document string) string {
	w := words(document)
	if b.Start >= len(w) || b.End > len(w) || b.Start >= b.End {
		return ""
	}
	return strings.Join(w[b.Start:b.End], " ")
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		if i >= len(b) {
			break
		}
		sum += a[i] * b[i]
	}
	return sum
}
