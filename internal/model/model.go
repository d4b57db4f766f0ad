// Package model defines the embedding model identity, the document
// composition rules the embedder uses to turn an item into text, and the
// optional highlight/chunking helper.
package model

import (
	"context"
	"math"
	"strings"
)

// ID is a stable enumeration of supported embedding models. Values are
// persisted on disk as part of every embedding row; additions must append,
// never renumber.
type ID uint32

const (
	AllMiniLmL6V2                  ID = 0
	AllMiniLmL12V2                 ID = 1
	DistiluseBaseMultilingualCased ID = 2
	AllDistilrobertaV1             ID = 3
	ParaphraseAlbertSmallV2        ID = 4
	MsMarcoDistilbertDotV5         ID = 5
	MsMarcoDistilbertBaseTasB      ID = 6
	MsMarcoBertBaseDotV5           ID = 7
)

// Identity pins a model's on-disk meaning: the model enum value plus a
// version number for that model's weights/tokenizer, bumped whenever the
// model is retrained in a way that invalidates existing embeddings.
type Identity struct {
	ModelID ID
	Version uint32
}

// Model is the opaque embedding service: encode(texts) -> matrix. A single
// Model is owned by exactly one caller at a time (the embedder during a
// scan, or the search path via a reference-counted handle); no concurrent
// Encode calls.
type Model interface {
	Identity() Identity
	// Encode returns one vector per input text, in order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// BuildDocument composes the text an item contributes to the embedder: if
// name or description is present, join [name, description, content] with
// newlines after dropping blanks; otherwise fall back to trimmed content.
// Returns "" when there is no usable document.
func BuildDocument(name, description, content string) string {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	trimmedContent := strings.TrimSpace(content)

	if name != "" || description != "" {
		parts := make([]string, 0, 3)
		for _, p := range []string{name, description, trimmedContent} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			return ""
		}
		return strings.Join(parts, "\n")
	}
	return trimmedContent
}

// SerializeEmbedding packs a float32 vector as little-endian bytes.
func SerializeEmbedding(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4+0] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

// DeserializeEmbedding unpacks a little-endian float32 vector. The input
// length must be a multiple of 4.
func DeserializeEmbedding(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4+0]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
