package memory

import (
	"crypto/sha256"
	"encoding/binary"
)

// EmbeddingDim is the fixed dimensionality of stored event vectors. The
// events table column is vector(32); changing this requires a migration.
const EmbeddingDim = 32

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	Embed(text string) []float32
	Dim() int
}

// HashEmbedder is a deterministic stand-in embedder: it hashes the text and
// expands the digest into EmbeddingDim components in [-1, 1]. Identical text
// always maps to the identical vector, which keeps retrieval reproducible
// without a model dependency. Semantically, it only matches exact and
// near-exact duplicates.
type HashEmbedder struct{}

func NewHashEmbedder() HashEmbedder { return HashEmbedder{} }

func (HashEmbedder) Dim() int { return EmbeddingDim }

func (HashEmbedder) Embed(text string) []float32 {
	digest := sha256.Sum256([]byte(text))

	// Tile the 32-byte digest until every component has a uint16 source.
	need := EmbeddingDim * 2
	buf := make([]byte, 0, need)
	for len(buf) < need {
		buf = append(buf, digest[:]...)
	}

	vec := make([]float32, EmbeddingDim)
	for i := 0; i < EmbeddingDim; i++ {
		u := binary.BigEndian.Uint16(buf[i*2 : i*2+2])
		vec[i] = float32(u)/32767.5 - 1.0
	}
	return vec
}
