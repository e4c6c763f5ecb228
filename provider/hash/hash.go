// Package hash provides an offline, deterministic embedder.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions matches all-MiniLM-L6-v2 so vectors are interchangeable
// in collection sizing with the onnx embedder.
const DefaultDimensions = 384

// Embedder produces feature-hashed bag-of-words vectors.
//
// Every lowercase token and adjacent token pair is hashed into a bucket with
// a hash-derived sign. Texts sharing vocabulary therefore have a positive
// cosine similarity and identical texts have similarity 1, which is enough
// to exercise relevance ranking without a model.
type Embedder struct {
	dimensions int
}

// New creates an embedder with the given dimensionality (DefaultDimensions
// when dims <= 0).
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dimensions: dims}
}

// Embed creates a deterministic embedding from text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, e.dimensions)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(embedding, tok, 1)
		if i > 0 {
			e.add(embedding, tokens[i-1]+" "+tok, 0.5)
		}
	}

	// Empty input still has to be a valid direction for cosine similarity.
	if len(tokens) == 0 {
		embedding[0] = 1
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Name identifies the embedder in logs.
func (e *Embedder) Name() string {
	return "hash"
}

func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(e.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}

	return vec
}
