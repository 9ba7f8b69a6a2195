package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/conclave/core"
)

// ErrDimensionMismatch is returned when two vectors differ in length.
var ErrDimensionMismatch = errors.New("vector dimensions differ")

// DefaultCacheSize bounds the number of cached embeddings.
const DefaultCacheSize = 1024

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Jaccard scores two texts by the overlap of their lower-cased word sets.
// Two empty texts are identical.
func Jaccard(_ context.Context, a, b string) (float64, error) {
	wa, wb := words(a), words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1, nil
	}

	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter

	return float64(inter) / float64(union), nil
}

func words(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[f] = struct{}{}
	}
	return out
}

// Cosine returns the cosine similarity of a and b clamped to [0,1]. Zero
// vectors score 0.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}

	return math.Max(0, math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb)))), nil
}

// EmbeddingOptions configures FromEmbedder.
type EmbeddingOptions struct {
	// CacheSize bounds the vector cache (entries).
	CacheSize int
}

// EmbeddingSimilarity scores texts by the cosine of their embeddings.
// Vectors are cached per text and concurrent requests for the same text
// share one Embed call.
type EmbeddingSimilarity struct {
	embedder Embedder
	cache    *lru.Cache[string, []float64]
	group    singleflight.Group
}

// FromEmbedder wraps e.
func FromEmbedder(e Embedder, optFns ...func(o *EmbeddingOptions)) (*EmbeddingSimilarity, error) {
	opts := EmbeddingOptions{CacheSize: DefaultCacheSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, []float64](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &EmbeddingSimilarity{embedder: e, cache: cache}, nil
}

// Func adapts s to a core.SimilarityFunc.
func (s *EmbeddingSimilarity) Func() core.SimilarityFunc { return s.Similarity }

// Similarity implements core.SimilarityFunc.
func (s *EmbeddingSimilarity) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := s.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := s.vector(ctx, b)
	if err != nil {
		return 0, err
	}

	return Cosine(va, vb)
}

func (s *EmbeddingSimilarity) vector(ctx context.Context, text string) ([]float64, error) {
	if v, ok := s.cache.Get(text); ok {
		return v, nil
	}

	v, err, _ := s.group.Do(text, func() (any, error) {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		s.cache.Add(text, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]float64), nil
}
