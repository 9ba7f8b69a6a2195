// Package similarity provides core.SimilarityFunc implementations for the
// consensus check: a lexical Jaccard score that needs no backend, and an
// embedding based cosine score on top of any Embedder (for example
// model/openai.Embedder) with a bounded vector cache.
package similarity
