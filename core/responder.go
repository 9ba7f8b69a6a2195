package core

import "context"

// Responder is the single capability the coordination engine needs from a
// remote agent: turn a prompt into text. Implementations wrap a concrete
// provider (Anthropic, OpenAI, a local model, a test fake) and may fail with
// a transient or fatal error. Wrap ErrRateLimited or ErrTimeout to have the
// failure classified accordingly.
//
// Implementations must honor ctx cancellation; the engine abandons calls
// whose deadline has passed and discards their late results.
type Responder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// ResponderFunc is a functional adapter to allow ordinary functions to be used
// as Responders.
type ResponderFunc func(ctx context.Context, prompt string) (string, error)

// Respond implements Responder.
func (f ResponderFunc) Respond(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// SimilarityFunc scores the semantic closeness of two texts in [0,1]. It is
// consumed, never implemented, by the aggregation layer; a returned error is
// treated as a similarity of 0 for that pair.
type SimilarityFunc func(ctx context.Context, a, b string) (float64, error)
