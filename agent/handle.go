package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/conclave/core"
)

// Well known role tags.
const (
	// TagExpert marks handles eligible for the debate strategy.
	TagExpert = "expert"
	// TagManager marks the synthesizing handle of the hierarchical strategy.
	TagManager = "manager"
	// TagTieBreaker marks the handle consulted when a debate stays inconclusive.
	TagTieBreaker = "tiebreaker"
)

// HandleOptions configures a Handle.
type HandleOptions struct {
	Tags        []string
	Description string
	// RateLimit caps calls per second to the responder (0 = unlimited).
	// Burst defaults to 1.
	RateLimit float64
	Burst     int
}

// Handle is a uniform capability wrapper around one remote responder: a
// unique identifier, a set of role tags and the Responder itself. A Handle is
// immutable once constructed and safe for concurrent use; it is owned by the
// caller and only referenced by the coordinator.
type Handle struct {
	id          string
	description string
	tags        map[string]struct{}
	responder   core.Responder
	limiter     *rate.Limiter
}

// NewHandle wraps r under the given id.
func NewHandle(id string, r core.Responder, optFns ...func(o *HandleOptions)) *Handle {
	opts := HandleOptions{Description: fmt.Sprintf("Agent %s", id)}
	for _, fn := range optFns {
		fn(&opts)
	}

	tags := make(map[string]struct{}, len(opts.Tags))
	for _, t := range opts.Tags {
		tags[t] = struct{}{}
	}

	h := &Handle{id: id, description: opts.Description, tags: tags, responder: r}
	if opts.RateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.Burst, 1))
	}

	return h
}

// WithTags is a HandleOptions helper setting role tags.
func WithTags(tags ...string) func(o *HandleOptions) {
	return func(o *HandleOptions) { o.Tags = append(o.Tags, tags...) }
}

// ID returns the unique identifier of the handle.
func (h *Handle) ID() string { return h.id }

// Description returns a human readable description.
func (h *Handle) Description() string { return h.description }

// HasTag reports whether the handle carries tag.
func (h *Handle) HasTag(tag string) bool {
	_, ok := h.tags[tag]
	return ok
}

// Tags returns the role tags in sorted order.
func (h *Handle) Tags() []string {
	out := make([]string, 0, len(h.tags))
	for t := range h.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Respond implements core.Responder. A panic inside the wrapped responder is
// converted into an error wrapping core.ErrAgentFailure. A rate limited
// handle waits for its turn; when ctx ends first the call fails with
// core.ErrRateLimited.
func (h *Handle) Respond(ctx context.Context, prompt string) (content string, err error) {
	if h.responder == nil {
		return "", fmt.Errorf("%w: handle %s has no responder", core.ErrAgentFailure, h.id)
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: handle %s: %w", core.ErrRateLimited, h.id, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			content = ""
			err = fmt.Errorf("%w: panic: %v", core.ErrAgentFailure, r)
		}
	}()

	return h.responder.Respond(ctx, prompt)
}

// Call invokes the responder bounded by timeout (0 means bounded by ctx only).
// When the deadline passes first the call is abandoned: Call returns an error
// wrapping core.ErrTimeout and the eventual late result is discarded.
func (h *Handle) Call(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return callWithTimeout(ctx, h, prompt, timeout)
}

// FilterByTag returns the handles carrying tag, preserving order.
func FilterByTag(handles []*Handle, tag string) []*Handle {
	var out []*Handle
	for _, h := range handles {
		if h != nil && h.HasTag(tag) {
			out = append(out, h)
		}
	}
	return out
}

// FindByID returns the handle with the given id or nil.
func FindByID(handles []*Handle, id string) *Handle {
	for _, h := range handles {
		if h != nil && h.id == id {
			return h
		}
	}
	return nil
}

type callOutcome struct {
	content string
	err     error
}

func callWithTimeout(ctx context.Context, r core.Responder, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrTimeout, err)
	}

	// Buffered so an abandoned call can always deliver and exit.
	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- callOutcome{err: fmt.Errorf("%w: panic: %v", core.ErrAgentFailure, rec)}
			}
		}()
		content, err := r.Respond(ctx, prompt)
		done <- callOutcome{content: content, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, ctx.Err()) {
			return "", fmt.Errorf("%w: %w", core.ErrTimeout, out.err)
		}
		return out.content, out.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", core.ErrTimeout, ctx.Err())
	}
}
