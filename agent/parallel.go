package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/logging"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Logger receives one record per settled call. Defaults to NoOpLogger.
	Logger logging.Logger
	// MaxConcurrency bounds the number of in-flight calls (0 = one goroutine
	// per handle).
	MaxConcurrency int
}

// Dispatcher fans a single prompt out to many handles concurrently.
//
// Every call runs in its own goroutine and writes into a preallocated slot
// indexed by submission position, so the result order always equals the
// submission order regardless of completion order. A failing, panicking or
// slow responder only affects its own slot; siblings are never cancelled.
type Dispatcher struct {
	logger         logging.Logger
	maxConcurrency int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Dispatcher{
		logger:         logging.OrNoOp(opts.Logger),
		maxConcurrency: opts.MaxConcurrency,
	}
}

// Dispatch sends prompt to every handle and returns after all slots settled.
//
// perCallTimeout bounds each call individually (0 = bounded by ctx only).
// A call that misses its deadline yields an Err(Timeout) entry and its late
// completion is discarded. An empty handle list yields an empty result.
func (d *Dispatcher) Dispatch(ctx context.Context, prompt string, handles []*Handle, perCallTimeout time.Duration) core.DispatchResult {
	result := make(core.DispatchResult, len(handles))
	if len(handles) == 0 {
		return result
	}

	// Errors are recorded per slot, so the group never cancels siblings.
	var g errgroup.Group
	if d.maxConcurrency > 0 {
		g.SetLimit(d.maxConcurrency)
	}

	for i, h := range handles {
		g.Go(func() error {
			result[i] = d.call(ctx, i, h, prompt, perCallTimeout)
			return nil
		})
	}

	_ = g.Wait()

	return result
}

func (d *Dispatcher) call(ctx context.Context, idx int, h *Handle, prompt string, timeout time.Duration) core.Entry {
	if h == nil {
		id := fmt.Sprintf("#%d", idx)
		return core.NewErrEntry(id, fmt.Errorf("%w: nil handle", core.ErrAgentFailure), 0)
	}

	start := time.Now()
	content, err := h.Call(ctx, prompt, timeout)
	latency := time.Since(start)

	logging.AgentCall(d.logger, h.ID(), latency, err)

	if err != nil {
		return core.NewErrEntry(h.ID(), err, latency)
	}

	return core.NewOKEntry(h.ID(), content, latency)
}
