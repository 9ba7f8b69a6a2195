package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrFake is the default error returned by failing fakes.
var ErrFake = errors.New("fake responder failure")

// FakeResponder is a scriptable core.Responder. Configure it with the
// chainable setters, then hand it to a handle:
//
//	r := NewFakeResponder("yes").Latency(20 * time.Millisecond)
//
// Respond honors ctx while sleeping or blocking.
type FakeResponder struct {
	answer  string
	echo    bool
	latency time.Duration
	err     error
	panicV  any
	block   bool

	calls   atomic.Int64
	mu      sync.Mutex
	prompts []string
}

// NewFakeResponder creates a fake answering answer.
func NewFakeResponder(answer string) *FakeResponder { return &FakeResponder{answer: answer} }

// Echo makes the fake answer with its prompt (chainable).
func (f *FakeResponder) Echo() *FakeResponder { f.echo = true; return f }

// Latency delays the answer (chainable).
func (f *FakeResponder) Latency(d time.Duration) *FakeResponder { f.latency = d; return f }

// Fail makes the fake return err, or ErrFake when err is nil (chainable).
func (f *FakeResponder) Fail(err error) *FakeResponder {
	if err == nil {
		err = ErrFake
	}
	f.err = err
	return f
}

// Panic makes the fake panic with v (chainable).
func (f *FakeResponder) Panic(v any) *FakeResponder { f.panicV = v; return f }

// Block makes the fake wait until ctx is done (chainable).
func (f *FakeResponder) Block() *FakeResponder { f.block = true; return f }

// Calls returns how often Respond was invoked.
func (f *FakeResponder) Calls() int { return int(f.calls.Load()) }

// Prompts returns every prompt received, in call order.
func (f *FakeResponder) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// LastPrompt returns the most recent prompt or "".
func (f *FakeResponder) LastPrompt() string {
	p := f.Prompts()
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Respond implements core.Responder.
func (f *FakeResponder) Respond(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}

	if f.latency > 0 {
		t := time.NewTimer(f.latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if f.panicV != nil {
		panic(f.panicV)
	}
	if f.err != nil {
		return "", f.err
	}
	if f.echo {
		return prompt, nil
	}

	return f.answer, nil
}
