package core

import (
	"fmt"
	"sync"
)

// CallBudget enforces a maximum number of responder calls per coordination run.
type CallBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallBudget creates a new budget with a max number of calls.
// If max == 0, unlimited calls are allowed.
func NewCallBudget(max int) *CallBudget {
	return &CallBudget{max: max}
}

// Reserve claims n calls at once. Either all n are granted or none are and
// an error wrapping ErrBudgetExceeded is returned.
func (b *CallBudget) Reserve(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.count+n > b.max {
		return fmt.Errorf("%w: need %d, %d of %d left", ErrBudgetExceeded, n, b.max-b.count, b.max)
	}
	b.count += n

	return nil
}

// Count returns the number of calls reserved so far.
func (b *CallBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many calls are left before hitting the limit.
func (b *CallBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}

	return b.max - b.count
}
