package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/conclave/core"
)

// Strategy selects how a task is spread over the handles.
type Strategy string

const (
	// StrategySequential pipes the task through every handle in order.
	StrategySequential Strategy = "sequential"
	// StrategyHierarchical fans out to subordinates and lets a manager synthesize.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyDebate fans out to experts and reduces their answers.
	StrategyDebate Strategy = "debate"
)

type strategyFunc func(c *Coordinator, ctx context.Context, r *run) error

// strategies is the explicit workflow table consulted by Coordinate.
var strategies = map[Strategy]strategyFunc{
	StrategySequential:   (*Coordinator).runSequential,
	StrategyHierarchical: (*Coordinator).runHierarchical,
	StrategyDebate:       (*Coordinator).runDebate,
}

// Strategies returns the known strategies sorted by name.
func Strategies() []Strategy {
	out := make([]Strategy, 0, len(strategies))
	for s := range strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseStrategy resolves a case-insensitive strategy name.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := strategies[st]; !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownStrategy, s)
	}
	return st, nil
}
