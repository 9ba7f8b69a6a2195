package coordinator

import (
	"encoding/json"
	"time"

	"github.com/hupe1980/conclave/agent"
	"github.com/hupe1980/conclave/core"
)

// Request describes one coordination call.
type Request struct {
	Task     string
	Strategy Strategy
	Handles  []*agent.Handle
	// Timeout overrides Config.Timeout for this call.
	Timeout time.Duration
	// Manager overrides the tag based manager lookup (hierarchical).
	Manager *agent.Handle
	// TieBreaker overrides the tag based tie-breaker lookup (debate).
	TieBreaker *agent.Handle
}

// Result is the payload of a coordination call.
type Result struct {
	Strategy Strategy
	RunID    string
	// Results holds one entry per handle of the main round, in submission
	// order. A sequential run holds a single entry for its final output.
	Results core.DispatchResult
	// Resolver is the manager or tie-breaker call, if one was made.
	Resolver *core.Entry
	// Decision is nil for sequential runs.
	Decision *core.Decision
	// Outcome is core.ErrAllAgentsFailed or core.ErrUnresolved (possibly
	// wrapped) when the run completed without a winner.
	Outcome     error
	Elapsed     time.Duration
	Transitions []State
	Calls       int
}

type decisionJSON struct {
	Winner     *string             `json:"winner"`
	Consensus  bool                `json:"consensus"`
	Path       core.ResolutionPath `json:"resolution_path"`
	VoteCounts map[string]int      `json:"vote_counts,omitempty"`
}

type resultJSON struct {
	Strategy    Strategy            `json:"strategy"`
	RunID       string              `json:"run_id"`
	Results     core.DispatchResult `json:"results"`
	Resolver    *core.Entry         `json:"resolver,omitempty"`
	Decision    *decisionJSON       `json:"decision"`
	Error       string              `json:"error,omitempty"`
	ElapsedMS   int64               `json:"elapsed_ms"`
	Transitions []State             `json:"transitions,omitempty"`
	Calls       int                 `json:"calls"`
}

// MarshalJSON renders the result payload.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Strategy:    r.Strategy,
		RunID:       r.RunID,
		Results:     r.Results,
		Resolver:    r.Resolver,
		ElapsedMS:   r.Elapsed.Milliseconds(),
		Transitions: r.Transitions,
		Calls:       r.Calls,
	}
	if out.Results == nil {
		out.Results = core.DispatchResult{}
	}
	if r.Decision != nil {
		out.Decision = &decisionJSON{
			Winner:     r.Decision.Winner,
			Consensus:  r.Decision.Consensus,
			Path:       r.Decision.Path,
			VoteCounts: r.Decision.VoteCounts,
		}
	}
	if r.Outcome != nil {
		out.Error = r.Outcome.Error()
	}

	return json.Marshal(out)
}

// Winner returns the decided answer, the final chain output for sequential
// runs, or "".
func (r *Result) Winner() string {
	if r.Decision != nil {
		return r.Decision.WinnerText()
	}
	if r.Strategy == StrategySequential && len(r.Results) == 1 && r.Results[0].OK() {
		return r.Results[0].Content
	}
	return ""
}
