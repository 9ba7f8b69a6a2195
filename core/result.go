package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the outcome of a single responder call.
type Status string

const (
	// StatusOK marks an entry carrying content.
	StatusOK Status = "ok"
	// StatusErr marks an entry carrying an error.
	StatusErr Status = "error"
)

// Entry is one slot of a DispatchResult. Exactly one of Content (Status ok)
// or Err (Status error) is meaningful.
type Entry struct {
	AgentID string
	Status  Status
	Content string
	Err     *AgentError
	Latency time.Duration
}

// OK reports whether the call succeeded.
func (e Entry) OK() bool { return e.Status == StatusOK }

// NewOKEntry builds a successful entry.
func NewOKEntry(agentID, content string, latency time.Duration) Entry {
	return Entry{AgentID: agentID, Status: StatusOK, Content: content, Latency: latency}
}

// NewErrEntry builds a failed entry, classifying err.
func NewErrEntry(agentID string, err error, latency time.Duration) Entry {
	return Entry{AgentID: agentID, Status: StatusErr, Err: NewAgentError(agentID, err), Latency: latency}
}

type entryJSON struct {
	AgentID   string `json:"agent_id"`
	Status    Status `json:"status"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// MarshalJSON renders the entry in the coordination payload shape.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		AgentID:   e.AgentID,
		Status:    e.Status,
		LatencyMS: e.Latency.Milliseconds(),
	}
	if e.OK() {
		out.Content = e.Content
	} else if e.Err != nil {
		out.Error = e.Err.Error()
		out.ErrorKind = string(e.Err.Kind)
	}
	return json.Marshal(out)
}

// DispatchResult is the ordered outcome of a fan-out round: one entry per
// submitted handle, in submission order.
type DispatchResult []Entry

// OKContents returns the contents of successful entries in submission order.
func (r DispatchResult) OKContents() []string {
	out := make([]string, 0, len(r))
	for _, e := range r {
		if e.OK() {
			out = append(out, e.Content)
		}
	}
	return out
}

// OKCount returns the number of successful entries.
func (r DispatchResult) OKCount() int {
	n := 0
	for _, e := range r {
		if e.OK() {
			n++
		}
	}
	return n
}

// Failed returns the failed entries.
func (r DispatchResult) Failed() []Entry {
	var out []Entry
	for _, e := range r {
		if !e.OK() {
			out = append(out, e)
		}
	}
	return out
}

// ResolutionPath records how a Decision was reached.
type ResolutionPath string

const (
	// PathMajority: a plurality vote over normalized contents.
	PathMajority ResolutionPath = "majority"
	// PathSimilarity: a similarity cluster holding a strict majority.
	PathSimilarity ResolutionPath = "similarity"
	// PathTieBreaker: a designated tie-breaker answered a re-dispatch.
	PathTieBreaker ResolutionPath = "tiebreaker"
	// PathSynthesis: a manager synthesized subordinate answers.
	PathSynthesis ResolutionPath = "synthesis"
	// PathUnresolved: no winner.
	PathUnresolved ResolutionPath = "unresolved"
)

// Decision is the reduction of a DispatchResult into a single answer.
// Winner is nil only when Path is PathUnresolved.
type Decision struct {
	Winner     *string        `json:"winner"`
	VoteCounts map[string]int `json:"vote_counts"`
	Consensus  bool           `json:"consensus"`
	Path       ResolutionPath `json:"resolution_path"`
}

// Resolved reports whether the decision carries a winner.
func (d *Decision) Resolved() bool { return d != nil && d.Winner != nil }

// WinnerText returns the winner or the empty string.
func (d *Decision) WinnerText() string {
	if d == nil || d.Winner == nil {
		return ""
	}
	return *d.Winner
}

// Normalize is the canonical form used when comparing votes.
func Normalize(content string) string { return strings.TrimSpace(content) }
