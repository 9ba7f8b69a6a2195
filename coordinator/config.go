package coordinator

import (
	"fmt"
	"time"

	"github.com/hupe1980/conclave/agent"
	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/internal/util"
	"github.com/hupe1980/conclave/logging"
)

// Template placeholders understood by the coordinator.
const (
	VarTask       = "task"
	VarResponses  = "responses"
	VarCandidates = "candidates"
)

// Config defines tuning parameters for coordination runs.
type Config struct {
	// Timeout bounds a whole Coordinate call. Request.Timeout overrides it;
	// 0 means bounded by the caller's context only.
	Timeout time.Duration

	// PerCallTimeout bounds every single responder call (0 = no extra bound).
	PerCallTimeout time.Duration

	// Quorum is the share of successful votes the plurality winner must
	// exceed to count as consensus.
	Quorum float64

	// SimilarityThreshold in (0,1] links two debate answers in the
	// similarity consensus check.
	SimilarityThreshold float64

	// ChainTemplate is shared by every step of the sequential strategy and
	// must reference {input}.
	ChainTemplate string

	// SynthesisTemplate is sent to the manager of the hierarchical strategy
	// with {task} and {responses} bound.
	SynthesisTemplate string

	// ConflictTemplate is sent to the tie-breaker of an inconclusive debate
	// with {task} and {candidates} bound.
	ConflictTemplate string

	// MaxCalls caps the responder calls of one run (0 = unlimited).
	MaxCalls int

	// MaxConcurrency bounds in-flight calls of a fan-out round (0 = unbounded).
	MaxConcurrency int

	ExpertTag     string
	ManagerTag    string
	TieBreakerTag string
}

// DefaultConfig provides the defaults used by New.
var DefaultConfig = Config{
	Timeout:             2 * time.Minute,
	Quorum:              0.5,
	SimilarityThreshold: 0.85,
	ChainTemplate:       "{input}",
	SynthesisTemplate: "You are coordinating a team working on this task:\n{task}\n\n" +
		"Your team answered:\n{responses}\n\n" +
		"Synthesize the single best final answer.",
	ConflictTemplate: "Several experts disagree about this task:\n{task}\n\n" +
		"Candidate answers:\n{candidates}\n\n" +
		"Reply with the single answer you judge correct.",
	ExpertTag:     agent.TagExpert,
	ManagerTag:    agent.TagManager,
	TieBreakerTag: agent.TagTieBreaker,
}

// Validate checks value ranges and template placeholders.
func (c Config) Validate() error {
	if c.Timeout < 0 || c.PerCallTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Quorum < 0 || c.Quorum >= 1 {
		return fmt.Errorf("quorum %v out of range [0,1)", c.Quorum)
	}
	if !(c.SimilarityThreshold > 0 && c.SimilarityThreshold <= 1) {
		return fmt.Errorf("similarity threshold %v out of range (0,1]", c.SimilarityThreshold)
	}
	if c.MaxCalls < 0 || c.MaxConcurrency < 0 {
		return fmt.Errorf("limits must not be negative")
	}

	chain, err := compile(c.ChainTemplate, agent.InputVar)
	if err != nil {
		return fmt.Errorf("chain template: %w", err)
	}
	if n := chain.Count(agent.InputVar); n != 1 {
		return fmt.Errorf("chain template: {%s} must occur exactly once, found %d", agent.InputVar, n)
	}
	if _, err := compile(c.SynthesisTemplate, VarTask, VarResponses); err != nil {
		return fmt.Errorf("synthesis template: %w", err)
	}
	if _, err := compile(c.ConflictTemplate, VarTask, VarCandidates); err != nil {
		return fmt.Errorf("conflict template: %w", err)
	}

	return nil
}

// compile parses text and checks that it only references allowed names and
// at least the first one.
func compile(text string, allowed ...string) (*util.Template, error) {
	tmpl, err := util.ParseTemplate(text)
	if err != nil {
		return nil, &core.TemplateError{StepIndex: -1, Template: text, Message: err.Error()}
	}

	if len(allowed) > 0 && !tmpl.Has(allowed[0]) {
		return nil, &core.TemplateError{StepIndex: -1, Template: text, Message: fmt.Sprintf("template must reference {%s}", allowed[0])}
	}

	for _, name := range tmpl.Vars() {
		ok := false
		for _, a := range allowed {
			if name == a {
				ok = true
				break
			}
		}
		if !ok {
			return nil, &core.TemplateError{StepIndex: -1, Template: text, Message: fmt.Sprintf("unknown placeholder {%s}", name)}
		}
	}

	return tmpl, nil
}

// Options configures a Coordinator.
type Options struct {
	// Config contains the tuning parameters. Defaults to DefaultConfig.
	Config Config

	// Logger receives run, call and decision records. Defaults to NoOpLogger.
	Logger logging.Logger

	// Similarity enables the similarity consensus pass of the debate
	// strategy. Nil skips straight to conflict resolution.
	Similarity core.SimilarityFunc

	// Memory, when set, records every resolved (task, winner) exchange.
	Memory core.MemoryStore

	// Callbacks observe transitions, rounds and decisions.
	Callbacks *CallbackManager
}
