package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/conclave/agent"
	"github.com/hupe1980/conclave/aggregate"
	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/logging"
)

// ErrInvalidRequest marks malformed requests (duplicate or empty handle ids).
var ErrInvalidRequest = errors.New("invalid coordination request")

// Coordinator is the entry point of the engine: it validates a Request,
// runs the selected strategy and shapes the Result. It keeps no state
// between calls and is safe for concurrent use.
type Coordinator struct {
	config     Config
	logger     logging.Logger
	similarity core.SimilarityFunc
	memory     core.MemoryStore
	callbacks  *CallbackManager
}

// New creates a Coordinator.
//
//	c := coordinator.New(func(o *coordinator.Options) {
//	    o.Config.PerCallTimeout = 20 * time.Second
//	    o.Similarity = similarity.Jaccard
//	})
func New(optFns ...func(o *Options)) *Coordinator {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Coordinator{
		config:     opts.Config,
		logger:     logging.OrNoOp(opts.Logger),
		similarity: opts.Similarity,
		memory:     opts.Memory,
		callbacks:  opts.Callbacks,
	}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.config }

// run is the per-call state. It is discarded when Coordinate returns.
type run struct {
	id      string
	req     Request
	result  *Result
	state   State
	budget  *core.CallBudget
	logger  logging.Logger
	handles []*agent.Handle
}

// Coordinate runs req.Task through req.Strategy.
//
// Precondition failures (unknown strategy, invalid config or templates, no
// eligible handles) are returned before any responder is called. Fatal run
// failures (a failing chain step, a failing manager, an exhausted call
// budget, a failing callback) are returned as errors. A debate without a
// winner or a round in which every call failed is not an error: the Result
// carries the diagnostics and Outcome names the condition.
func (c *Coordinator) Coordinate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	fn, ok := strategies[req.Strategy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownStrategy, req.Strategy)
	}
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateHandles(req.Handles); err != nil {
		return nil, err
	}

	timeout := c.config.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := uuid.NewString()
	r := &run{
		id:      id,
		req:     req,
		result:  &Result{Strategy: req.Strategy, RunID: id, Transitions: []State{StateIdle}},
		state:   StateIdle,
		budget:  core.NewCallBudget(c.config.MaxCalls),
		logger:  logging.ForRun(c.logger, id),
		handles: req.Handles,
	}

	r.logger.Info("coordination.start", "strategy", string(req.Strategy), "handles", len(req.Handles), "timeout", timeout)

	if err := fn(c, ctx, r); err != nil {
		r.logger.Warn("coordination.failed", "strategy", string(req.Strategy), "error", err.Error())
		return nil, err
	}

	if err := c.transition(ctx, r, StateDone); err != nil {
		return nil, err
	}

	r.result.Elapsed = time.Since(start)
	r.result.Calls = r.budget.Count()

	if d := r.result.Decision; d != nil {
		logging.Decision(r.logger, string(req.Strategy), string(d.Path), d.Consensus, r.result.Results.OKCount(), len(r.result.Results))
		if err := c.callbacks.Execute(ctx, &CallbackContext{RunID: id, Strategy: req.Strategy, Type: CallbackDecision, Decision: d, Handles: req.Handles}); err != nil {
			return nil, err
		}
	}

	c.remember(ctx, r)

	r.logger.Info("coordination.done", "strategy", string(req.Strategy), "elapsed", r.result.Elapsed, "calls", r.result.Calls)

	return r.result, nil
}

func validateHandles(handles []*agent.Handle) error {
	seen := make(map[string]struct{}, len(handles))
	for i, h := range handles {
		if h == nil {
			return fmt.Errorf("%w: handle %d is nil", ErrInvalidRequest, i)
		}
		if h.ID() == "" {
			return fmt.Errorf("%w: handle %d has an empty id", ErrInvalidRequest, i)
		}
		if _, dup := seen[h.ID()]; dup {
			return fmt.Errorf("%w: duplicate handle id %q", ErrInvalidRequest, h.ID())
		}
		seen[h.ID()] = struct{}{}
	}
	return nil
}

func (c *Coordinator) transition(ctx context.Context, r *run, to State) error {
	from := r.state
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal state transition %s -> %s", from, to)
	}

	r.state = to
	r.result.Transitions = append(r.result.Transitions, to)
	r.logger.Debug("coordination.transition", "from", from.String(), "to", to.String())

	return c.callbacks.Execute(ctx, &CallbackContext{
		RunID: r.id, Strategy: r.req.Strategy, Type: CallbackTransition, From: from, To: to, Handles: r.handles,
	})
}

func (c *Coordinator) roundComplete(ctx context.Context, r *run, round core.DispatchResult) error {
	r.logger.Info("coordination.round", "ok", round.OKCount(), "total", len(round))

	return c.callbacks.Execute(ctx, &CallbackContext{
		RunID: r.id, Strategy: r.req.Strategy, Type: CallbackRoundComplete, Round: round, Handles: r.handles,
	})
}

func (c *Coordinator) dispatch(ctx context.Context, r *run, prompt string, handles []*agent.Handle) (core.DispatchResult, error) {
	if err := r.budget.Reserve(len(handles)); err != nil {
		return nil, err
	}
	if err := c.transition(ctx, r, StateDispatching); err != nil {
		return nil, err
	}

	d := agent.NewDispatcher(func(o *agent.DispatcherOptions) {
		o.Logger = r.logger
		o.MaxConcurrency = c.config.MaxConcurrency
	})
	res := d.Dispatch(ctx, prompt, handles, c.config.PerCallTimeout)

	if err := c.roundComplete(ctx, r, res); err != nil {
		return nil, err
	}

	return res, nil
}

// allFailed records a round without a single successful entry.
func (c *Coordinator) allFailed(r *run, res core.DispatchResult) {
	r.result.Decision = &core.Decision{VoteCounts: map[string]int{}, Path: core.PathUnresolved}
	r.result.Outcome = fmt.Errorf("%w: %d of %d calls failed", core.ErrAllAgentsFailed, len(res), len(res))
}

func (c *Coordinator) runSequential(ctx context.Context, r *run) error {
	handles := r.req.Handles
	if len(handles) == 0 {
		return fmt.Errorf("%w: sequential strategy needs at least one handle", core.ErrNoEligibleAgents)
	}

	steps := make([]agent.Step, len(handles))
	for i, h := range handles {
		steps[i] = agent.Step{ID: h.ID(), Responder: h, Template: c.config.ChainTemplate}
	}
	if _, err := agent.CompileSteps(steps); err != nil {
		return err
	}

	if err := r.budget.Reserve(len(steps)); err != nil {
		return err
	}
	if err := c.transition(ctx, r, StateDispatching); err != nil {
		return err
	}

	chain := agent.NewChain(func(o *agent.ChainOptions) {
		o.Logger = r.logger
		o.StepTimeout = c.config.PerCallTimeout
	})

	start := time.Now()
	out, err := chain.Run(ctx, r.req.Task, steps)
	if err != nil {
		return err
	}

	last := handles[len(handles)-1]
	r.result.Results = core.DispatchResult{core.NewOKEntry(last.ID(), out, time.Since(start))}

	if err := c.roundComplete(ctx, r, r.result.Results); err != nil {
		return err
	}

	return c.transition(ctx, r, StateResolved)
}

func (c *Coordinator) runHierarchical(ctx context.Context, r *run) error {
	manager := r.req.Manager
	if manager == nil {
		if m := agent.FilterByTag(r.req.Handles, c.config.ManagerTag); len(m) > 0 {
			manager = m[0]
		}
	}
	if manager == nil {
		return fmt.Errorf("%w: no manager (tag %q)", core.ErrNoEligibleAgents, c.config.ManagerTag)
	}

	var subs []*agent.Handle
	for _, h := range r.req.Handles {
		if h.ID() != manager.ID() {
			subs = append(subs, h)
		}
	}
	if len(subs) == 0 {
		return fmt.Errorf("%w: manager %s has no subordinates", core.ErrNoEligibleAgents, manager.ID())
	}

	tmpl, err := compile(c.config.SynthesisTemplate, VarTask, VarResponses)
	if err != nil {
		return err
	}

	res, err := c.dispatch(ctx, r, r.req.Task, subs)
	if err != nil {
		return err
	}
	r.result.Results = res

	if err := c.transition(ctx, r, StateAggregating); err != nil {
		return err
	}

	if res.OKCount() == 0 {
		c.allFailed(r, res)
		return nil
	}

	var sb strings.Builder
	for _, e := range res {
		if e.OK() {
			fmt.Fprintf(&sb, "[%s]\n%s\n\n", e.AgentID, core.Normalize(e.Content))
		}
	}

	prompt, err := tmpl.Render(map[string]string{VarTask: r.req.Task, VarResponses: strings.TrimSpace(sb.String())})
	if err != nil {
		return err
	}

	if err := r.budget.Reserve(1); err != nil {
		return err
	}

	entry := c.callResolver(ctx, r, manager, prompt)
	r.result.Resolver = &entry
	if !entry.OK() {
		return fmt.Errorf("%w: %s: %w", core.ErrManagerFailed, manager.ID(), entry.Err)
	}

	vote := aggregate.MajorityVote(res, func(o *aggregate.VoteOptions) { o.Quorum = c.config.Quorum })
	winner := core.Normalize(entry.Content)
	r.result.Decision = &core.Decision{
		Winner:     &winner,
		VoteCounts: vote.VoteCounts,
		Consensus:  vote.Consensus,
		Path:       core.PathSynthesis,
	}

	return c.transition(ctx, r, StateResolved)
}

func (c *Coordinator) runDebate(ctx context.Context, r *run) error {
	experts := agent.FilterByTag(r.req.Handles, c.config.ExpertTag)
	if len(experts) == 0 {
		return fmt.Errorf("%w: no handle tagged %q", core.ErrNoEligibleAgents, c.config.ExpertTag)
	}

	tmpl, err := compile(c.config.ConflictTemplate, VarTask, VarCandidates)
	if err != nil {
		return err
	}

	res, err := c.dispatch(ctx, r, r.req.Task, experts)
	if err != nil {
		return err
	}
	r.result.Results = res

	if err := c.transition(ctx, r, StateAggregating); err != nil {
		return err
	}

	if res.OKCount() == 0 {
		c.allFailed(r, res)
		return nil
	}

	vote := aggregate.MajorityVote(res, func(o *aggregate.VoteOptions) { o.Quorum = c.config.Quorum })
	if vote.Consensus {
		r.result.Decision = &vote
		return c.transition(ctx, r, StateResolved)
	}

	if c.similarity != nil {
		if winner, ok := aggregate.CheckConsensus(ctx, res.OKContents(), c.similarity, c.config.SimilarityThreshold); ok {
			winner = core.Normalize(winner)
			r.result.Decision = &core.Decision{
				Winner:     &winner,
				VoteCounts: vote.VoteCounts,
				Consensus:  true,
				Path:       core.PathSimilarity,
			}
			return c.transition(ctx, r, StateResolved)
		}
	}

	if err := c.transition(ctx, r, StateConflictResolution); err != nil {
		return err
	}

	unresolved := func(cause error) {
		r.result.Decision = &core.Decision{VoteCounts: vote.VoteCounts, Path: core.PathUnresolved}
		r.result.Outcome = core.ErrUnresolved
		if cause != nil {
			r.result.Outcome = fmt.Errorf("%w: %w", core.ErrUnresolved, cause)
		}
	}

	tb := r.req.TieBreaker
	if tb == nil {
		if t := agent.FilterByTag(r.req.Handles, c.config.TieBreakerTag); len(t) > 0 {
			tb = t[0]
		}
	}
	if tb == nil {
		r.logger.Info("coordination.unresolved", "reason", "no tie-breaker configured")
		unresolved(nil)
		return nil
	}

	if err := r.budget.Reserve(1); err != nil {
		unresolved(err)
		return nil
	}

	prompt, err := tmpl.Render(map[string]string{VarTask: r.req.Task, VarCandidates: candidates(res)})
	if err != nil {
		return err
	}

	entry := c.callResolver(ctx, r, tb, prompt)
	r.result.Resolver = &entry
	if !entry.OK() {
		unresolved(entry.Err)
		return nil
	}

	winner := core.Normalize(entry.Content)
	r.result.Decision = &core.Decision{
		Winner:     &winner,
		VoteCounts: vote.VoteCounts,
		Path:       core.PathTieBreaker,
	}

	return nil
}

func (c *Coordinator) callResolver(ctx context.Context, r *run, h *agent.Handle, prompt string) core.Entry {
	start := time.Now()
	out, err := h.Call(ctx, prompt, c.config.PerCallTimeout)
	latency := time.Since(start)

	logging.AgentCall(r.logger, h.ID(), latency, err)

	if err != nil {
		return core.NewErrEntry(h.ID(), err, latency)
	}
	return core.NewOKEntry(h.ID(), out, latency)
}

// candidates lists the distinct answers in first-occurrence order.
func candidates(res core.DispatchResult) string {
	seen := map[string]bool{}
	var sb strings.Builder
	n := 0
	for _, content := range res.OKContents() {
		key := core.Normalize(content)
		if seen[key] {
			continue
		}
		seen[key] = true
		n++
		fmt.Fprintf(&sb, "%d. %s\n", n, key)
	}
	return strings.TrimSpace(sb.String())
}

func (c *Coordinator) remember(ctx context.Context, r *run) {
	if c.memory == nil {
		return
	}
	winner := r.result.Winner()
	if winner == "" {
		return
	}

	if err := c.memory.StoreExchange(context.WithoutCancel(ctx), r.req.Task, winner); err != nil {
		r.logger.Warn("memory.store_exchange.error", "error", err.Error())
	}
}
