// Package coordinator implements the orchestration layer of conclave.
//
// A Coordinator takes a task, a strategy and a set of agent handles and
// drives one coordination run to a Result. It owns no agents: handles are
// passed per call, so a single Coordinator can serve many independent runs
// concurrently.
//
// # Strategies
//
// Sequential: the handles form a pipeline. Each step renders
// Config.ChainTemplate with {input} bound to the previous output and the
// last output is the answer. A failing step aborts the run.
//
// Hierarchical: a manager (Request.Manager or the first handle tagged
// Config.ManagerTag) receives the answers of all other handles rendered into
// Config.SynthesisTemplate and returns the synthesized answer.
//
// Debate: every handle tagged Config.ExpertTag answers the task. The answers
// are reduced by, in order:
//
//  1. a plurality vote over normalized contents (consensus above Quorum),
//  2. similarity clustering (when Options.Similarity is set),
//  3. a tie-breaker call (Request.TieBreaker or Config.TieBreakerTag).
//
// When all three fail the Result carries an unresolved Decision and
// Outcome wraps core.ErrUnresolved.
//
// # Lifecycle
//
// Every run walks a small state machine:
//
//	idle -> dispatching -> aggregating -> resolved ------------> done
//	                                  \-> conflict_resolution -> done
//
// The visited states are recorded in Result.Transitions and every step is
// reported to the registered callbacks together with round and decision
// events.
//
// # Timeouts and budgets
//
// Config.Timeout (or Request.Timeout) bounds the whole run. Slots that do not
// settle in time become Timeout entries and aggregation proceeds with what is
// available. Config.PerCallTimeout bounds every single call and
// Config.MaxCalls caps the number of responder invocations per run.
//
// # Usage
//
//	c := coordinator.New(func(o *coordinator.Options) {
//	    o.Similarity = similarity.Jaccard
//	})
//
//	res, err := c.Coordinate(ctx, coordinator.Request{
//	    Task:     "What is the capital of France?",
//	    Strategy: coordinator.StrategyDebate,
//	    Handles:  handles,
//	})
package coordinator
