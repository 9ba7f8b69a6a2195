package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/internal/util"
	"github.com/hupe1980/conclave/logging"
)

// InputVar is the placeholder every step template must reference. It is bound
// to the previous step's output (or the initial input for step 0).
const InputVar = "input"

// Step is one stage of a sequential pipeline.
type Step struct {
	// ID names the step in logs and errors. Defaults to the handle ID when
	// Responder is a *Handle.
	ID        string
	Responder core.Responder
	// Template is rendered with {input} plus Vars; "{{" and "}}" escape literal braces.
	Template string
	Vars     map[string]string
}

// ChainOptions configures a Chain.
type ChainOptions struct {
	Logger logging.Logger
	// StepTimeout bounds every step call (0 = bounded by ctx only).
	StepTimeout time.Duration
}

// Chain runs an ordered pipeline of steps, feeding each output into the next
// prompt. Execution is fail-fast: the first failing step ends the run and
// later steps are never invoked.
type Chain struct {
	logger      logging.Logger
	stepTimeout time.Duration
}

// NewChain creates a Chain.
func NewChain(optFns ...func(o *ChainOptions)) *Chain {
	opts := ChainOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Chain{logger: logging.OrNoOp(opts.Logger), stepTimeout: opts.StepTimeout}
}

// Run executes steps in order and returns the output of the last one.
//
// All templates are validated before the first call, so a malformed template
// or an unbound variable returns a *core.TemplateError without invoking any
// responder. A failing step returns a *core.ChainError carrying its index.
// An empty step list returns initialInput unchanged.
func (c *Chain) Run(ctx context.Context, initialInput string, steps []Step) (string, error) {
	templates, err := CompileSteps(steps)
	if err != nil {
		return "", err
	}

	current := initialInput
	for i, step := range steps {
		id := stepID(step, i)

		vars := make(map[string]string, len(step.Vars)+1)
		for k, v := range step.Vars {
			vars[k] = v
		}
		vars[InputVar] = current

		prompt, err := templates[i].Render(vars)
		if err != nil {
			return "", &core.TemplateError{StepIndex: i, Template: step.Template, Message: err.Error()}
		}

		start := time.Now()
		out, err := callWithTimeout(ctx, step.Responder, prompt, c.stepTimeout)
		logging.AgentCall(c.logger, id, time.Since(start), err)

		if err != nil {
			return "", &core.ChainError{StepIndex: i, AgentID: id, Cause: err}
		}

		c.logger.Debug("chain.step.completed", "step", i, "agent_id", id, "output_len", len(out))
		current = out
	}

	return current, nil
}

// CompileSteps parses and validates every step template.
func CompileSteps(steps []Step) ([]*util.Template, error) {
	out := make([]*util.Template, len(steps))
	for i, step := range steps {
		if step.Responder == nil {
			return nil, &core.TemplateError{StepIndex: i, Template: step.Template, Message: "step has no responder"}
		}

		tmpl, err := util.ParseTemplate(step.Template)
		if err != nil {
			return nil, &core.TemplateError{StepIndex: i, Template: step.Template, Message: err.Error()}
		}

		if n := tmpl.Count(InputVar); n != 1 {
			return nil, &core.TemplateError{
				StepIndex: i,
				Template:  step.Template,
				Message:   fmt.Sprintf("template must reference {%s} exactly once, found %d", InputVar, n),
			}
		}

		for _, name := range tmpl.Vars() {
			if name == InputVar {
				continue
			}
			if _, ok := step.Vars[name]; !ok {
				return nil, &core.TemplateError{
					StepIndex: i,
					Template:  step.Template,
					Message:   fmt.Sprintf("no value for placeholder {%s}", name),
				}
			}
		}

		out[i] = tmpl
	}

	return out, nil
}

func stepID(step Step, i int) string {
	if step.ID != "" {
		return step.ID
	}
	if h, ok := step.Responder.(*Handle); ok {
		return h.ID()
	}
	return fmt.Sprintf("step-%d", i)
}
