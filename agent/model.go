package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/logging"
	"github.com/hupe1980/conclave/model"
	"github.com/hupe1980/conclave/tool"
)

// ErrMaxToolRounds is returned when the model keeps requesting tools past
// ModelResponderOptions.MaxToolRounds.
var ErrMaxToolRounds = errors.New("model exceeded tool round limit")

// ModelResponderOptions configures a ModelResponder.
type ModelResponderOptions struct {
	Instruction Instruction
	// Tools exposes function calling; nil disables it.
	Tools *tool.Registry
	// Memory supplies context before and records exchanges after each call.
	Memory core.MemoryStore
	// MemoryLimit caps the number of relevant memories injected per call.
	MemoryLimit int
	// MaxToolRounds bounds model/tool round trips per call.
	MaxToolRounds int
	Logger        logging.Logger
}

// ModelResponder is a core.Responder backed by a language model with optional
// tool calling and memory.
type ModelResponder struct {
	name          string
	llm           model.Model
	instruction   Instruction
	tools         *tool.Registry
	memory        core.MemoryStore
	memoryLimit   int
	maxToolRounds int
	logger        logging.Logger
}

// NewModelResponder creates a responder named name on top of llm.
func NewModelResponder(name string, llm model.Model, optFns ...func(o *ModelResponderOptions)) *ModelResponder {
	opts := ModelResponderOptions{
		Instruction:   NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		MemoryLimit:   5,
		MaxToolRounds: 5,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &ModelResponder{
		name:          name,
		llm:           llm,
		instruction:   opts.Instruction,
		tools:         opts.Tools,
		memory:        opts.Memory,
		memoryLimit:   opts.MemoryLimit,
		maxToolRounds: opts.MaxToolRounds,
		logger:        logging.OrNoOp(opts.Logger),
	}
}

// Name returns the responder name.
func (r *ModelResponder) Name() string { return r.name }

// Model returns the underlying model.
func (r *ModelResponder) Model() model.Model { return r.llm }

// Respond implements core.Responder.
func (r *ModelResponder) Respond(ctx context.Context, prompt string) (string, error) {
	instructions, err := r.instruction.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve instruction: %w", err)
	}

	contents, err := r.buildContents(ctx, prompt)
	if err != nil {
		return "", err
	}

	req := model.Request{Instructions: instructions, Contents: contents}
	if r.tools != nil && r.tools.Len() > 0 {
		req.Tools = r.tools.Definitions()
	}

	info := r.llm.Info()

	for round := 0; ; round++ {
		start := time.Now()
		resp, err := model.Collect(ctx, r.llm, req)

		tokens := 0
		if resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		}
		logging.LLMCall(r.logger, info.Name, tokens, time.Since(start), err)

		if err != nil {
			return "", err
		}

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 || r.tools == nil {
			answer := resp.Content.Text()
			if r.memory != nil {
				if err := r.memory.StoreExchange(ctx, prompt, answer); err != nil {
					r.logger.Warn("memory.store_exchange.error", "agent", r.name, "error", err.Error())
				}
			}
			return answer, nil
		}

		if round >= r.maxToolRounds {
			return "", fmt.Errorf("%w (%d)", ErrMaxToolRounds, r.maxToolRounds)
		}

		req.Contents = append(req.Contents, resp.Content, r.runTools(ctx, calls))
	}
}

func (r *ModelResponder) buildContents(ctx context.Context, prompt string) ([]core.Content, error) {
	var contents []core.Content

	if r.memory != nil && r.memoryLimit > 0 {
		items, err := r.memory.RetrieveRelevant(ctx, prompt, r.memoryLimit)
		if err != nil {
			return nil, fmt.Errorf("retrieve memory: %w", err)
		}
		if len(items) > 0 {
			var sb strings.Builder
			sb.WriteString("Relevant context from memory:\n")
			// Oldest first reads as a transcript.
			for i := len(items) - 1; i >= 0; i-- {
				sb.WriteString("- ")
				sb.WriteString(items[i].Content)
				sb.WriteString("\n")
			}
			contents = append(contents, core.NewTextContent("user", sb.String()))
		}
	}

	return append(contents, core.NewTextContent("user", prompt)), nil
}

func (r *ModelResponder) runTools(ctx context.Context, calls []core.FunctionCall) core.Content {
	parts := make([]core.Part, 0, len(calls))
	for _, fc := range calls {
		res := r.tools.ExecuteJSON(ctx, fc.Name, fc.Arguments)

		fr := core.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: res.Result}
		if !res.Success {
			fr.Error = res.Error
		}
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
	}

	return core.Content{Role: "tool", Parts: parts}
}
