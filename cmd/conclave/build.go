package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	oai "github.com/openai/openai-go"

	"github.com/hupe1980/conclave/agent"
	"github.com/hupe1980/conclave/coordinator"
	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/internal/config"
	"github.com/hupe1980/conclave/logging"
	"github.com/hupe1980/conclave/memory"
	"github.com/hupe1980/conclave/model"
	anthropicmodel "github.com/hupe1980/conclave/model/anthropic"
	openaimodel "github.com/hupe1980/conclave/model/openai"
	"github.com/hupe1980/conclave/natsbus"
	"github.com/hupe1980/conclave/similarity"
	"github.com/hupe1980/conclave/tool"
)

// stack holds everything built from a config for one process.
type stack struct {
	cfg        *config.Config
	logger     logging.Logger
	memory     core.Memory
	similarity core.SimilarityFunc
	nats       *natsbus.Client
	handles    []*agent.Handle
	closers    []func() error
}

func newLogger(cfg config.LoggingConfig, out io.Writer) *logging.ConclaveLogger {
	level, _ := logging.ParseLevel(cfg.Level)
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Format,
		Output:    out,
		AddSource: cfg.AddSource,
		Component: "conclave",
	})
}

// build wires memory, similarity, the optional NATS client and one handle per
// configured agent. nc may be nil; it is only dialed when a nats agent needs it.
func build(cfg *config.Config, logger logging.Logger, nc *natsbus.Client) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger, nats: nc}

	mem, closeMem, err := openMemory(cfg.Memory)
	if err != nil {
		return nil, err
	}
	s.memory = mem
	if closeMem != nil {
		s.closers = append(s.closers, closeMem)
	}

	if err := s.wire(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// reload builds a stack for cfg that keeps the memory and NATS client of s.
// The new stack takes over the closers of s.
func (s *stack) reload(cfg *config.Config) (*stack, error) {
	next := &stack{cfg: cfg, logger: s.logger, memory: s.memory, nats: s.nats}
	if err := next.wire(); err != nil {
		_ = next.Close()
		return nil, err
	}

	next.closers = append(s.closers, next.closers...)
	s.closers = nil

	return next, nil
}

func (s *stack) wire() error {
	var err error
	if s.similarity, err = buildSimilarity(s.cfg.Similarity); err != nil {
		return err
	}

	for _, a := range s.cfg.Agents {
		h, err := s.buildHandle(a)
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}
		s.handles = append(s.handles, h)
	}

	return nil
}

// Close releases the resources in reverse order of acquisition.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func openMemory(cfg config.MemoryConfig) (core.Memory, func() error, error) {
	withMax := func(o *memory.Options) {
		if cfg.MaxItems > 0 {
			o.MaxItems = cfg.MaxItems
		}
	}

	switch cfg.Backend {
	case config.MemoryInMemory:
		return memory.NewInMemoryStore(withMax), nil, nil
	case config.MemorySQLite:
		db, err := memory.NewSQLiteStore(cfg.Path, withMax)
		if err != nil {
			return nil, nil, fmt.Errorf("open memory: %w", err)
		}
		return db, db.Close, nil
	case config.MemorySnapshot:
		m, err := memory.LoadSnapshot(cfg.Path, withMax)
		if err != nil {
			return nil, nil, fmt.Errorf("load memory snapshot: %w", err)
		}
		return m, func() error { return memory.SaveSnapshot(cfg.Path, m) }, nil
	default:
		return nil, nil, nil
	}
}

func buildSimilarity(cfg config.SimilarityConfig) (core.SimilarityFunc, error) {
	switch cfg.Kind {
	case config.SimilarityLexical:
		return similarity.Jaccard, nil
	case config.SimilarityEmbedding:
		e := openaimodel.NewEmbedder(func(o *openaimodel.EmbedderOptions) {
			o.Model = oai.EmbeddingModel(cfg.Model)
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		})
		es, err := similarity.FromEmbedder(e, func(o *similarity.EmbeddingOptions) {
			o.CacheSize = cfg.CacheSize
		})
		if err != nil {
			return nil, fmt.Errorf("embedding similarity: %w", err)
		}
		return es.Func(), nil
	default:
		return nil, nil
	}
}

func (s *stack) buildHandle(a config.AgentConfig) (*agent.Handle, error) {
	var r core.Responder

	switch a.Provider {
	case config.ProviderAnthropic:
		llm := anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.APIKey = a.APIKey
			o.BaseURL = a.BaseURL
			if a.Model != "" {
				o.Model = anthropic.Model(a.Model)
			}
			if a.Temperature != nil {
				o.Temperature = *a.Temperature
			}
			if a.MaxTokens > 0 {
				o.MaxTokens = int64(a.MaxTokens)
			}
		})
		r = s.modelResponder(a, llm)

	case config.ProviderOpenAI:
		llm := openaimodel.NewModel(func(o *openaimodel.Options) {
			o.APIKey = a.APIKey
			o.BaseURL = a.BaseURL
			if a.Model != "" {
				o.Model = a.Model
			}
			if a.Temperature != nil {
				o.Temperature = *a.Temperature
			}
			if a.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(a.MaxTokens)
			}
		})
		r = s.modelResponder(a, llm)

	case config.ProviderMock:
		if a.Answer != "" {
			answer := a.Answer
			r = core.ResponderFunc(func(context.Context, string) (string, error) { return answer, nil })
		} else {
			r = s.modelResponder(a, model.NewMockModel(a.ID, "mock"))
		}

	case config.ProviderNATS:
		if s.nats == nil {
			nc, err := natsbus.NewClientFromURL(natsAddress(s.cfg.NATS))
			if err != nil {
				return nil, err
			}
			s.nats = nc
			s.closers = append(s.closers, func() error { nc.Close(); return nil })
		}
		subject := a.Subject
		if subject == "" {
			subject = natsbus.SubjectRespond(a.ID)
		}
		r = natsbus.NewResponder(s.nats, subject, func(o *natsbus.ResponderOptions) {
			o.Timeout = s.cfg.NATS.Timeout
		})

	default:
		return nil, fmt.Errorf("unknown provider %q", a.Provider)
	}

	return agent.NewHandle(a.ID, r, func(o *agent.HandleOptions) {
		o.Tags = a.Tags
		o.RateLimit = a.RateLimit
		o.Burst = a.Burst
		if a.Description != "" {
			o.Description = a.Description
		}
	}), nil
}

func natsAddress(cfg config.NATSConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("nats://%s:%d", cfg.Host, cfg.Port)
}

func (s *stack) modelResponder(a config.AgentConfig, llm model.Model) *agent.ModelResponder {
	return agent.NewModelResponder(a.ID, llm, func(o *agent.ModelResponderOptions) {
		o.Logger = s.logger
		if a.Instruction != "" {
			o.Instruction = agent.NewInstructionFromText(a.Instruction)
		}
		if a.MaxToolRounds > 0 {
			o.MaxToolRounds = a.MaxToolRounds
		}
		if s.memory != nil {
			o.Memory = s.memory
			o.MemoryLimit = s.cfg.Memory.Limit
			o.Tools = tool.NewRegistry([]tool.Tool{tool.NewMemoryManagerTool(s.memory)}, func(ro *tool.RegistryOptions) {
				ro.Logger = s.logger
			})
		}
	})
}

// newCoordinator builds a Coordinator over the stack's memory and similarity.
func (s *stack) newCoordinator() *coordinator.Coordinator {
	return coordinator.New(func(o *coordinator.Options) {
		o.Config = s.cfg.CoordinatorConfig()
		o.Logger = s.logger
		o.Similarity = s.similarity
		if s.memory != nil {
			o.Memory = s.memory
		}
	})
}

// request assembles a coordination request over the stack's handles,
// resolving role overrides by id.
func (s *stack) request(task string, strategy coordinator.Strategy) coordinator.Request {
	return coordinator.Request{
		Task:       task,
		Strategy:   strategy,
		Handles:    s.handles,
		Manager:    agent.FindByID(s.handles, s.cfg.Coordination.Manager),
		TieBreaker: agent.FindByID(s.handles, s.cfg.Coordination.TieBreaker),
	}
}
