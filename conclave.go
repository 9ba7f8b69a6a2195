// Package conclave provides a high-level façade over the coordinator and its
// services (memory, similarity and logging) for building multi-agent
// ensembles. Most applications interact with this package by:
//  1. Creating a Conclave via New() (optionally overriding the defaults)
//  2. Registering agent handles (model responders, remote NATS agents, custom)
//  3. Calling Coordinate with a task and a strategy
//
// The façade delegates every run to coordinator.Coordinator and keeps the
// roster of handles. All defaults are safe for local development and testing;
// production deployments typically supply a durable memory store and a
// structured logger.
package conclave

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/conclave/agent"
	"github.com/hupe1980/conclave/coordinator"
	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/logging"
	"github.com/hupe1980/conclave/memory"
	"github.com/hupe1980/conclave/similarity"
)

var (
	// ErrDuplicateAgent is returned when registering an id twice.
	ErrDuplicateAgent = errors.New("agent already registered")
	// ErrInvalidHandle is returned when registering a nil handle or one
	// without an id.
	ErrInvalidHandle = errors.New("invalid handle")
)

// Options configures the Conclave instance.
type Options struct {
	// Config tunes coordination runs (defaults to coordinator.DefaultConfig).
	Config coordinator.Config

	// MemoryStore receives resolved exchanges. Defaults to an in-memory store;
	// set DisableMemory to run without one.
	MemoryStore   core.MemoryStore
	DisableMemory bool

	// Similarity drives the debate consensus check (defaults to
	// similarity.Jaccard, nil disables it).
	Similarity core.SimilarityFunc

	Callbacks *coordinator.CallbackManager

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Conclave is the high-level façade aggregating a roster of handles and the
// coordinator.
type Conclave struct {
	mu          sync.RWMutex
	handles     []*agent.Handle
	memory      core.MemoryStore
	coordinator *coordinator.Coordinator
}

// New creates a new Conclave instance with optional overrides.
func New(optFns ...func(o *Options)) *Conclave {
	opts := Options{
		Config:     coordinator.DefaultConfig,
		Similarity: similarity.Jaccard,
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MemoryStore == nil && !opts.DisableMemory {
		opts.MemoryStore = memory.NewInMemoryStore()
	}
	if opts.DisableMemory {
		opts.MemoryStore = nil
	}

	c := coordinator.New(func(o *coordinator.Options) {
		o.Config = opts.Config
		o.Similarity = opts.Similarity
		o.Memory = opts.MemoryStore
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
	})

	return &Conclave{memory: opts.MemoryStore, coordinator: c}
}

// Register adds handles to the roster. The batch is rejected as a whole
// when any handle is nil, has an empty id or duplicates a registered id.
func (c *Conclave) Register(handles ...*agent.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(handles))
	for i, h := range handles {
		if h == nil {
			return fmt.Errorf("%w: handle %d is nil", ErrInvalidHandle, i)
		}
		if h.ID() == "" {
			return fmt.Errorf("%w: handle %d has an empty id", ErrInvalidHandle, i)
		}
		if _, dup := seen[h.ID()]; dup || agent.FindByID(c.handles, h.ID()) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateAgent, h.ID())
		}
		seen[h.ID()] = struct{}{}
	}

	c.handles = append(c.handles, handles...)

	return nil
}

// Unregister removes the handle with the given id and reports whether it
// existed.
func (c *Conclave) Unregister(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, h := range c.handles {
		if h.ID() == id {
			c.handles = append(c.handles[:i:i], c.handles[i+1:]...)
			return true
		}
	}
	return false
}

// Handles returns a snapshot of the roster in registration order.
func (c *Conclave) Handles() []*agent.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]*agent.Handle(nil), c.handles...)
}

// Memory returns the configured memory store (nil when disabled).
func (c *Conclave) Memory() core.MemoryStore { return c.memory }

// Coordinator exposes the underlying coordinator.
func (c *Conclave) Coordinator() *coordinator.Coordinator { return c.coordinator }

// Coordinate runs task over the registered roster.
func (c *Conclave) Coordinate(ctx context.Context, task string, strategy coordinator.Strategy) (*coordinator.Result, error) {
	return c.coordinator.Coordinate(ctx, coordinator.Request{
		Task:     task,
		Strategy: strategy,
		Handles:  c.Handles(),
	})
}

// CoordinateRequest runs req, filling in the roster when req.Handles is empty.
func (c *Conclave) CoordinateRequest(ctx context.Context, req coordinator.Request) (*coordinator.Result, error) {
	if len(req.Handles) == 0 {
		req.Handles = c.Handles()
	}
	return c.coordinator.Coordinate(ctx, req)
}
