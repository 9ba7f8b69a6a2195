package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/conclave/coordinator"
	"github.com/hupe1980/conclave/internal/config"
	"github.com/hupe1980/conclave/logging"
	"github.com/hupe1980/conclave/natsbus"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file")
	noWatch := fs.Bool("no-watch", false, "do not reload the config file on change")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, os.Stderr)
	logger.Info("conclave.starting", "version", version, "agents", len(cfg.Agents))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, shutdown, err := connect(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	srv := newServer(nc, logger)
	if err := srv.start(cfg); err != nil {
		return err
	}
	defer srv.Close()

	if cfg.Path != "" && !*noWatch {
		go func() {
			if err := config.Watch(ctx, cfg.Path, logger, srv.reload); err != nil {
				logger.Error("config.watch.failed", "error", err.Error())
			}
		}()
	}

	<-ctx.Done()
	logger.Info("conclave.shutdown")

	return nil
}

// connect dials cfg.URL or starts an embedded server when it is empty.
func connect(cfg config.NATSConfig, logger logging.Logger) (*natsbus.Client, func(), error) {
	if cfg.URL != "" {
		nc, err := natsbus.NewClientFromURL(cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("nats.connected", "url", cfg.URL)
		return nc, nc.Close, nil
	}

	bus, err := natsbus.New(func(o *natsbus.BusOptions) {
		o.Host = cfg.Host
		o.Port = cfg.Port
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init nats: %w", err)
	}

	nc, err := natsbus.NewClient(bus)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	logger.Info("nats.started", "url", bus.ClientURL())

	return nc, func() {
		nc.Close()
		bus.Close()
	}, nil
}

// server owns the subscriptions of a serve node. A reload swaps the stack
// and its subscriptions under mu.
type server struct {
	nc     *natsbus.Client
	logger logging.Logger

	mu    sync.Mutex
	stack *stack
	subs  []*nats.Subscription
}

func newServer(nc *natsbus.Client, logger logging.Logger) *server {
	return &server{nc: nc, logger: logger}
}

func (s *server) start(cfg *config.Config) error {
	st, err := build(cfg, s.logger, s.nc)
	if err != nil {
		return err
	}

	subs, err := s.subscribe(st)
	if err != nil {
		_ = st.Close()
		return err
	}

	s.mu.Lock()
	s.stack, s.subs = st, subs
	s.mu.Unlock()

	return nil
}

// subscribe serves every local agent on its respond subject plus the
// coordination subject.
func (s *server) subscribe(st *stack) ([]*nats.Subscription, error) {
	var subs []*nats.Subscription
	fail := func(err error) ([]*nats.Subscription, error) {
		unsubscribe(subs)
		return nil, err
	}

	withOpts := func(o *natsbus.ServeOptions) {
		o.Logger = s.logger
		o.Timeout = st.cfg.Coordination.PerCallTimeout
	}

	for i, a := range st.cfg.Agents {
		// Remote agents are served by their own nodes.
		if a.Provider == config.ProviderNATS {
			continue
		}
		sub, err := natsbus.ServeResponder(s.nc, natsbus.SubjectRespond(a.ID), st.handles[i], withOpts)
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}

	sub, err := natsbus.ServeFunc(s.nc, natsbus.SubjectCoordinate, coordinateHandler(st), func(o *natsbus.ServeOptions) {
		o.Logger = s.logger
	})
	if err != nil {
		return fail(err)
	}
	subs = append(subs, sub)

	return subs, s.nc.Flush()
}

// reload rebuilds the stack for a changed config. Memory and NATS settings
// only take effect after a restart.
func (s *server) reload(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	diff := config.Compare(s.stack.cfg, cfg)
	if !diff.HasChanges() {
		return
	}
	if len(diff.NonReloadable) > 0 {
		s.logger.Warn("config.reload.restart_required", "sections", diff.NonReloadable)
		cfg.Logging, cfg.Memory, cfg.NATS = s.stack.cfg.Logging, s.stack.cfg.Memory, s.stack.cfg.NATS
	}

	next, err := s.stack.reload(cfg)
	if err != nil {
		s.logger.Error("config.reload.failed", "error", err.Error())
		return
	}

	unsubscribe(s.subs)
	subs, err := s.subscribe(next)
	if err != nil {
		s.logger.Error("config.reload.subscribe_failed", "error", err.Error())
	}

	s.stack, s.subs = next, subs
	s.logger.Info("config.applied",
		"added", diff.AgentsAdded,
		"removed", diff.AgentsRemoved,
		"changed", diff.AgentsChanged,
		"coordination", diff.CoordinationChanged,
		"similarity", diff.SimilarityChanged,
	)
}

// Close drops the subscriptions and releases the stack.
func (s *server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	unsubscribe(s.subs)
	s.subs = nil
	if s.stack != nil {
		if err := s.stack.Close(); err != nil {
			s.logger.Warn("conclave.close.failed", "error", err.Error())
		}
	}
}

func unsubscribe(subs []*nats.Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// coordinateHandler answers natsbus.CoordinateRequests with the JSON result
// of a run over st.
func coordinateHandler(st *stack) natsbus.HandlerFunc {
	coord := st.newCoordinator()

	return func(ctx context.Context, data []byte) ([]byte, error) {
		var in natsbus.CoordinateRequest
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}

		name := in.Strategy
		if name == "" {
			name = st.cfg.Coordination.Strategy
		}
		strategy, err := coordinator.ParseStrategy(name)
		if err != nil {
			return nil, err
		}

		ctx, cancel := in.Context(ctx)
		defer cancel()

		req := st.request(in.Task, strategy)
		req.Timeout = time.Duration(in.TimeoutMS) * time.Millisecond

		res, err := coord.Coordinate(ctx, req)
		if err != nil {
			return nil, err
		}

		return json.Marshal(res)
	}
}
