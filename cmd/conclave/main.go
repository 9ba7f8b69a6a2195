package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hupe1980/conclave/coordinator"
	"github.com/hupe1980/conclave/internal/config"
	"github.com/hupe1980/conclave/natsbus"
)

var version = "dev"

// errNoWinner is returned by run when the coordination completed without
// a winner. The result is still printed.
var errNoWinner = errors.New("no winner")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("conclave %s\n", version)
	case "run":
		err = runTask(os.Args[2:], os.Stdout)
	case "validate":
		err = runValidate(os.Args[2:], os.Stdout)
	case "serve":
		err = runServe(os.Args[2:])
	case "ask":
		err = runAsk(os.Args[2:], os.Stdout)
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		if errors.Is(err, errNoWinner) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: conclave <command> [flags]

Commands:
  run       Coordinate a task across the configured agents
  validate  Check a config file
  serve     Serve the configured agents and coordination over NATS
  ask       Send a task to a running serve node
  version   Print version
`)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func taskFrom(fs *flag.FlagSet) (string, error) {
	task := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if task == "" {
		return "", errors.New("missing task")
	}
	return task, nil
}

func runTask(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	strategyName := fs.String("strategy", "", "coordination strategy (default from config)")
	format := fs.String("format", formatPretty, "output format: json or pretty")
	timeout := fs.Duration("timeout", 0, "overall timeout (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	task, err := taskFrom(fs)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *strategyName == "" {
		*strategyName = cfg.Coordination.Strategy
	}
	strategy, err := coordinator.ParseStrategy(*strategyName)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, os.Stderr)

	s, err := build(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("conclave.close.failed", "error", err.Error())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := s.request(task, strategy)
	req.Timeout = *timeout

	res, err := s.newCoordinator().Coordinate(ctx, req)
	if err != nil {
		return err
	}

	if err := printResult(out, *format, res); err != nil {
		return err
	}
	if res.Outcome != nil {
		return fmt.Errorf("%w: %w", errNoWinner, res.Outcome)
	}

	return nil
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	source := cfg.Path
	if source == "" {
		source = "defaults"
	}
	_, err = fmt.Fprintf(out, "%s: ok (%d agents, strategy %s)\n", source, len(cfg.Agents), cfg.Coordination.Strategy)
	return err
}

func runAsk(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file, used for the NATS address")
	url := fs.String("url", "", "NATS URL of the serve node")
	strategyName := fs.String("strategy", "", "coordination strategy (default: the serve node's)")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	task, err := taskFrom(fs)
	if err != nil {
		return err
	}
	if *strategyName != "" {
		if _, err := coordinator.ParseStrategy(*strategyName); err != nil {
			return err
		}
	}

	if *url == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		*url = natsAddress(cfg.NATS)
	}

	nc, err := natsbus.NewClientFromURL(*url)
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	payload, err := natsbus.Coordinate(ctx, nc, natsbus.CoordinateRequest{
		Task:      task,
		Strategy:  *strategyName,
		TimeoutMS: timeout.Milliseconds(),
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, string(payload))
	return err
}
