// Package bootstrap holds the startup and teardown every binary shares:
// dotenv, config, the process logger and ordered resource shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/orderdesk/pkg/config"
	"github.com/angelmondragon/orderdesk/pkg/instance"
	"github.com/angelmondragon/orderdesk/pkg/logger"
)

type closer struct {
	name string
	fn   func() error
}

// Process is a started binary: its config, logger and the resources it must
// release on the way out.
type Process struct {
	Kind    string
	Config  *config.Config
	Logger  *logger.Logger
	closers []closer
}

// Start loads .env when present, parses config and builds the process logger.
func Start(kind string) (*Process, error) {
	boot := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		boot.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	return &Process{
		Kind:   kind,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       cfg.App.LogLevel,
			WarnStack:   cfg.App.LogWarnStack,
			Fields:      map[string]any{"instance": instance.GetID()},
		}),
	}, nil
}

// Context is cancelled on SIGINT or SIGTERM and carries the process fields.
func (p *Process) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return p.Logger.WithFields(ctx, map[string]any{
		"env":         p.Config.App.Env,
		"serviceKind": p.Kind,
	}), stop
}

// Defer registers fn to run on Close. Closers run in reverse order.
func (p *Process) Defer(name string, fn func() error) {
	if fn == nil {
		return
	}
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Close releases every deferred resource, logging and collecting failures.
func (p *Process) Close() error {
	var errs error
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			err = fmt.Errorf("close %s: %w", c.name, err)
			p.Logger.Error(context.Background(), "shutdown step failed", err)
			errs = multierr.Append(errs, err)
		}
	}
	p.closers = nil
	return errs
}

// Exit closes the process and terminates it. A nil err exits cleanly.
func (p *Process) Exit(ctx context.Context, err error) {
	closeErr := p.Close()
	if err != nil {
		p.Logger.Error(ctx, p.Kind+" stopped unexpectedly", err)
		os.Exit(1)
	}
	p.Logger.Info(ctx, p.Kind+" shut down")
	if closeErr != nil {
		os.Exit(1)
	}
}

// Abort reports a failure that happened before a Process existed.
func Abort(kind string, err error) {
	logger.New(logger.Options{ServiceName: kind}).Error(context.Background(), "startup failed", err)
	os.Exit(1)
}
