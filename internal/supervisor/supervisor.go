// Package supervisor owns process-wide lifecycle: it initialises the
// store, loads configuration, starts every component in declared order,
// and traps termination signals to stop them again in reverse order.
// Per spec §9 ("prefer an explicit context/handle passed into ingress
// handlers over hidden process-global state; tests must be able to
// construct multiple isolated engines in one process"), a Supervisor is
// an ordinary value a test can construct as many of as it likes in one
// process — there is no package-level singleton.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Component is one independently-stoppable piece of the engine: the HTTP
// server, the task queue's worker pool, the scheduler's periodic jobs.
// Configure runs just before the component's own Start, after every
// earlier component has been configured and started (and again on each
// Restart), so a component can rely on the state its predecessors set up
// (e.g. the store's migrated schema). Stop must be
// idempotent and safe to call even if Start was never reached.
type Component interface {
	Name() string
	Configure(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// FuncComponent adapts a set of plain functions to Component, so each
// concrete subsystem (store, queue, scheduler, HTTP server, event bus)
// can be wired in without depending on the supervisor package itself.
// A nil function is treated as a no-op.
type FuncComponent struct {
	NameStr     string
	ConfigureFn func(ctx context.Context) error
	StartFn     func(ctx context.Context) error
	StopFn      func(ctx context.Context) error
}

func (f *FuncComponent) Name() string { return f.NameStr }

func (f *FuncComponent) Configure(ctx context.Context) error {
	if f.ConfigureFn == nil {
		return nil
	}
	return f.ConfigureFn(ctx)
}

func (f *FuncComponent) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f *FuncComponent) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

// RestartGap is the pause between Stop and Start on Restart, giving
// sockets and file handles time to release per spec §4.7.
const RestartGap = 1 * time.Second

// Supervisor runs a fixed, ordered list of Components.
type Supervisor struct {
	logger     *zap.Logger
	components []Component
}

// New builds a Supervisor over components, started in the given order
// and stopped in the reverse order.
func New(logger *zap.Logger, components ...Component) *Supervisor {
	return &Supervisor{logger: logger, components: components}
}

// Start configures then starts every component in order. If any
// component fails, the components already started are stopped (reverse
// order) before the error is returned — a partially-up engine is never
// left running.
func (s *Supervisor) Start(ctx context.Context) error {
	for i, c := range s.components {
		if err := c.Configure(ctx); err != nil {
			s.stopFrom(ctx, i-1)
			return fmt.Errorf("supervisor: configure %s: %w", c.Name(), err)
		}
		if err := c.Start(ctx); err != nil {
			s.stopFrom(ctx, i-1)
			return fmt.Errorf("supervisor: start %s: %w", c.Name(), err)
		}
		s.logger.Info("component started", zap.String("component", c.Name()))
	}
	return nil
}

// Stop stops every component in reverse declared order. Each component's
// Stop is best-effort: an error is logged but never aborts the shutdown
// of the remaining components, per spec §4.7.
func (s *Supervisor) Stop(ctx context.Context) {
	s.stopFrom(ctx, len(s.components)-1)
}

func (s *Supervisor) stopFrom(ctx context.Context, lastIdx int) {
	for i := lastIdx; i >= 0; i-- {
		c := s.components[i]
		if err := c.Stop(ctx); err != nil {
			s.logger.Error("component stop failed", zap.String("component", c.Name()), zap.Error(err))
			continue
		}
		s.logger.Info("component stopped", zap.String("component", c.Name()))
	}
}

// Restart stops every component, waits RestartGap, then starts them
// again.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.Stop(ctx)
	time.Sleep(RestartGap)
	return s.Start(ctx)
}

// Run starts every component and blocks until SIGINT/SIGTERM is
// received, then stops them and returns. It is the entry point cmd's
// main() calls.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		s.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	}

	s.Stop(context.Background())
	return nil
}
