// Package supervisor wires the store, dispatcher, executor, evaluator
// and improvement engine together and owns process lifecycle: startup
// reconciliation, the improvement sweep ticker and graceful shutdown.
package supervisor

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"conductor/internal/config"
	"conductor/internal/dispatcher"
	"conductor/internal/evaluator"
	"conductor/internal/executor"
	"conductor/internal/improve"
	"conductor/internal/runner"
	"conductor/internal/store"
)

// Supervisor owns the orchestrator's long-running loops.
type Supervisor struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *store.Store
	dispatcher *dispatcher.Dispatcher
	engine     *improve.Engine
}

// New opens the store and wires all components.
func New(cfg config.Config, logger *zap.Logger) (*Supervisor, error) {
	st, err := store.Open(cfg.Store.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	rn := runner.NewDirect(logger)
	ev := evaluator.New(st, rn, cfg, logger)
	exec := executor.New(st, rn, cfg, logger, ev)

	return &Supervisor{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		dispatcher: dispatcher.New(st, exec, cfg, logger),
		engine:     improve.New(st, rn, exec, cfg, logger),
	}, nil
}

// Store exposes the opened store for one-shot commands.
func (s *Supervisor) Store() *store.Store {
	return s.store
}

// Engine exposes the improvement engine for one-shot commands.
func (s *Supervisor) Engine() *improve.Engine {
	return s.engine
}

// Close releases the store.
func (s *Supervisor) Close() error {
	return s.store.Close()
}

// Run reconciles stale state, then runs the dispatcher loop and the
// improvement sweep ticker until ctx is canceled or a signal arrives.
// In-flight runs are waited for, not killed.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A running row older than twice its timeout can only be a crash
	// leftover; no live subprocess survives that long.
	stale := 2 * s.cfg.RunTimeout()
	reconciled, err := s.store.ReconcileStaleRuns(stale)
	if err != nil {
		return err
	}
	if reconciled > 0 {
		s.logger.Warn("stale runs reconciled at startup", zap.Int("count", reconciled))
	}

	s.logger.Info("supervisor started",
		zap.String("database", s.cfg.Store.DatabasePath),
		zap.String("assistant", s.cfg.Assistant.Binary),
		zap.Duration("sweep_interval", s.cfg.SweepInterval()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return s.sweepLoop(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		s.logger.Info("supervisor stopped")
		return nil
	}
	return err
}

// sweepLoop ticks the improvement engine. Sweeps run on the supervisor
// goroutine, one project at a time.
func (s *Supervisor) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.engine.Sweep(ctx)
		}
	}
}
