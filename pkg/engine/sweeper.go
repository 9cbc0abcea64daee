package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
	"github.com/conductor-mcp/conductor/pkg/store"
	"github.com/conductor-mcp/conductor/pkg/telemetry"
)

// Sweeper periodically fails executions stuck in running past their timeout
// budget. The sweep is advisory: executions without a timeout_ms are never
// touched.
type Sweeper struct {
	store     *store.Store
	machine   *StateMachine
	telemetry *telemetry.Recorder
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time
}

// NewSweeper returns a sweeper running at the given interval.
func NewSweeper(st *store.Store, machine *StateMachine, rec *telemetry.Recorder, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     st,
		machine:   machine,
		telemetry: rec,
		logger:    logger.With("component", "sweeper"),
		interval:  interval,
		now:       time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Timeout sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Timeout sweeper stopped")
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.logger.Info("Swept timed-out executions", "count", n)
			}
		}
	}
}

// Sweep performs one pass and returns how many executions it failed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired, err := store.ListTimedOutExecutions(ctx, s.store.DB(), s.now())
	if err != nil {
		s.logger.Warn("Timeout scan failed", "error", err)
		return 0
	}

	failed := 0
	for _, exec := range expired {
		if err := s.machine.Transition(ctx, exec.ExecutionID, workflow.StateFailed, exec.CurrentStep); err != nil {
			s.logger.Warn("Failed to time out execution", "execution_id", exec.ExecutionID, "error", err)
			continue
		}
		s.telemetry.Record(ctx, telemetry.Event{
			Type:        telemetry.EventWorkflowFailed,
			ExecutionID: exec.ExecutionID,
			Metadata:    map[string]any{"reason": "timeout", "timeout_ms": exec.TimeoutMS},
		})
		failed++
	}
	return failed
}
