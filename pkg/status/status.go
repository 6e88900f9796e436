// Package status keeps stored election phases in line with their time windows.
package status

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"election_engine/pkg/data"
	"election_engine/pkg/events"
)

// DerivePhase returns the phase implied by the time window: upcoming before
// start, active from start through end inclusive, completed afterwards.
func DerivePhase(now, start, end time.Time) data.Phase {
	switch {
	case now.Before(start):
		return data.PhaseUpcoming
	case now.After(end):
		return data.PhaseCompleted
	default:
		return data.PhaseActive
	}
}

// Result summarizes one reconcile pass
type Result struct {
	Checked int
	Updated int
	Failed  int
}

// Engine reconciles stored phases with DerivePhase
type Engine struct {
	repo      data.Repository
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a phase engine that reads and updates elections through repo
func NewEngine(repo data.Repository, publisher events.Publisher, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		publisher: publisher,
		logger:    logger.Named("status"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile loads every time-tracked election and moves those whose stored
// phase diverges from the derived one. A failure on one election is logged and
// does not stop the batch; only a failure to load the batch is returned.
func (e *Engine) Reconcile(ctx context.Context) (Result, error) {
	elections, err := e.repo.ListTimeTrackedElections(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing time-tracked elections: %w", err)
	}

	now := e.now().UTC()
	var res Result
	for _, election := range elections {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++

		changed, err := e.reconcileOne(ctx, election, now)
		if err != nil {
			res.Failed++
			e.logger.Error("Failed to update election phase",
				zap.Int64("electionID", election.ID),
				zap.Error(err))
			continue
		}
		if changed {
			res.Updated++
		}
	}

	if res.Updated > 0 || res.Failed > 0 {
		e.logger.Info("Phase reconciliation completed",
			zap.Int("checked", res.Checked),
			zap.Int("updated", res.Updated),
			zap.Int("failed", res.Failed))
	}
	return res, nil
}

func (e *Engine) reconcileOne(ctx context.Context, election *data.Election, now time.Time) (bool, error) {
	target := DerivePhase(now, election.StartTime, election.EndTime)
	if target == election.Phase {
		return false, nil
	}

	updated, err := e.repo.UpdatePhase(ctx, election.ID, election.Phase, target, now)
	if err != nil {
		return false, err
	}
	if !updated {
		// someone else moved it first
		e.logger.Debug("Phase changed concurrently",
			zap.Int64("electionID", election.ID),
			zap.Stringer("expected", election.Phase))
		return false, nil
	}

	e.logger.Info("Election phase updated",
		zap.Int64("electionID", election.ID),
		zap.Stringer("from", election.Phase),
		zap.Stringer("to", target))

	if err := e.publisher.Publish(ctx, events.PhaseChanged(election.ID, election.Phase, target, now)); err != nil {
		e.logger.Warn("Failed to publish phase change",
			zap.Int64("electionID", election.ID),
			zap.Error(err))
	}
	return true, nil
}
