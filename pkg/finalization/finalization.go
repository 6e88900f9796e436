// Package finalization closes registration: it commits the eligible-voter set
// to the ledger as a merkle root and opens the election.
package finalization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"election_engine/pkg/data"
	"election_engine/pkg/events"
	"election_engine/pkg/ledger"
	"election_engine/pkg/merkle"
	"election_engine/pkg/utils"
)

// Outcome is what happened to one election during finalization
type Outcome string

const (
	// OutcomeFinalized: root published and election moved to upcoming
	OutcomeFinalized Outcome = "finalized"
	// OutcomeCancelled: no eligible voters, election cancelled without a ledger call
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeDeferred: left in registration for the next tick
	OutcomeDeferred Outcome = "deferred"
	// OutcomeSkipped: no longer finalizable when the lock was taken
	OutcomeSkipped Outcome = "skipped"
)

// TickResult counts outcomes of one tick
type TickResult struct {
	Finalized int
	Cancelled int
	Deferred  int
	Skipped   int
	Failed    int
}

// Scheduler finalizes due elections. Scheduled ticks and manual triggers share
// a per-election lock, so the same election is never finalized twice at once.
type Scheduler struct {
	repo      data.Repository
	ledger    ledger.Client
	publisher events.Publisher
	locks     *utils.KeyedMutex[int64]
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a finalization scheduler. Roots are published through
// client and committed to repo only after the ledger accepted them.
func NewScheduler(repo data.Repository, client ledger.Client, publisher events.Publisher, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:      repo,
		ledger:    client,
		publisher: publisher,
		locks:     utils.NewKeyedMutex[int64](),
		logger:    logger.Named("finalization"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick finalizes every election whose finalization time has passed. Failures
// are logged per election and leave it for the next tick.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	now := s.now().UTC()
	due, err := s.repo.ListFinalizableElections(ctx, now)
	if err != nil {
		return TickResult{}, fmt.Errorf("listing finalizable elections: %w", err)
	}

	var res TickResult
	for _, election := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		outcome, err := s.finalize(ctx, election.ID, false)
		switch outcome {
		case OutcomeFinalized:
			res.Finalized++
		case OutcomeCancelled:
			res.Cancelled++
		case OutcomeDeferred:
			res.Deferred++
			s.logger.Warn("Finalization deferred",
				zap.Int64("electionID", election.ID),
				zap.Error(err))
			continue
		case OutcomeSkipped:
			res.Skipped++
		}
		if err != nil {
			res.Failed++
			s.logger.Error("Finalization failed",
				zap.Int64("electionID", election.ID),
				zap.Error(err))
		}
	}

	if len(due) > 0 {
		s.logger.Info("Finalization tick completed",
			zap.Int("due", len(due)),
			zap.Int("finalized", res.Finalized),
			zap.Int("cancelled", res.Cancelled),
			zap.Int("deferred", res.Deferred),
			zap.Int("failed", res.Failed))
	}
	return res, nil
}

// Finalize runs the finalization of one election on demand, regardless of its
// finalization time. It returns a validation error when the election is not in
// registration or already carries a root, and the ledger error when publishing
// the root fails.
func (s *Scheduler) Finalize(ctx context.Context, electionID int64) (Outcome, error) {
	outcome, err := s.finalize(ctx, electionID, true)
	if err == nil && outcome == OutcomeSkipped {
		err = data.NewError(data.KindValidation, "finalize",
			fmt.Errorf("election %d is not finalizable", electionID))
	}
	return outcome, err
}

// VoterProof returns the inclusion proof of voterID against the published root.
// The root is recomputed from the stored voter set and must match.
func (s *Scheduler) VoterProof(ctx context.Context, electionID int64, voterID string) (*merkle.Proof, string, error) {
	const op = "voter proof"

	election, err := s.repo.GetElection(ctx, electionID)
	if err != nil {
		return nil, "", err
	}
	if !election.HasRoot() {
		return nil, "", data.NewError(data.KindValidation, op,
			fmt.Errorf("election %d has no published root", electionID))
	}

	voters, err := s.repo.ListEligibleVoters(ctx, electionID)
	if err != nil {
		return nil, "", fmt.Errorf("loading eligible voters: %w", err)
	}
	tree, err := merkle.Build(voters)
	if err != nil {
		return nil, "", data.NewError(data.KindValidation, op, err)
	}
	if tree.RootHex() != *election.MerkleRoot {
		return nil, "", data.NewError(data.KindValidation, op,
			fmt.Errorf("eligible voters of election %d no longer match the published root", electionID))
	}

	proof, ok := tree.Proof(voterID)
	if !ok {
		return nil, "", data.NewError(data.KindNotFound, op,
			fmt.Errorf("%w: voter %s is not eligible in election %d", data.ErrNotFound, voterID, electionID))
	}
	return proof, tree.RootHex(), nil
}

func (s *Scheduler) finalize(ctx context.Context, electionID int64, manual bool) (Outcome, error) {
	release := s.locks.Lock(electionID)
	defer release()

	now := s.now().UTC()
	logger := s.logger.With(zap.Int64("electionID", electionID), zap.Bool("manual", manual))

	// re-read under the lock; a concurrent run may have finished first
	election, err := s.repo.GetElection(ctx, electionID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !finalizable(election, now, manual) {
		logger.Debug("Election no longer finalizable", zap.Stringer("phase", election.Phase))
		return OutcomeSkipped, nil
	}

	voters, err := s.repo.ListEligibleVoters(ctx, electionID)
	if err != nil {
		return OutcomeDeferred, fmt.Errorf("loading eligible voters: %w", err)
	}

	tree, err := merkle.Build(voters)
	if errors.Is(err, merkle.ErrEmptyVoterSet) {
		if err := s.repo.CancelElection(ctx, electionID, data.PhaseRegistration, now); err != nil {
			return OutcomeDeferred, fmt.Errorf("cancelling election without voters: %w", err)
		}
		logger.Info("Election cancelled, no eligible voters")
		s.publish(ctx, events.Cancelled(electionID, data.PhaseRegistration, "no eligible voters", now))
		return OutcomeCancelled, nil
	}
	if err != nil {
		return OutcomeDeferred, err
	}

	contract := election.Contract()
	if !ledger.ValidAddress(contract) {
		return OutcomeDeferred, data.NewError(data.KindValidation, "finalize",
			fmt.Errorf("election %d has no valid contract address", electionID))
	}

	root := tree.RootHex()
	if err := s.ledger.SetRoot(ctx, contract, root); err != nil {
		return OutcomeDeferred, fmt.Errorf("publishing root to %s: %w", contract, err)
	}

	if err := s.repo.CommitFinalization(ctx, electionID, root, now); err != nil {
		// the ledger already holds the root; the next attempt sees it and only commits
		return OutcomeDeferred, fmt.Errorf("committing finalization: %w", err)
	}

	logger.Info("Election finalized",
		zap.String("merkleRoot", root),
		zap.Int("voters", tree.Size()),
		zap.String("contract", contract))
	s.publish(ctx, events.Finalized(electionID, root, now))
	return OutcomeFinalized, nil
}

func (s *Scheduler) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("type", string(ev.Type)),
			zap.Int64("electionID", ev.ElectionID),
			zap.Error(err))
	}
}

func finalizable(e *data.Election, now time.Time, manual bool) bool {
	if manual {
		return !e.Revoked && !e.IsDraft && e.Phase == data.PhaseRegistration && !e.HasRoot()
	}
	return e.Finalizable(now)
}
