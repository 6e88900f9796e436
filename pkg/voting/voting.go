// Package voting records ballots against the store.
package voting

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"election_engine/pkg/data"
)

// Recorder records votes. At most one vote per voter and election is ever
// accepted; a rejected vote leaves no trace.
type Recorder struct {
	repo   data.Repository
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Recorder
type Option func(*Recorder)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a vote recorder on top of repo
func NewRecorder(repo data.Repository, logger *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: logger.Named("voting"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordVote casts voterID's ballot for candidateID. It fails with a
// duplicate-vote error when the voter already voted, not-found when the
// election or candidate is unknown and a validation error when the election
// is not active.
func (r *Recorder) RecordVote(ctx context.Context, electionID int64, voterID string, candidateID int64) (*data.VoteLogEntry, error) {
	voterID, err := validate("record vote", electionID, voterID)
	if err != nil {
		return nil, err
	}
	if candidateID <= 0 {
		return nil, data.NewError(data.KindValidation, "record vote", data.ErrInvalidID)
	}

	entry, err := r.repo.RecordVote(ctx, electionID, voterID, candidateID, r.now())
	if err != nil {
		r.logger.Debug("Vote rejected",
			zap.Int64("electionID", electionID),
			zap.Stringer("kind", data.KindOf(err)),
			zap.Error(err))
		return nil, err
	}

	// the candidate is left out of the log
	r.logger.Info("Vote recorded",
		zap.Int64("electionID", electionID),
		zap.String("voteID", entry.ID))
	return entry, nil
}

// HasVoted reports whether the store holds a vote from voterID
func (r *Recorder) HasVoted(ctx context.Context, electionID int64, voterID string) (bool, error) {
	voterID, err := validate("has voted", electionID, voterID)
	if err != nil {
		return false, err
	}
	return r.repo.HasVoted(ctx, electionID, voterID)
}

func validate(op string, electionID int64, voterID string) (string, error) {
	voterID = strings.TrimSpace(voterID)
	if electionID <= 0 || voterID == "" {
		return "", data.NewError(data.KindValidation, op, data.ErrInvalidID)
	}
	return voterID, nil
}
