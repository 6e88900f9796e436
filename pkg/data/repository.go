package data

import (
	"context"
	"time"
)

// Repository defines the interface for election persistence
type Repository interface {
	// Election operations
	GetElection(ctx context.Context, id int64) (*Election, error)
	ListTimeTrackedElections(ctx context.Context) ([]*Election, error)
	ListFinalizableElections(ctx context.Context, now time.Time) ([]*Election, error)
	ListAuditableElections(ctx context.Context) ([]*Election, error)
	UpdatePhase(ctx context.Context, id int64, from, to Phase, at time.Time) (bool, error)
	CommitFinalization(ctx context.Context, id int64, root string, at time.Time) error
	CancelElection(ctx context.Context, id int64, from Phase, at time.Time) error

	// Candidate and voter operations
	ListCandidates(ctx context.Context, electionID int64) ([]Candidate, error)
	ListEligibleVoters(ctx context.Context, electionID int64) ([]string, error)

	// Audit operations
	SaveAuditResult(ctx context.Context, record *AuditRecord, breach *BreachRecord) error
	ListOpenBreaches(ctx context.Context, electionID int64) ([]*BreachRecord, error)
	ResolveBreach(ctx context.Context, id string, at time.Time) error

	// Vote operations
	RecordVote(ctx context.Context, electionID int64, voterID string, candidateID int64, at time.Time) (*VoteLogEntry, error)
	HasVoted(ctx context.Context, electionID int64, voterID string) (bool, error)
}
