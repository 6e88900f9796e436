// Package ledger talks to the per-election contract on the external ledger.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"election_engine/pkg/data"
)

// State is the contract's numeric election state
type State uint8

const (
	StateUpcoming State = iota
	StateActive
	StateCompleted
	StateCancelled
)

// Phase maps the ledger state onto the stored phase vocabulary
func (s State) Phase() (data.Phase, bool) {
	switch s {
	case StateUpcoming:
		return data.PhaseUpcoming, true
	case StateActive:
		return data.PhaseActive, true
	case StateCompleted:
		return data.PhaseCompleted, true
	case StateCancelled:
		return data.PhaseCancelled, true
	}
	return "", false
}

func (s State) String() string {
	if p, ok := s.Phase(); ok {
		return p.String()
	}
	return "unknown"
}

// Stats are the aggregate counters kept by the contract
type Stats struct {
	TotalVotes     int64
	CandidateCount int64
}

// Candidate is a candidate as registered on the ledger
type Candidate struct {
	ID        int64
	Name      string
	VoteCount int64
}

// Details is the election header stored on the ledger
type Details struct {
	ID         int64
	Title      string
	StartTime  time.Time
	EndTime    time.Time
	State      State
	IsPublic   bool
	TotalVotes int64
}

// Client is the read/write surface of one election contract
type Client interface {
	GetStats(ctx context.Context, contract string) (*Stats, error)
	GetCandidates(ctx context.Context, contract string) ([]Candidate, error)
	GetState(ctx context.Context, contract string) (State, error)
	GetDetails(ctx context.Context, contract string) (*Details, error)
	GetOwner(ctx context.Context, contract string) (string, error)
	HasVoted(ctx context.Context, contract string, voterID string) (bool, error)
	// SetRoot publishes the voter-set root and waits for confirmation. Publishing
	// the root the contract already holds is a no-op.
	SetRoot(ctx context.Context, contract string, root string) error
}

// ValidAddress reports whether addr is a 0x-prefixed, non-zero 20-byte hex address
func ValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return false
	}
	if !common.IsHexAddress(addr) {
		return false
	}
	return common.HexToAddress(addr) != (common.Address{})
}
