package ledger

import (
	"context"
	"errors"
	"time"

	"election_engine/pkg/data"
)

// TimeoutClient bounds every call of the wrapped client. Reads use the call
// timeout; SetRoot, which waits for confirmation, uses the confirm timeout.
// Untagged failures are reported as KindLedgerUnavailable.
type TimeoutClient struct {
	next           Client
	callTimeout    time.Duration
	confirmTimeout time.Duration
}

// Ensure TimeoutClient implements the Client interface
var _ Client = (*TimeoutClient)(nil)

// NewTimeoutClient wraps next with per-call deadlines
func NewTimeoutClient(next Client, callTimeout, confirmTimeout time.Duration) *TimeoutClient {
	return &TimeoutClient{next: next, callTimeout: callTimeout, confirmTimeout: confirmTimeout}
}

func (c *TimeoutClient) GetStats(ctx context.Context, contract string) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	stats, err := c.next.GetStats(ctx, contract)
	return stats, unavailable("get stats", err)
}

func (c *TimeoutClient) GetCandidates(ctx context.Context, contract string) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	candidates, err := c.next.GetCandidates(ctx, contract)
	return candidates, unavailable("get candidates", err)
}

func (c *TimeoutClient) GetState(ctx context.Context, contract string) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	state, err := c.next.GetState(ctx, contract)
	return state, unavailable("get state", err)
}

func (c *TimeoutClient) GetDetails(ctx context.Context, contract string) (*Details, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	details, err := c.next.GetDetails(ctx, contract)
	return details, unavailable("get details", err)
}

func (c *TimeoutClient) GetOwner(ctx context.Context, contract string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	owner, err := c.next.GetOwner(ctx, contract)
	return owner, unavailable("get owner", err)
}

func (c *TimeoutClient) HasVoted(ctx context.Context, contract string, voterID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	voted, err := c.next.HasVoted(ctx, contract, voterID)
	return voted, unavailable("has voted", err)
}

func (c *TimeoutClient) SetRoot(ctx context.Context, contract string, root string) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	return unavailable("set root", c.next.SetRoot(ctx, contract, root))
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var tagged *data.Error
	if errors.As(err, &tagged) {
		return err
	}
	return data.NewError(data.KindLedgerUnavailable, op, err)
}
