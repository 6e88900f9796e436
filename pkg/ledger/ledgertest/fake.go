// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"election_engine/pkg/data"
	"election_engine/pkg/ledger"
)

// Contract is the state of one fake election contract
type Contract struct {
	Stats      ledger.Stats
	Candidates []ledger.Candidate
	Details    ledger.Details
	Owner      string
	Voted      map[string]bool

	// Root is the published Merkle root, "" until SetRoot succeeds
	Root string
}

// Fake is a thread-safe in-memory ledger
type Fake struct {
	mu        sync.Mutex
	contracts map[string]*Contract
	failures  map[string]error
	setRoots  map[string][]string

	// BeforeSetRoot, when set, runs before SetRoot applies; returning an error fails the call
	BeforeSetRoot func(ctx context.Context, contract string) error
}

// Ensure Fake implements the Client interface
var _ ledger.Client = (*Fake)(nil)

// New creates an empty fake ledger
func New() *Fake {
	return &Fake{
		contracts: make(map[string]*Contract),
		failures:  make(map[string]error),
		setRoots:  make(map[string][]string),
	}
}

// Put registers or replaces a contract
func (f *Fake) Put(address string, c *Contract) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.Voted == nil {
		c.Voted = make(map[string]bool)
	}
	f.contracts[key(address)] = c
}

// Update mutates a registered contract under the fake's lock
func (f *Fake) Update(address string, fn func(c *Contract)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contracts[key(address)]; ok {
		fn(c)
	}
}

// Fail makes every call of method ("GetStats", "SetRoot", ...) return err; nil clears it
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// SetRootCalls returns the roots successfully published to address, in order
func (f *Fake) SetRootCalls(address string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.setRoots[key(address)]...)
}

func (f *Fake) GetStats(ctx context.Context, contract string) (*ledger.Stats, error) {
	c, err := f.lookup(ctx, "GetStats", contract)
	if err != nil {
		return nil, err
	}
	stats := c.Stats
	return &stats, nil
}

func (f *Fake) GetCandidates(ctx context.Context, contract string) ([]ledger.Candidate, error) {
	c, err := f.lookup(ctx, "GetCandidates", contract)
	if err != nil {
		return nil, err
	}
	return append([]ledger.Candidate(nil), c.Candidates...), nil
}

func (f *Fake) GetState(ctx context.Context, contract string) (ledger.State, error) {
	c, err := f.lookup(ctx, "GetState", contract)
	if err != nil {
		return 0, err
	}
	return c.Details.State, nil
}

func (f *Fake) GetDetails(ctx context.Context, contract string) (*ledger.Details, error) {
	c, err := f.lookup(ctx, "GetDetails", contract)
	if err != nil {
		return nil, err
	}
	details := c.Details
	return &details, nil
}

func (f *Fake) GetOwner(ctx context.Context, contract string) (string, error) {
	c, err := f.lookup(ctx, "GetOwner", contract)
	if err != nil {
		return "", err
	}
	return c.Owner, nil
}

func (f *Fake) HasVoted(ctx context.Context, contract string, voterID string) (bool, error) {
	c, err := f.lookup(ctx, "HasVoted", contract)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return c.Voted[voterID], nil
}

func (f *Fake) SetRoot(ctx context.Context, contract string, root string) error {
	if hook := f.BeforeSetRoot; hook != nil {
		if err := hook(ctx, contract); err != nil {
			return err
		}
	}

	c, err := f.lookup(ctx, "SetRoot", contract)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch c.Root {
	case root:
		return nil
	case "":
	default:
		return data.NewError(data.KindValidation, "set root", fmt.Errorf("contract already holds root %s", c.Root))
	}
	c.Root = root
	f.setRoots[key(contract)] = append(f.setRoots[key(contract)], root)
	return nil
}

func (f *Fake) lookup(ctx context.Context, method, contract string) (*Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failures[method]; err != nil {
		return nil, err
	}
	c, ok := f.contracts[key(contract)]
	if !ok {
		return nil, data.NewError(data.KindLedgerUnavailable, method, fmt.Errorf("no contract at %s", contract))
	}
	return c, nil
}

func key(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
