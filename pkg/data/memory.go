package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository used by tests and dry runs.
// All mutations happen under one mutex, which gives every operation the same
// all-or-nothing behaviour the postgres transactions provide.
type MemoryRepository struct {
	mu         sync.Mutex
	elections  map[int64]*Election
	candidates map[int64][]Candidate
	voters     map[int64][]string
	markers    map[int64]map[string]struct{}
	voteLog    []*VoteLogEntry
	audits     []*AuditRecord
	breaches   []*BreachRecord
}

// Ensure MemoryRepository implements the Repository interface
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		elections:  make(map[int64]*Election),
		candidates: make(map[int64][]Candidate),
		voters:     make(map[int64][]string),
		markers:    make(map[int64]map[string]struct{}),
	}
}

// PutElection inserts or replaces an election
func (m *MemoryRepository) PutElection(e *Election) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elections[e.ID] = cloneElection(e)
}

// PutCandidates replaces the candidate set of an election
func (m *MemoryRepository) PutCandidates(electionID int64, candidates ...Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[electionID] = append([]Candidate(nil), candidates...)
}

// PutVoters replaces the eligibility set of an election
func (m *MemoryRepository) PutVoters(electionID int64, voters ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voters[electionID] = append([]string(nil), voters...)
}

// AuditRecords returns the audit records appended so far
func (m *MemoryRepository) AuditRecords() []*AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*AuditRecord(nil), m.audits...)
}

// Breaches returns every breach persisted so far, resolved or not
func (m *MemoryRepository) Breaches() []*BreachRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*BreachRecord(nil), m.breaches...)
}

// VoteLog returns the vote log entries appended so far
func (m *MemoryRepository) VoteLog() []*VoteLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*VoteLogEntry(nil), m.voteLog...)
}

// GetElection returns a copy of the stored election
func (m *MemoryRepository) GetElection(ctx context.Context, id int64) (*Election, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.elections[id]
	if !ok {
		return nil, notFound("get election", "election %d", id)
	}
	return cloneElection(e), nil
}

// ListTimeTrackedElections returns elections whose phase follows their time window
func (m *MemoryRepository) ListTimeTrackedElections(ctx context.Context) ([]*Election, error) {
	return m.filter(func(e *Election) bool { return e.TimeTracked() }), nil
}

// ListFinalizableElections returns registration-phase elections due for finalization
func (m *MemoryRepository) ListFinalizableElections(ctx context.Context, now time.Time) ([]*Election, error) {
	return m.filter(func(e *Election) bool { return e.Finalizable(now) }), nil
}

// ListAuditableElections returns elections that carry a contract address
func (m *MemoryRepository) ListAuditableElections(ctx context.Context) ([]*Election, error) {
	return m.filter(func(e *Election) bool { return e.Contract() != "" }), nil
}

// UpdatePhase moves an election from one phase to another. It reports false
// when the stored phase is no longer from.
func (m *MemoryRepository) UpdatePhase(ctx context.Context, id int64, from, to Phase, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.elections[id]
	if !ok || e.Phase != from {
		return false, nil
	}
	e.Phase = to
	e.UpdatedAt = at.UTC()
	return true, nil
}

// CommitFinalization stores the root and opens the election
func (m *MemoryRepository) CommitFinalization(ctx context.Context, id int64, root string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.elections[id]
	if !ok {
		return notFound("commit finalization", "election %d", id)
	}
	if e.Phase != PhaseRegistration || e.HasRoot() {
		return NewError(KindValidation, "commit finalization", fmt.Errorf("%w: election %d", ErrPhaseConflict, id))
	}
	e.Phase = PhaseUpcoming
	e.MerkleRoot = &root
	e.UpdatedAt = at.UTC()
	return nil
}

// CancelElection moves an election into the terminal cancelled phase
func (m *MemoryRepository) CancelElection(ctx context.Context, id int64, from Phase, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.elections[id]
	if !ok {
		return notFound("cancel election", "election %d", id)
	}
	if e.Phase != from {
		return NewError(KindValidation, "cancel election", fmt.Errorf("%w: election %d", ErrPhaseConflict, id))
	}
	e.Phase = PhaseCancelled
	e.UpdatedAt = at.UTC()
	return nil
}

// ListCandidates returns the stored candidate set of an election
func (m *MemoryRepository) ListCandidates(ctx context.Context, electionID int64) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Candidate(nil), m.candidates[electionID]...), nil
}

// ListEligibleVoters returns the voter identifiers registered for an election
func (m *MemoryRepository) ListEligibleVoters(ctx context.Context, electionID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.voters[electionID]...), nil
}

// SaveAuditResult appends the record and its breach, if any, or neither
func (m *MemoryRepository) SaveAuditResult(ctx context.Context, record *AuditRecord, breach *BreachRecord) error {
	if record == nil {
		return NewError(KindValidation, "save audit result", fmt.Errorf("audit record is required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.elections[record.ElectionID]; !ok {
		return notFound("save audit result", "election %d", record.ElectionID)
	}
	if breach != nil {
		if _, ok := m.elections[breach.ElectionID]; !ok {
			return notFound("save audit result", "election %d", breach.ElectionID)
		}
		m.breaches = append(m.breaches, breach)
	}
	m.audits = append(m.audits, record)
	return nil
}

// ListOpenBreaches returns unresolved breaches, for one election or for all when electionID is 0
func (m *MemoryRepository) ListOpenBreaches(ctx context.Context, electionID int64) ([]*BreachRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var open []*BreachRecord
	for _, b := range m.breaches {
		if !b.Resolved && (electionID == 0 || b.ElectionID == electionID) {
			open = append(open, b)
		}
	}
	return open, nil
}

// ResolveBreach marks an open breach as handled
func (m *MemoryRepository) ResolveBreach(ctx context.Context, id string, at time.Time) error {
	if err := validBreachID(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.breaches {
		if b.ID == id && !b.Resolved {
			resolvedAt := at.UTC()
			b.Resolved = true
			b.ResolvedAt = &resolvedAt
			return nil
		}
	}
	return notFound("resolve breach", "open breach %s", id)
}

// RecordVote sets the vote marker, appends the vote log and bumps the counter,
// or changes nothing
func (m *MemoryRepository) RecordVote(ctx context.Context, electionID int64, voterID string, candidateID int64, at time.Time) (*VoteLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.elections[electionID]
	if !ok {
		return nil, notFound("record vote", "election %d", electionID)
	}
	if _, voted := m.markers[electionID][voterID]; voted {
		return nil, NewError(KindDuplicateVote, "record vote",
			fmt.Errorf("%w: voter %s in election %d", ErrDuplicateVote, voterID, electionID))
	}

	known := false
	for _, c := range m.candidates[electionID] {
		if c.CandidateID == candidateID {
			known = true
			break
		}
	}
	if !known {
		return nil, notFound("record vote", "candidate %d in election %d", candidateID, electionID)
	}
	if e.Phase != PhaseActive || e.Revoked {
		return nil, NewError(KindValidation, "record vote",
			fmt.Errorf("%w: election %d", ErrNotAcceptingVotes, electionID))
	}

	entry := NewVoteLogEntry(electionID, voterID, at)
	if m.markers[electionID] == nil {
		m.markers[electionID] = make(map[string]struct{})
	}
	m.markers[electionID][voterID] = struct{}{}
	m.voteLog = append(m.voteLog, entry)
	e.TotalVotes++
	e.UpdatedAt = entry.RecordedAt
	return entry, nil
}

// HasVoted reports whether a vote marker exists for the voter
func (m *MemoryRepository) HasVoted(ctx context.Context, electionID int64, voterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, voted := m.markers[electionID][voterID]
	return voted, nil
}

func (m *MemoryRepository) filter(keep func(*Election) bool) []*Election {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Election
	for _, e := range m.elections {
		if keep(e) {
			out = append(out, cloneElection(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneElection(e *Election) *Election {
	c := *e
	if e.FinalizationTime != nil {
		t := *e.FinalizationTime
		c.FinalizationTime = &t
	}
	if e.MerkleRoot != nil {
		r := *e.MerkleRoot
		c.MerkleRoot = &r
	}
	if e.ContractAddress != nil {
		a := *e.ContractAddress
		c.ContractAddress = &a
	}
	return &c
}
