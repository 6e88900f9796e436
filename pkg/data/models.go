package data

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phase is a step of the election lifecycle
type Phase string

const (
	PhaseDraft        Phase = "draft"
	PhaseRegistration Phase = "registration"
	PhaseUpcoming     Phase = "upcoming"
	PhaseActive       Phase = "active"
	PhaseCompleted    Phase = "completed"
	PhaseCancelled    Phase = "cancelled"
)

// Valid reports whether p is one of the known phases
func (p Phase) Valid() bool {
	switch p {
	case PhaseDraft, PhaseRegistration, PhaseUpcoming, PhaseActive, PhaseCompleted, PhaseCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of p
func (p Phase) Terminal() bool {
	return p == PhaseCancelled || p == PhaseCompleted
}

func (p Phase) String() string {
	return string(p)
}

// Election represents an election as persisted in the relational store
type Election struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Phase            Phase      `json:"phase"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          time.Time  `json:"end_time"`
	FinalizationTime *time.Time `json:"finalization_time,omitempty"`
	MerkleRoot       *string    `json:"merkle_root,omitempty"`
	TotalVotes       int64      `json:"total_votes"`
	ContractAddress  *string    `json:"contract_address,omitempty"`
	OwnerAddress     string     `json:"owner_address"`
	Revoked          bool       `json:"revoked"`
	IsDraft          bool       `json:"is_draft"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasRoot reports whether the voter-set commitment was already published
func (e *Election) HasRoot() bool {
	return e.MerkleRoot != nil && *e.MerkleRoot != ""
}

// Contract returns the ledger contract address or an empty string
func (e *Election) Contract() string {
	if e.ContractAddress == nil {
		return ""
	}
	return strings.TrimSpace(*e.ContractAddress)
}

// TimeTracked reports whether the election phase is driven by its start/end times
func (e *Election) TimeTracked() bool {
	if e.Revoked || e.IsDraft {
		return false
	}
	return e.Phase == PhaseUpcoming || e.Phase == PhaseActive
}

// Finalizable reports whether the election is due for finalization at now
func (e *Election) Finalizable(now time.Time) bool {
	if e.Revoked || e.IsDraft || e.Phase != PhaseRegistration || e.HasRoot() {
		return false
	}
	return e.FinalizationTime != nil && !e.FinalizationTime.After(now)
}

// Validate checks the election fields this engine relies on
func (e *Election) Validate() error {
	if e.ID <= 0 {
		return NewError(KindValidation, "validate election", ErrInvalidID)
	}
	if !e.Phase.Valid() {
		return NewError(KindValidation, "validate election", ErrInvalidPhase)
	}
	if e.StartTime.IsZero() || e.EndTime.IsZero() || !e.StartTime.Before(e.EndTime) {
		return NewError(KindValidation, "validate election", ErrInvalidTime)
	}
	return nil
}

// Candidate is a candidate as known by the store
type Candidate struct {
	ElectionID  int64  `json:"election_id"`
	CandidateID int64  `json:"candidate_id"`
	Name        string `json:"name"`
}

// EligibleVoter is one member of an election's eligibility set
type EligibleVoter struct {
	ElectionID      int64  `json:"election_id"`
	VoterIdentifier string `json:"voter_identifier"`
}

// VoteLogEntry is the timestamped trace appended for every recorded vote
type VoteLogEntry struct {
	ID         string    `json:"id"`
	ElectionID int64     `json:"election_id"`
	VoterID    string    `json:"voter_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewVoteLogEntry creates a log entry with a fresh identifier
func NewVoteLogEntry(electionID int64, voterID string, at time.Time) *VoteLogEntry {
	return &VoteLogEntry{
		ID:         uuid.New().String(),
		ElectionID: electionID,
		VoterID:    voterID,
		RecordedAt: at.UTC(),
	}
}

// CheckResult is the outcome of a single audit check
type CheckResult struct {
	Type    string         `json:"type"`
	Passed  bool           `json:"passed"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// AuditDetails is the structured payload stored with every audit record
type AuditDetails struct {
	ContractAddress string        `json:"contract_address"`
	PassedCount     int           `json:"passed_count"`
	FailedCount     int           `json:"failed_count"`
	CriticalCount   int           `json:"critical_count"`
	FailedTypes     []string      `json:"failed_types"`
	Checks          []CheckResult `json:"checks"`
}

// AuditRecord is one append-only audit pass over an election
type AuditRecord struct {
	ID               string       `json:"id"`
	ElectionID       int64        `json:"election_id"`
	CheckTime        time.Time    `json:"check_time"`
	DiscrepancyFound bool         `json:"discrepancy_found"`
	Details          AuditDetails `json:"details"`
}

// NewAuditRecord creates an audit record from the collected details
func NewAuditRecord(electionID int64, at time.Time, details AuditDetails) *AuditRecord {
	return &AuditRecord{
		ID:               uuid.New().String(),
		ElectionID:       electionID,
		CheckTime:        at.UTC(),
		DiscrepancyFound: details.FailedCount > 0,
		Details:          details,
	}
}

// BreachRecord is a persisted set of divergences detected in one audit run
type BreachRecord struct {
	ID          string     `json:"id"`
	ElectionID  int64      `json:"election_id"`
	IssueTypes  []string   `json:"issue_types"`
	Description string     `json:"description"`
	DetectedAt  time.Time  `json:"detected_at"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// NewBreachRecord creates an unresolved breach
func NewBreachRecord(electionID int64, issueTypes []string, description string, at time.Time) *BreachRecord {
	return &BreachRecord{
		ID:          uuid.New().String(),
		ElectionID:  electionID,
		IssueTypes:  issueTypes,
		Description: description,
		DetectedAt:  at.UTC(),
	}
}

func validBreachID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return NewError(KindValidation, "resolve breach", fmt.Errorf("%w: breach %q", ErrInvalidID, id))
	}
	return nil
}

// IssueTypeColumn renders issue types the way the breaches table stores them
func (b *BreachRecord) IssueTypeColumn() string {
	return strings.Join(b.IssueTypes, ",")
}

// ParseIssueTypes splits a stored issue_type column back into tags
func ParseIssueTypes(column string) []string {
	if strings.TrimSpace(column) == "" {
		return nil
	}
	parts := strings.Split(column, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
