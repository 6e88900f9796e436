// Package events publishes lifecycle notifications about elections.
package events

import (
	"context"
	"time"

	"election_engine/pkg/data"
)

// Type names an event kind; it is also the last subject token on the bus
type Type string

const (
	TypePhaseChanged Type = "phase_changed"
	TypeCancelled    Type = "cancelled"
	TypeFinalized    Type = "finalized"
	TypeBreach       Type = "breach_detected"
)

// Event is one notification about an election
type Event struct {
	Type        Type       `json:"type"`
	ElectionID  int64      `json:"election_id"`
	OldPhase    data.Phase `json:"old_phase,omitempty"`
	NewPhase    data.Phase `json:"new_phase,omitempty"`
	MerkleRoot  string     `json:"merkle_root,omitempty"`
	IssueTypes  []string   `json:"issue_types,omitempty"`
	Description string     `json:"description,omitempty"`
	At          time.Time  `json:"at"`
}

// Publisher delivers events. Delivery is best effort; callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PhaseChanged reports a time-driven phase transition
func PhaseChanged(id int64, from, to data.Phase, at time.Time) Event {
	return Event{Type: TypePhaseChanged, ElectionID: id, OldPhase: from, NewPhase: to, At: at.UTC()}
}

// Cancelled reports an election moved to the cancelled phase, with the reason
func Cancelled(id int64, from data.Phase, reason string, at time.Time) Event {
	return Event{Type: TypeCancelled, ElectionID: id, OldPhase: from, NewPhase: data.PhaseCancelled,
		Description: reason, At: at.UTC()}
}

// Finalized reports a published root and the registration -> upcoming transition
func Finalized(id int64, root string, at time.Time) Event {
	return Event{Type: TypeFinalized, ElectionID: id, OldPhase: data.PhaseRegistration,
		NewPhase: data.PhaseUpcoming, MerkleRoot: root, At: at.UTC()}
}

// Breach reports the divergences recorded by an audit
func Breach(b *data.BreachRecord) Event {
	return Event{Type: TypeBreach, ElectionID: b.ElectionID, IssueTypes: b.IssueTypes,
		Description: b.Description, At: b.DetectedAt}
}
