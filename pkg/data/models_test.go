package data

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElectionPredicates(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	root := "0x01"

	tests := []struct {
		name        string
		election    Election
		tracked     bool
		finalizable bool
	}{
		{"Upcoming", Election{Phase: PhaseUpcoming}, true, false},
		{"Active", Election{Phase: PhaseActive}, true, false},
		{"RevokedActive", Election{Phase: PhaseActive, Revoked: true}, false, false},
		{"DraftFlag", Election{Phase: PhaseUpcoming, IsDraft: true}, false, false},
		{"Completed", Election{Phase: PhaseCompleted}, false, false},
		{"RegistrationDue", Election{Phase: PhaseRegistration, FinalizationTime: &past}, false, true},
		{"RegistrationNoTime", Election{Phase: PhaseRegistration}, false, false},
		{"RegistrationRooted", Election{Phase: PhaseRegistration, FinalizationTime: &past, MerkleRoot: &root}, false, false},
		{"RegistrationDueExactly", Election{Phase: PhaseRegistration, FinalizationTime: &now}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.tracked, tt.election.TimeTracked())
			assert.Equal(t, tt.finalizable, tt.election.Finalizable(now))
		})
	}
}

func TestElectionValidate(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	valid := Election{ID: 1, Phase: PhaseActive, StartTime: start, EndTime: start.Add(time.Hour)}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.EndTime = start
	assert.ErrorIs(t, bad.Validate(), ErrInvalidTime)

	bad = valid
	bad.Phase = "paused"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPhase)
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = valid
	bad.ID = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidID)
}

func TestContractTrimsWhitespace(t *testing.T) {
	addr := "  0xabc  "
	e := Election{ContractAddress: &addr}
	assert.Equal(t, "0xabc", e.Contract())
	assert.Equal(t, "", (&Election{}).Contract())
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(KindLedgerUnavailable, "get stats", errors.New("dial tcp: refused")))

	assert.True(t, IsKind(err, KindLedgerUnavailable))
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "get stats")

	nf := notFound("get election", "election %d", 7)
	assert.ErrorIs(t, nf, ErrNotFound)
	assert.Contains(t, nf.Error(), "election 7")
	assert.Equal(t, "not_found", KindOf(nf).String())
}

func TestIssueTypeColumn(t *testing.T) {
	b := NewBreachRecord(1, []string{"vote_count_integrity", "timing_integrity"}, "x", time.Now())
	assert.Equal(t, "vote_count_integrity,timing_integrity", b.IssueTypeColumn())
	assert.Equal(t, b.IssueTypes, ParseIssueTypes(b.IssueTypeColumn()))
	assert.Nil(t, ParseIssueTypes(" "))
}
