package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"election_engine/pkg/data"
	"election_engine/pkg/events"
	"election_engine/pkg/events/eventstest"
	"election_engine/pkg/ledger"
	"election_engine/pkg/ledger/ledgertest"
)

const (
	contract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	owner    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

var now = time.Date(2026, 4, 2, 15, 30, 0, 0, time.UTC)

type harness struct {
	repo     *data.MemoryRepository
	ledger   *ledgertest.Fake
	recorder *eventstest.Recorder
	engine   *Engine
}

// newHarness seeds one active election whose store and ledger views agree
func newHarness(t *testing.T) *harness {
	h := &harness{
		repo:     data.NewMemoryRepository(),
		ledger:   ledgertest.New(),
		recorder: &eventstest.Recorder{},
	}

	start, end := now.Add(-time.Hour), now.Add(time.Hour)
	addr := contract
	root := "0x" + "ab"
	h.repo.PutElection(&data.Election{
		ID:              1,
		Title:           "council",
		Phase:           data.PhaseActive,
		StartTime:       start,
		EndTime:         end,
		MerkleRoot:      &root,
		TotalVotes:      10,
		ContractAddress: &addr,
		OwnerAddress:    owner,
	})
	h.repo.PutCandidates(1,
		data.Candidate{ElectionID: 1, CandidateID: 1, Name: "Ada"},
		data.Candidate{ElectionID: 1, CandidateID: 2, Name: "Grace"})

	h.ledger.Put(contract, &ledgertest.Contract{
		Stats: ledger.Stats{TotalVotes: 10, CandidateCount: 2},
		Candidates: []ledger.Candidate{
			{ID: 2, Name: "Grace", VoteCount: 4},
			{ID: 1, Name: "Ada", VoteCount: 6},
		},
		Details: ledger.Details{
			ID:         1,
			Title:      "council",
			StartTime:  time.Unix(start.Unix(), 0),
			EndTime:    time.Unix(end.Unix(), 0),
			State:      ledger.StateActive,
			IsPublic:   true,
			TotalVotes: 10,
		},
		Owner: owner,
	})

	h.engine = NewEngine(h.repo, h.ledger, h.recorder, zaptest.NewLogger(t),
		WithClock(func() time.Time { return now }),
		WithRetryAttempts(0))
	return h
}

func (h *harness) election(t *testing.T) *data.Election {
	e, err := h.repo.GetElection(context.Background(), 1)
	require.NoError(t, err)
	return e
}

func TestAuditAllChecksPass(t *testing.T) {
	h := newHarness(t)

	report, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)

	assert.Equal(t, Summary{Passed: 7, FailedTypes: []string{}}, report.Summary)
	assert.Nil(t, report.Breach)
	assert.False(t, report.Record.DiscrepancyFound)
	assert.Equal(t, Types(), checkTypes(report.Record.Details.Checks))

	assert.Len(t, h.repo.AuditRecords(), 1)
	assert.Empty(t, h.repo.Breaches())
	assert.Empty(t, h.recorder.Events())
}

func TestAuditVoteCountMismatch(t *testing.T) {
	h := newHarness(t)
	h.ledger.Update(contract, func(c *ledgertest.Contract) { c.Stats.TotalVotes = 11 })

	report, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.Failed)
	assert.Equal(t, 1, report.Summary.Critical)
	assert.Equal(t, []string{CheckVoteCount}, report.Summary.FailedTypes)
	assert.True(t, report.Record.DiscrepancyFound)

	breaches := h.repo.Breaches()
	require.Len(t, breaches, 1)
	assert.Equal(t, []string{CheckVoteCount}, breaches[0].IssueTypes)
	assert.Contains(t, breaches[0].Description, "stored 10, ledger 11")
	assert.False(t, breaches[0].Resolved)

	published := h.recorder.OfType(events.TypeBreach)
	require.Len(t, published, 1)
	assert.Equal(t, []string{CheckVoteCount}, published[0].IssueTypes)
}

func TestAuditPersistenceFailureLeavesNothing(t *testing.T) {
	h := newHarness(t)
	h.ledger.Update(contract, func(c *ledgertest.Contract) { c.Stats.TotalVotes = 11 })

	repo := &failingRepo{MemoryRepository: h.repo, err: errors.New("connection reset")}
	engine := NewEngine(repo, h.ledger, h.recorder, zaptest.NewLogger(t),
		WithClock(func() time.Time { return now }),
		WithRetryAttempts(0))

	report, err := engine.AuditElection(context.Background(), h.election(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.err)
	assert.Nil(t, report)

	assert.Empty(t, h.repo.Breaches())
	assert.Empty(t, h.repo.AuditRecords())
	assert.Empty(t, h.recorder.Events(), "no breach event without a stored breach")
}

func TestAuditLedgerFailureIsFailedCheck(t *testing.T) {
	h := newHarness(t)
	h.ledger.Fail("GetOwner", data.NewError(data.KindLedgerUnavailable, "owner", errors.New("i/o timeout")))

	report, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)

	assert.Equal(t, []string{CheckOwnership}, report.Summary.FailedTypes)
	assert.Equal(t, 6, report.Summary.Passed)
	assert.Contains(t, h.repo.Breaches()[0].Description, "i/o timeout")
}

func TestAuditRetriesUnavailableLedger(t *testing.T) {
	h := newHarness(t)
	h.engine.retry.InitialDelay = time.Millisecond
	WithRetryAttempts(2)(h.engine)

	attempts := 0
	flaky := &flakyLedger{Client: h.ledger, fail: func() error {
		attempts++
		if attempts < 3 {
			return data.NewError(data.KindLedgerUnavailable, "stats", errors.New("connection reset"))
		}
		return nil
	}}
	h.engine.ledger = flaky

	report, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Nil(t, report.Breach)
}

func TestAuditCandidateMismatch(t *testing.T) {
	h := newHarness(t)
	h.ledger.Update(contract, func(c *ledgertest.Contract) {
		c.Candidates = append(c.Candidates, ledger.Candidate{ID: 3, Name: "Hedy", VoteCount: 0})
	})

	report, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)

	assert.Equal(t, []string{CheckCandidates, CheckCandidateReconciliation}, report.Summary.FailedTypes)
	assert.Equal(t, 0, report.Summary.Critical)
	assert.Contains(t, report.Breach.Description, "3 (Hedy)")
	assert.Contains(t, report.Breach.Description, "; ")
}

func TestAuditStoreOnlyCandidate(t *testing.T) {
	h := newHarness(t)
	h.repo.PutCandidates(1,
		data.Candidate{ElectionID: 1, CandidateID: 1},
		data.Candidate{ElectionID: 1, CandidateID: 2},
		data.Candidate{ElectionID: 1, CandidateID: 9})

	report, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)

	// reconciliation only looks at candidates present on the ledger
	assert.Equal(t, []string{CheckCandidates}, report.Summary.FailedTypes)
}

func TestAuditOwnerComparisonIgnoresCase(t *testing.T) {
	h := newHarness(t)
	h.ledger.Update(contract, func(c *ledgertest.Contract) { c.Owner = "0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266" })

	report, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)
	assert.Nil(t, report.Breach)
}

func TestAuditTimingAndOwnershipAreCritical(t *testing.T) {
	h := newHarness(t)
	h.ledger.Update(contract, func(c *ledgertest.Contract) {
		c.Details.EndTime = c.Details.EndTime.Add(time.Second)
		c.Owner = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	})

	report, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)

	assert.Equal(t, []string{CheckTiming, CheckOwnership}, report.Summary.FailedTypes)
	assert.Equal(t, 2, report.Summary.Critical)
	assert.Equal(t, 2, report.Record.Details.CriticalCount)
}

func TestAuditPhaseAndPlausibility(t *testing.T) {
	tests := []struct {
		name   string
		stored data.Phase
		state  ledger.State
		failed []string
	}{
		{"CancelledOnLedger", data.PhaseActive, ledger.StateCancelled, []string{CheckPhase}},
		{"BothCancelled", data.PhaseCancelled, ledger.StateCancelled, []string{}},
		{"LedgerLagging", data.PhaseActive, ledger.StateUpcoming, []string{CheckPhase, CheckStatePlausibility}},
		{"StoreLagging", data.PhaseUpcoming, ledger.StateActive, []string{CheckPhase}},
		{"UnknownState", data.PhaseActive, ledger.State(9), []string{CheckPhase, CheckStatePlausibility}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			e := h.election(t)
			e.Phase = tt.stored
			h.ledger.Update(contract, func(c *ledgertest.Contract) { c.Details.State = tt.state })

			report, err := h.engine.AuditElection(context.Background(), e)
			require.NoError(t, err)
			assert.Equal(t, tt.failed, report.Summary.FailedTypes)
		})
	}
}

func TestAuditRegistrationMatchesLedgerUpcoming(t *testing.T) {
	h := newHarness(t)
	e := h.election(t)
	e.Phase = data.PhaseRegistration
	e.StartTime, e.EndTime = now.Add(time.Hour), now.Add(2*time.Hour)
	h.ledger.Update(contract, func(c *ledgertest.Contract) {
		c.Details.State = ledger.StateUpcoming
		c.Details.StartTime = time.Unix(e.StartTime.Unix(), 0)
		c.Details.EndTime = time.Unix(e.EndTime.Unix(), 0)
	})

	report, err := h.engine.AuditElection(context.Background(), e)
	require.NoError(t, err)
	assert.Nil(t, report.Breach)
}

func TestAuditIsDeterministic(t *testing.T) {
	h := newHarness(t)
	h.ledger.Update(contract, func(c *ledgertest.Contract) {
		c.Stats.TotalVotes = 12
		c.Candidates = c.Candidates[:1]
	})

	first, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)
	second, err := h.engine.AuditElection(context.Background(), h.election(t))
	require.NoError(t, err)

	assert.Equal(t, first.Record.DiscrepancyFound, second.Record.DiscrepancyFound)
	assert.Equal(t, first.Record.Details.FailedTypes, second.Record.Details.FailedTypes)
	assert.Len(t, h.repo.AuditRecords(), 2)
	assert.Len(t, h.repo.Breaches(), 2)
}

func TestAuditRejectsInvalidContract(t *testing.T) {
	h := newHarness(t)
	e := h.election(t)
	bad := "0x1234"
	e.ContractAddress = &bad

	_, err := h.engine.AuditElection(context.Background(), e)
	assert.ErrorIs(t, err, data.ErrValidation)
	assert.Empty(t, h.repo.AuditRecords())
}

func TestRunAll(t *testing.T) {
	h := newHarness(t)

	other := "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
	broken := "not-an-address"
	h.repo.PutElection(&data.Election{ID: 2, Phase: data.PhaseActive, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), ContractAddress: &other, TotalVotes: 1, OwnerAddress: owner})
	h.repo.PutElection(&data.Election{ID: 3, Phase: data.PhaseActive, StartTime: now, EndTime: now.Add(time.Hour), ContractAddress: &broken})
	h.repo.PutElection(&data.Election{ID: 4, Phase: data.PhaseActive, StartTime: now, EndTime: now.Add(time.Hour)})

	res, err := h.engine.RunAll(context.Background())
	require.NoError(t, err)

	// election 2 has no contract on the ledger: every ledger check fails, the run goes on
	assert.Equal(t, RunResult{Audited: 2, Discrepancies: 1, Skipped: 1}, res)
	assert.Len(t, h.repo.AuditRecords(), 2)

	breaches := h.repo.Breaches()
	require.Len(t, breaches, 1)
	assert.Equal(t, int64(2), breaches[0].ElectionID)
	assert.Equal(t, Types(), breaches[0].IssueTypes)
}

func TestReconcileVoter(t *testing.T) {
	h := newHarness(t)
	h.repo.PutVoters(1, "alice", "bob")
	_, err := h.repo.RecordVote(context.Background(), 1, "alice", 1, now)
	require.NoError(t, err)
	h.ledger.Update(contract, func(c *ledgertest.Contract) { c.Voted["alice"] = true; c.Voted["carol"] = true })

	vs, err := h.engine.ReconcileVoter(context.Background(), 1, "alice")
	require.NoError(t, err)
	assert.True(t, vs.Consistent())

	vs, err = h.engine.ReconcileVoter(context.Background(), 1, "carol")
	require.NoError(t, err)
	assert.False(t, vs.Consistent())
	assert.True(t, vs.OnLedger)
	assert.False(t, vs.Stored)

	_, err = h.engine.ReconcileVoter(context.Background(), 1, " ")
	assert.ErrorIs(t, err, data.ErrValidation)
	_, err = h.engine.ReconcileVoter(context.Background(), 99, "alice")
	assert.ErrorIs(t, err, data.ErrNotFound)
}

func TestSummarize(t *testing.T) {
	s, messages := summarize([]data.CheckResult{
		{Type: CheckVoteCount, Message: "a"},
		{Type: CheckCandidates, Passed: true},
		{Type: CheckTiming, Message: "b"},
		{Type: CheckPhase, Message: "c"},
	})
	assert.Equal(t, Summary{Passed: 1, Failed: 3, Critical: 2, FailedTypes: []string{CheckVoteCount, CheckTiming, CheckPhase}}, s)
	assert.Equal(t, []string{"a", "b", "c"}, messages)
}

func checkTypes(results []data.CheckResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Type
	}
	return out
}

// flakyLedger fails GetStats while fail returns an error
type flakyLedger struct {
	ledger.Client
	fail func() error
}

func (f *flakyLedger) GetStats(ctx context.Context, contract string) (*ledger.Stats, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Client.GetStats(ctx, contract)
}

// failingRepo rejects every audit result write
type failingRepo struct {
	*data.MemoryRepository
	err error
}

func (f *failingRepo) SaveAuditResult(ctx context.Context, record *data.AuditRecord, breach *data.BreachRecord) error {
	return f.err
}
