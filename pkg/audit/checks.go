package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"election_engine/pkg/data"
	"election_engine/pkg/ledger"
	"election_engine/pkg/status"
	"election_engine/pkg/utils"
)

// Check types, in battery order
const (
	CheckVoteCount               = "vote_count_integrity"
	CheckCandidates              = "candidate_integrity"
	CheckPhase                   = "phase_integrity"
	CheckTiming                  = "timing_integrity"
	CheckOwnership               = "ownership_integrity"
	CheckStatePlausibility       = "state_plausibility"
	CheckCandidateReconciliation = "candidate_reconciliation"
)

// critical checks count towards AuditDetails.CriticalCount
var critical = map[string]bool{
	CheckVoteCount: true,
	CheckOwnership: true,
	CheckTiming:    true,
}

// IsCritical reports whether a failing check of this type is critical
func IsCritical(checkType string) bool {
	return critical[checkType]
}

type check struct {
	kind string
	run  func(ctx context.Context, in *inputs) data.CheckResult
}

var battery = []check{
	{CheckVoteCount, checkVoteCount},
	{CheckCandidates, checkCandidates},
	{CheckPhase, checkPhase},
	{CheckTiming, checkTiming},
	{CheckOwnership, checkOwnership},
	{CheckStatePlausibility, checkStatePlausibility},
	{CheckCandidateReconciliation, checkCandidateReconciliation},
}

// Types returns the check types in the order they run
func Types() []string {
	return lo.Map(battery, func(c check, _ int) string { return c.kind })
}

// inputs is everything one audit pass compares. Ledger reads are fetched on
// first use and shared by the checks that need them.
type inputs struct {
	election *data.Election
	contract string
	now      time.Time

	repo   data.Repository
	client ledger.Client
	retry  *utils.RetryConfig

	stats      lazy[*ledger.Stats]
	candidates lazy[[]ledger.Candidate]
	state      lazy[ledger.State]
	details    lazy[*ledger.Details]
	owner      lazy[string]
	stored     lazy[[]data.Candidate]
}

type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(fn func() (T, error)) (T, error) {
	l.once.Do(func() { l.val, l.err = fn() })
	return l.val, l.err
}

// read runs a ledger read with the configured retries
func read[T any](ctx context.Context, in *inputs, fn func(context.Context, string) (T, error)) (T, error) {
	var out T
	err := utils.RetryWithBackoff(ctx, func() error {
		v, err := fn(ctx, in.contract)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, in.retry)
	return out, err
}

func (in *inputs) ledgerStats(ctx context.Context) (*ledger.Stats, error) {
	return in.stats.get(func() (*ledger.Stats, error) { return read(ctx, in, in.client.GetStats) })
}

func (in *inputs) ledgerCandidates(ctx context.Context) ([]ledger.Candidate, error) {
	return in.candidates.get(func() ([]ledger.Candidate, error) { return read(ctx, in, in.client.GetCandidates) })
}

func (in *inputs) ledgerState(ctx context.Context) (ledger.State, error) {
	return in.state.get(func() (ledger.State, error) { return read(ctx, in, in.client.GetState) })
}

func (in *inputs) ledgerDetails(ctx context.Context) (*ledger.Details, error) {
	return in.details.get(func() (*ledger.Details, error) { return read(ctx, in, in.client.GetDetails) })
}

func (in *inputs) ledgerOwner(ctx context.Context) (string, error) {
	return in.owner.get(func() (string, error) { return read(ctx, in, in.client.GetOwner) })
}

func (in *inputs) storedCandidates(ctx context.Context) ([]data.Candidate, error) {
	return in.stored.get(func() ([]data.Candidate, error) {
		return in.repo.ListCandidates(ctx, in.election.ID)
	})
}

func pass(kind, msg string, detail map[string]any) data.CheckResult {
	return data.CheckResult{Type: kind, Passed: true, Message: msg, Detail: detail}
}

func fail(kind, msg string, detail map[string]any) data.CheckResult {
	return data.CheckResult{Type: kind, Passed: false, Message: msg, Detail: detail}
}

func unreachable(kind string, err error) data.CheckResult {
	return fail(kind, fmt.Sprintf("%s: ledger read failed: %v", kind, err), map[string]any{"error": err.Error()})
}

func checkVoteCount(ctx context.Context, in *inputs) data.CheckResult {
	stats, err := in.ledgerStats(ctx)
	if err != nil {
		return unreachable(CheckVoteCount, err)
	}

	detail := map[string]any{"stored": in.election.TotalVotes, "ledger": stats.TotalVotes}
	if in.election.TotalVotes != stats.TotalVotes {
		return fail(CheckVoteCount, fmt.Sprintf("vote count mismatch: stored %d, ledger %d",
			in.election.TotalVotes, stats.TotalVotes), detail)
	}
	return pass(CheckVoteCount, "vote counts match", detail)
}

func checkCandidates(ctx context.Context, in *inputs) data.CheckResult {
	onLedger, err := in.ledgerCandidates(ctx)
	if err != nil {
		return unreachable(CheckCandidates, err)
	}
	stored, err := in.storedCandidates(ctx)
	if err != nil {
		return fail(CheckCandidates, fmt.Sprintf("loading stored candidates: %v", err), nil)
	}

	storedIDs := lo.Map(stored, func(c data.Candidate, _ int) int64 { return c.CandidateID })
	ledgerIDs := lo.Map(onLedger, func(c ledger.Candidate, _ int) int64 { return c.ID })
	onlyStored, onlyLedger := lo.Difference(lo.Uniq(storedIDs), lo.Uniq(ledgerIDs))

	detail := map[string]any{
		"stored_count": len(storedIDs),
		"ledger_count": len(ledgerIDs),
		"only_stored":  onlyStored,
		"only_ledger":  onlyLedger,
	}
	if len(onlyStored) > 0 || len(onlyLedger) > 0 || len(storedIDs) != len(ledgerIDs) {
		return fail(CheckCandidates, fmt.Sprintf("candidate set mismatch: stored %d, ledger %d, missing on ledger %v, missing in store %v",
			len(storedIDs), len(ledgerIDs), onlyStored, onlyLedger), detail)
	}
	return pass(CheckCandidates, "candidate sets match", detail)
}

func checkPhase(ctx context.Context, in *inputs) data.CheckResult {
	state, err := in.ledgerState(ctx)
	if err != nil {
		return unreachable(CheckPhase, err)
	}

	stored := in.election.Phase
	detail := map[string]any{"stored": stored.String(), "ledger": state.String(), "ledger_state": uint8(state)}

	mapped, ok := state.Phase()
	if !ok {
		return fail(CheckPhase, fmt.Sprintf("ledger reports unknown state %d", uint8(state)), detail)
	}
	// the ledger has no registration state
	if stored == data.PhaseRegistration && mapped == data.PhaseUpcoming {
		return pass(CheckPhase, "phases match", detail)
	}
	if stored != mapped {
		return fail(CheckPhase, fmt.Sprintf("phase mismatch: stored %s, ledger %s", stored, mapped), detail)
	}
	return pass(CheckPhase, "phases match", detail)
}

func checkTiming(ctx context.Context, in *inputs) data.CheckResult {
	details, err := in.ledgerDetails(ctx)
	if err != nil {
		return unreachable(CheckTiming, err)
	}

	storedStart, storedEnd := in.election.StartTime.Unix(), in.election.EndTime.Unix()
	ledgerStart, ledgerEnd := details.StartTime.Unix(), details.EndTime.Unix()
	detail := map[string]any{
		"stored_start": storedStart,
		"stored_end":   storedEnd,
		"ledger_start": ledgerStart,
		"ledger_end":   ledgerEnd,
	}

	var mismatches []string
	if storedStart != ledgerStart {
		mismatches = append(mismatches, fmt.Sprintf("start stored %d, ledger %d", storedStart, ledgerStart))
	}
	if storedEnd != ledgerEnd {
		mismatches = append(mismatches, fmt.Sprintf("end stored %d, ledger %d", storedEnd, ledgerEnd))
	}
	if len(mismatches) > 0 {
		return fail(CheckTiming, "timing mismatch: "+strings.Join(mismatches, ", "), detail)
	}
	return pass(CheckTiming, "start and end times match", detail)
}

func checkOwnership(ctx context.Context, in *inputs) data.CheckResult {
	owner, err := in.ledgerOwner(ctx)
	if err != nil {
		return unreachable(CheckOwnership, err)
	}

	stored := strings.TrimSpace(in.election.OwnerAddress)
	owner = strings.TrimSpace(owner)
	detail := map[string]any{"stored": stored, "ledger": owner}
	if stored == "" || !strings.EqualFold(stored, owner) {
		return fail(CheckOwnership, fmt.Sprintf("owner mismatch: stored %q, ledger %q", stored, owner), detail)
	}
	return pass(CheckOwnership, "owners match", detail)
}

func checkStatePlausibility(ctx context.Context, in *inputs) data.CheckResult {
	state, err := in.ledgerState(ctx)
	if err != nil {
		return unreachable(CheckStatePlausibility, err)
	}

	now := in.now
	expected := status.DerivePhase(now, in.election.StartTime, in.election.EndTime)
	detail := map[string]any{"expected": expected.String(), "ledger": state.String(), "at": now.Unix()}

	if state == ledger.StateCancelled {
		return pass(CheckStatePlausibility, "ledger election cancelled", detail)
	}
	mapped, ok := state.Phase()
	if !ok || mapped != expected {
		return fail(CheckStatePlausibility, fmt.Sprintf("ledger state %s implausible, times imply %s", state, expected), detail)
	}
	return pass(CheckStatePlausibility, "ledger state consistent with election times", detail)
}

func checkCandidateReconciliation(ctx context.Context, in *inputs) data.CheckResult {
	onLedger, err := in.ledgerCandidates(ctx)
	if err != nil {
		return unreachable(CheckCandidateReconciliation, err)
	}
	stored, err := in.storedCandidates(ctx)
	if err != nil {
		return fail(CheckCandidateReconciliation, fmt.Sprintf("loading stored candidates: %v", err), nil)
	}

	known := lo.SliceToMap(stored, func(c data.Candidate) (int64, bool) { return c.CandidateID, true })
	missing := lo.Filter(onLedger, func(c ledger.Candidate, _ int) bool { return !known[c.ID] })

	// tallies are kept on the ledger only
	tallies := lo.Map(onLedger, func(c ledger.Candidate, _ int) map[string]any {
		return map[string]any{"candidate_id": c.ID, "ledger_votes": c.VoteCount, "stored_votes": "unverifiable"}
	})
	detail := map[string]any{
		"missing_in_store": lo.Map(missing, func(c ledger.Candidate, _ int) int64 { return c.ID }),
		"tallies":          tallies,
	}

	if len(missing) > 0 {
		names := lo.Map(missing, func(c ledger.Candidate, _ int) string { return fmt.Sprintf("%d (%s)", c.ID, c.Name) })
		return fail(CheckCandidateReconciliation, "ledger candidates missing from store: "+strings.Join(names, ", "), detail)
	}
	return pass(CheckCandidateReconciliation, "every ledger candidate is known to the store", detail)
}
