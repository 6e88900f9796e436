// Package audit reconciles stored elections against their ledger contracts
// and records every divergence it finds.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"election_engine/pkg/data"
	"election_engine/pkg/events"
	"election_engine/pkg/ledger"
	"election_engine/pkg/utils"
)

// Summary aggregates the checks of one audit pass
type Summary struct {
	Passed      int
	Failed      int
	Critical    int
	FailedTypes []string
}

// Report is the outcome of auditing one election
type Report struct {
	Summary Summary
	Record  *data.AuditRecord
	// Breach is nil when every check passed
	Breach *data.BreachRecord
}

// RunResult counts the elections handled by RunAll
type RunResult struct {
	Audited       int
	Discrepancies int
	Skipped       int
	Failed        int
}

// VoterStatus compares the stored and the on-ledger voting status of one voter
type VoterStatus struct {
	ElectionID int64
	VoterID    string
	Stored     bool
	OnLedger   bool
}

// Consistent reports whether store and ledger agree
func (v VoterStatus) Consistent() bool {
	return v.Stored == v.OnLedger
}

// Engine runs the check battery
type Engine struct {
	repo      data.Repository
	ledger    ledger.Client
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
	retry     *utils.RetryConfig
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRetryAttempts sets how many times a failed ledger read is retried
func WithRetryAttempts(n int) Option {
	return func(e *Engine) { e.retry.MaxAttempts = n + 1 }
}

// NewEngine creates an audit engine reading the store through repo and the
// ledger through client. Unavailable ledger reads are retried with backoff.
func NewEngine(repo data.Repository, client ledger.Client, publisher events.Publisher, logger *zap.Logger, opts ...Option) *Engine {
	retry := utils.DefaultRetryConfig()
	retry.RetryableErrors = []error{data.ErrLedgerUnavailable}

	e := &Engine{
		repo:      repo,
		ledger:    client,
		publisher: publisher,
		logger:    logger.Named("audit"),
		now:       time.Now,
		retry:     retry,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunAll audits every election deployed to the ledger. A failure on one
// election is logged and does not stop the others.
func (e *Engine) RunAll(ctx context.Context) (RunResult, error) {
	elections, err := e.repo.ListAuditableElections(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("listing auditable elections: %w", err)
	}

	var res RunResult
	for _, election := range elections {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !ledger.ValidAddress(election.Contract()) {
			res.Skipped++
			e.logger.Debug("Skipping election without valid contract address",
				zap.Int64("electionID", election.ID),
				zap.String("contract", election.Contract()))
			continue
		}

		report, err := e.AuditElection(ctx, election)
		if err != nil {
			res.Failed++
			e.logger.Error("Audit failed",
				zap.Int64("electionID", election.ID),
				zap.Error(err))
			continue
		}
		res.Audited++
		if report.Breach != nil {
			res.Discrepancies++
		}
	}

	e.logger.Info("Audit run completed",
		zap.Int("elections", len(elections)),
		zap.Int("audited", res.Audited),
		zap.Int("discrepancies", res.Discrepancies),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// AuditElection runs the battery against one election and persists the
// audit record, plus a breach when any check failed. Ledger failures are
// failed checks; only persistence errors are returned.
func (e *Engine) AuditElection(ctx context.Context, election *data.Election) (*Report, error) {
	contract := election.Contract()
	if !ledger.ValidAddress(contract) {
		return nil, data.NewError(data.KindValidation, "audit election",
			fmt.Errorf("election %d has no valid contract address", election.ID))
	}

	now := e.now().UTC()
	in := &inputs{
		election: election,
		contract: contract,
		now:      now,
		repo:     e.repo,
		client:   e.ledger,
		retry:    e.retry,
	}

	results := make([]data.CheckResult, 0, len(battery))
	for _, c := range battery {
		results = append(results, c.run(ctx, in))
	}

	summary, messages := summarize(results)
	report := &Report{
		Summary: summary,
		Record: data.NewAuditRecord(election.ID, now, data.AuditDetails{
			ContractAddress: contract,
			PassedCount:     summary.Passed,
			FailedCount:     summary.Failed,
			CriticalCount:   summary.Critical,
			FailedTypes:     summary.FailedTypes,
			Checks:          results,
		}),
	}

	if summary.Failed > 0 {
		report.Breach = data.NewBreachRecord(election.ID, summary.FailedTypes, strings.Join(messages, "; "), now)
	}
	if err := e.repo.SaveAuditResult(ctx, report.Record, report.Breach); err != nil {
		return nil, fmt.Errorf("saving audit result: %w", err)
	}

	logger := e.logger.With(
		zap.Int64("electionID", election.ID),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Int("critical", summary.Critical))
	if report.Breach == nil {
		logger.Debug("Election audit clean")
		return report, nil
	}

	logger.Warn("Election audit found discrepancies",
		zap.Strings("issueTypes", summary.FailedTypes),
		zap.String("breachID", report.Breach.ID))
	if err := e.publisher.Publish(ctx, events.Breach(report.Breach)); err != nil {
		e.logger.Warn("Failed to publish breach event",
			zap.Int64("electionID", election.ID),
			zap.Error(err))
	}
	return report, nil
}

// ReconcileVoter compares the stored vote marker of one voter with the
// contract's record.
func (e *Engine) ReconcileVoter(ctx context.Context, electionID int64, voterID string) (*VoterStatus, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return nil, data.NewError(data.KindValidation, "reconcile voter", data.ErrInvalidID)
	}

	election, err := e.repo.GetElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	contract := election.Contract()
	if !ledger.ValidAddress(contract) {
		return nil, data.NewError(data.KindValidation, "reconcile voter",
			fmt.Errorf("election %d has no valid contract address", electionID))
	}

	stored, err := e.repo.HasVoted(ctx, electionID, voterID)
	if err != nil {
		return nil, fmt.Errorf("reading vote marker: %w", err)
	}

	var onLedger bool
	err = utils.RetryWithBackoff(ctx, func() error {
		var err error
		onLedger, err = e.ledger.HasVoted(ctx, contract, voterID)
		return err
	}, e.retry)
	if err != nil {
		return nil, err
	}

	vs := &VoterStatus{ElectionID: electionID, VoterID: voterID, Stored: stored, OnLedger: onLedger}
	if !vs.Consistent() {
		e.logger.Warn("Voter status diverges",
			zap.Int64("electionID", electionID),
			zap.String("voterID", voterID),
			zap.Bool("stored", stored),
			zap.Bool("onLedger", onLedger))
	}
	return vs, nil
}

func summarize(results []data.CheckResult) (Summary, []string) {
	s := Summary{FailedTypes: []string{}}
	var messages []string
	for _, r := range results {
		if r.Passed {
			s.Passed++
			continue
		}
		s.Failed++
		s.FailedTypes = append(s.FailedTypes, r.Type)
		messages = append(messages, r.Message)
		if IsCritical(r.Type) {
			s.Critical++
		}
	}
	return s, messages
}
