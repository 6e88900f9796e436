package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const electionColumns = `
	id, title, phase, start_date, end_date, finalization_date, merkle_root,
	total_votes, contract_address, owner_address, revoked, is_draft, updated_at`

// PostgresRepository implements Repository interface using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Ensure PostgresRepository implements the Repository interface
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository on top of an already connected pool.
// The pool is owned by the caller.
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		pool:   pool,
		logger: logger.Named("repository"),
	}
}

// GetElection retrieves an election by ID
func (r *PostgresRepository) GetElection(ctx context.Context, id int64) (*Election, error) {
	query := `SELECT` + electionColumns + ` FROM elections WHERE id = $1`

	e, err := scanElection(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("get election", "election %d", id)
		}
		return nil, fmt.Errorf("querying election %d: %w", id, err)
	}
	return e, nil
}

// ListTimeTrackedElections returns elections whose phase follows their time window
func (r *PostgresRepository) ListTimeTrackedElections(ctx context.Context) ([]*Election, error) {
	query := `SELECT` + electionColumns + `
		FROM elections
		WHERE phase IN ('upcoming', 'active') AND NOT revoked AND NOT is_draft
		ORDER BY id`

	return r.queryElections(ctx, query)
}

// ListFinalizableElections returns registration-phase elections due for finalization
func (r *PostgresRepository) ListFinalizableElections(ctx context.Context, now time.Time) ([]*Election, error) {
	query := `SELECT` + electionColumns + `
		FROM elections
		WHERE phase = 'registration'
		  AND finalization_date IS NOT NULL
		  AND finalization_date <= $1
		  AND merkle_root IS NULL
		  AND NOT revoked AND NOT is_draft
		ORDER BY finalization_date, id`

	return r.queryElections(ctx, query, now.UTC())
}

// ListAuditableElections returns elections that have been deployed to the ledger
func (r *PostgresRepository) ListAuditableElections(ctx context.Context) ([]*Election, error) {
	query := `SELECT` + electionColumns + `
		FROM elections
		WHERE contract_address IS NOT NULL AND contract_address <> ''
		ORDER BY id`

	return r.queryElections(ctx, query)
}

// UpdatePhase moves an election from one phase to another. It reports false when the
// stored phase no longer equals from, which makes concurrent recomputes idempotent.
func (r *PostgresRepository) UpdatePhase(ctx context.Context, id int64, from, to Phase, at time.Time) (bool, error) {
	query := `UPDATE elections SET phase = $1, updated_at = $2 WHERE id = $3 AND phase = $4`

	result, err := r.pool.Exec(ctx, query, string(to), at.UTC(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("updating phase of election %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

// CommitFinalization stores the merkle root and opens the election in one transaction
func (r *PostgresRepository) CommitFinalization(ctx context.Context, id int64, root string, at time.Time) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE elections
			SET phase = 'upcoming', merkle_root = $1, updated_at = $2
			WHERE id = $3 AND phase = 'registration' AND merkle_root IS NULL`

		result, err := tx.Exec(ctx, query, root, at.UTC(), id)
		if err != nil {
			return fmt.Errorf("committing finalization of election %d: %w", id, err)
		}
		if result.RowsAffected() == 0 {
			return r.conflictOrNotFound(ctx, tx, "commit finalization", id)
		}
		return nil
	})
}

// CancelElection moves an election into the terminal cancelled phase
func (r *PostgresRepository) CancelElection(ctx context.Context, id int64, from Phase, at time.Time) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		query := `UPDATE elections SET phase = 'cancelled', updated_at = $1 WHERE id = $2 AND phase = $3`

		result, err := tx.Exec(ctx, query, at.UTC(), id, string(from))
		if err != nil {
			return fmt.Errorf("cancelling election %d: %w", id, err)
		}
		if result.RowsAffected() == 0 {
			return r.conflictOrNotFound(ctx, tx, "cancel election", id)
		}
		return nil
	})
}

// ListCandidates returns the stored candidate set of an election
func (r *PostgresRepository) ListCandidates(ctx context.Context, electionID int64) ([]Candidate, error) {
	query := `
		SELECT election_id, candidate_id, name
		FROM candidates
		WHERE election_id = $1
		ORDER BY candidate_id`

	rows, err := r.pool.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ElectionID, &c.CandidateID, &c.Name); err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidate rows: %w", err)
	}
	return candidates, nil
}

// ListEligibleVoters returns the voter identifiers registered for an election
func (r *PostgresRepository) ListEligibleVoters(ctx context.Context, electionID int64) ([]string, error) {
	query := `
		SELECT voter_identifier
		FROM eligible_voters
		WHERE election_id = $1
		ORDER BY voter_identifier`

	rows, err := r.pool.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("querying eligible voters: %w", err)
	}
	defer rows.Close()

	voters, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting eligible voters: %w", err)
	}
	return voters, nil
}

// SaveAuditResult stores an audit record together with its breach, if any, in one
// transaction. A failure on either insert leaves neither behind.
func (r *PostgresRepository) SaveAuditResult(ctx context.Context, record *AuditRecord, breach *BreachRecord) error {
	if record == nil {
		return NewError(KindValidation, "save audit result", errors.New("audit record is required"))
	}
	details, err := json.Marshal(record.Details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}

	return r.withTx(ctx, func(tx pgx.Tx) error {
		if breach != nil {
			_, err := tx.Exec(ctx, `
				INSERT INTO breaches (id, election_id, issue_type, description, detected_at, resolved, resolved_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				breach.ID, breach.ElectionID, breach.IssueTypeColumn(), breach.Description,
				breach.DetectedAt, breach.Resolved, breach.ResolvedAt,
			)
			if err != nil {
				if isPgError(err, pgForeignKeyViolation) {
					return notFound("save audit result", "election %d", breach.ElectionID)
				}
				return fmt.Errorf("inserting breach: %w", err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO audit_logs (id, election_id, check_time, discrepancy_found, details)
			VALUES ($1, $2, $3, $4, $5::jsonb)`,
			record.ID, record.ElectionID, record.CheckTime, record.DiscrepancyFound, string(details),
		)
		if err != nil {
			if isPgError(err, pgForeignKeyViolation) {
				return notFound("save audit result", "election %d", record.ElectionID)
			}
			return fmt.Errorf("inserting audit record: %w", err)
		}
		return nil
	})
}

// ListOpenBreaches returns unresolved breaches, for one election or for all when electionID is 0
func (r *PostgresRepository) ListOpenBreaches(ctx context.Context, electionID int64) ([]*BreachRecord, error) {
	query := `
		SELECT id::text, election_id, issue_type, description, detected_at, resolved, resolved_at
		FROM breaches
		WHERE NOT resolved AND ($1::bigint = 0 OR election_id = $1::bigint)
		ORDER BY detected_at, id`

	rows, err := r.pool.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("querying breaches: %w", err)
	}
	defer rows.Close()

	var breaches []*BreachRecord
	for rows.Next() {
		b := &BreachRecord{}
		var issueTypes string
		if err := rows.Scan(&b.ID, &b.ElectionID, &issueTypes, &b.Description,
			&b.DetectedAt, &b.Resolved, &b.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scanning breach row: %w", err)
		}
		b.IssueTypes = ParseIssueTypes(issueTypes)
		breaches = append(breaches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating breach rows: %w", err)
	}
	return breaches, nil
}

// ResolveBreach marks a breach as handled by an operator
func (r *PostgresRepository) ResolveBreach(ctx context.Context, id string, at time.Time) error {
	if err := validBreachID(id); err != nil {
		return err
	}

	query := `UPDATE breaches SET resolved = TRUE, resolved_at = $1 WHERE id = $2 AND NOT resolved`

	result, err := r.pool.Exec(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("resolving breach %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return notFound("resolve breach", "open breach %s", id)
	}
	return nil
}

// RecordVote inserts the vote marker, appends the vote log and bumps the election
// counter inside a single transaction.
func (r *PostgresRepository) RecordVote(ctx context.Context, electionID int64, voterID string, candidateID int64, at time.Time) (*VoteLogEntry, error) {
	entry := NewVoteLogEntry(electionID, voterID, at)

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO vote_markers (election_id, voter_id, created_at) VALUES ($1, $2, $3)`,
			electionID, voterID, entry.RecordedAt)
		if err != nil {
			switch {
			case isPgError(err, pgUniqueViolation):
				return NewError(KindDuplicateVote, "record vote",
					fmt.Errorf("%w: voter %s in election %d", ErrDuplicateVote, voterID, electionID))
			case isPgError(err, pgForeignKeyViolation):
				return notFound("record vote", "election %d", electionID)
			}
			return fmt.Errorf("inserting vote marker: %w", err)
		}

		var known bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM candidates WHERE election_id = $1 AND candidate_id = $2)`,
			electionID, candidateID).Scan(&known)
		if err != nil {
			return fmt.Errorf("checking candidate: %w", err)
		}
		if !known {
			return notFound("record vote", "candidate %d in election %d", candidateID, electionID)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO vote_log (id, election_id, voter_id, recorded_at) VALUES ($1, $2, $3, $4)`,
			entry.ID, entry.ElectionID, entry.VoterID, entry.RecordedAt)
		if err != nil {
			return fmt.Errorf("appending vote log: %w", err)
		}

		result, err := tx.Exec(ctx, `
			UPDATE elections
			SET total_votes = total_votes + 1, updated_at = $1
			WHERE id = $2 AND phase = 'active' AND NOT revoked`,
			entry.RecordedAt, electionID)
		if err != nil {
			return fmt.Errorf("incrementing vote counter: %w", err)
		}
		if result.RowsAffected() == 0 {
			return NewError(KindValidation, "record vote",
				fmt.Errorf("%w: election %d", ErrNotAcceptingVotes, electionID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// HasVoted reports whether a vote marker exists for the voter
func (r *PostgresRepository) HasVoted(ctx context.Context, electionID int64, voterID string) (bool, error) {
	var voted bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM vote_markers WHERE election_id = $1 AND voter_id = $2)`,
		electionID, voterID).Scan(&voted)
	if err != nil {
		return false, fmt.Errorf("querying vote marker: %w", err)
	}
	return voted, nil
}

// Private methods

// withTx runs fn inside a transaction that is committed on success and rolled back
// on every other exit path.
func (r *PostgresRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) conflictOrNotFound(ctx context.Context, tx pgx.Tx, op string, id int64) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM elections WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking election %d: %w", id, err)
	}
	if !exists {
		return notFound(op, "election %d", id)
	}
	return NewError(KindValidation, op, fmt.Errorf("%w: election %d", ErrPhaseConflict, id))
}

func (r *PostgresRepository) queryElections(ctx context.Context, query string, args ...any) ([]*Election, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying elections: %w", err)
	}
	defer rows.Close()

	var elections []*Election
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning election row: %w", err)
		}
		elections = append(elections, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating election rows: %w", err)
	}
	return elections, nil
}

func scanElection(row pgx.Row) (*Election, error) {
	e := &Election{}
	var phase string
	err := row.Scan(
		&e.ID, &e.Title, &phase, &e.StartTime, &e.EndTime, &e.FinalizationTime, &e.MerkleRoot,
		&e.TotalVotes, &e.ContractAddress, &e.OwnerAddress, &e.Revoked, &e.IsDraft, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Phase = Phase(phase)
	return e, nil
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Helper function to check for PostgreSQL error codes
func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
