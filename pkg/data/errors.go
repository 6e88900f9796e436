package data

import (
	"errors"
	"fmt"
)

// Kind classifies errors surfaced by the engine
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindDuplicateVote
	KindLedgerUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDuplicateVote:
		return "duplicate_vote"
	case KindLedgerUnavailable:
		return "ledger_unavailable"
	default:
		return "unknown"
	}
}

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateVote     = errors.New("already voted")
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	ErrInvalidID         = errors.New("invalid identifier")
	ErrInvalidPhase      = errors.New("invalid phase")
	ErrInvalidTime       = errors.New("invalid election time window")
	ErrPhaseConflict     = errors.New("election phase changed concurrently")
	ErrNotAcceptingVotes = errors.New("election is not accepting votes")
)

// Error is the tagged error returned by store, ledger and engine operations
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that produced it
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel so errors.Is(err, ErrNotFound) works on any wrapped Error
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrDuplicateVote:
		return e.Kind == KindDuplicateVote
	case ErrLedgerUnavailable:
		return e.Kind == KindLedgerUnavailable
	}
	return false
}

// KindOf returns the kind of the first tagged error in err's chain, or 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func notFound(op string, format string, args ...any) error {
	return NewError(KindNotFound, op, fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...))
}
