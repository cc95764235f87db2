package ledger

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrAccountNotFound indicates an unknown account id.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrTransientStore marks store failures that left nothing committed and
	// are safe to retry in full: lock-wait timeouts, deadlocks, serialization
	// conflicts.
	ErrTransientStore = errors.New("ledger: transient store failure")
)

// InvalidAmountError reports a caller-supplied amount outside the allowed range.
type InvalidAmountError struct {
	Amount int64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("ledger: invalid amount %d", e.Amount)
}

// InsufficientBalanceError reports a debit exceeding the current balance.
// Both values are kept for diagnostics.
type InsufficientBalanceError struct {
	AccountID int64
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ledger: insufficient balance on account %d: have %d, requested %d",
		e.AccountID, e.Balance, e.Requested)
}

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// markTransient wraps retryable Postgres failures with ErrTransientStore and
// returns every other error unchanged. These SQLSTATEs abort the transaction,
// so re-running the whole unit of work observes no partial state.
func markTransient(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %v", ErrTransientStore, err)
		}
	}
	return err
}
