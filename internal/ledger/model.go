package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the direction of a ledger operation.
type Kind string

const (
	KindCredit Kind = "CREDIT"
	KindDebit  Kind = "DEBIT"
)

// Account is a merchant's credit balance record. The balance is held in the
// smallest currency unit and is mutated only through Engine.Execute, so
// balance == initial_balance + SUM(delta over the account's entries) at every
// observable point.
type Account struct {
	ID             int64     `json:"id" db:"id"`
	Balance        int64     `json:"balance" db:"balance"`
	InitialBalance int64     `json:"initial_balance" db:"initial_balance"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Entry is an immutable audit record of one balance-changing operation.
// Delta carries the sign: positive for credits, negative for debits.
// Counterparty is the phone/reference a debit was spent on, nil for credits.
// Reference is a server-generated trace handle, not an idempotency key.
type Entry struct {
	ID           int64     `json:"id" db:"id"`
	AccountID    int64     `json:"account_id" db:"account_id"`
	Counterparty *int64    `json:"counterparty,omitempty" db:"counterparty"`
	Delta        int64     `json:"delta" db:"delta"`
	Reference    uuid.UUID `json:"reference" db:"reference"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ReconcileReport compares an account's balance against its entry history.
type ReconcileReport struct {
	AccountID      int64 `json:"account_id"`
	Balance        int64 `json:"balance"`
	InitialBalance int64 `json:"initial_balance"`
	EntrySum       int64 `json:"entry_sum"`
	Consistent     bool  `json:"consistent"`
}
