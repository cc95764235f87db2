package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chargestack/chargestack/internal/platform/db"
)

// Repository encapsulates store operations for the credit ledger.
// Mutations that must be atomic with the entry append run through WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateAccount(ctx context.Context, initialBalance int64) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context, req ListAccountsRequest) ([]Account, int, error)
	ListEntries(ctx context.Context, accountID int64, limit, offset int) ([]Entry, error)
	SumEntries(ctx context.Context, accountID int64) (int64, error)
	DeactivateAccount(ctx context.Context, id int64) error
}

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	// GetAccountForUpdate loads the account under a row lock, serializing
	// concurrent writers on the same account for the rest of the transaction.
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	// ApplyDelta pushes a relative balance update to the store and returns
	// the authoritative post-update balance.
	ApplyDelta(ctx context.Context, id int64, delta int64) (int64, error)
	InsertEntry(ctx context.Context, accountID int64, delta int64, counterparty *int64, reference uuid.UUID) (Entry, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return markTransient(err)
}

const accountColumns = `id, balance, initial_balance, is_active, created_at, updated_at`

func (r *repository) CreateAccount(ctx context.Context, initialBalance int64) (Account, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO accounts (balance, initial_balance)
VALUES ($1, $1) RETURNING `+accountColumns, initialBalance)
	return scanAccount(row)
}

func (r *repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return account, nil
}

func (r *repository) ListAccounts(ctx context.Context, req ListAccountsRequest) ([]Account, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE is_active`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE is_active ORDER BY id LIMIT $1 OFFSET $2`, req.Limit, req.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, account)
	}
	return accounts, total, rows.Err()
}

func (r *repository) ListEntries(ctx context.Context, accountID int64, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, account_id, counterparty, delta, reference, created_at
FROM ledger_entries WHERE account_id = $1 ORDER BY id LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Counterparty, &e.Delta, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) SumEntries(ctx context.Context, accountID int64) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries
WHERE account_id = $1`, accountID).Scan(&sum)
	return sum, err
}

func (r *repository) DeactivateAccount(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE accounts SET is_active = FALSE, updated_at = NOW()
WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return account, nil
}

func (r *txRepository) ApplyDelta(ctx context.Context, id int64, delta int64) (int64, error) {
	var balance int64
	err := r.tx.QueryRow(ctx, `UPDATE accounts SET balance = balance + $2, updated_at = NOW()
WHERE id = $1 RETURNING balance`, id, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, accountID int64, delta int64, counterparty *int64, reference uuid.UUID) (Entry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries (account_id, counterparty, delta, reference)
VALUES ($1, $2, $3, $4) RETURNING id, created_at`, accountID, counterparty, delta, reference)
	entry := Entry{
		AccountID:    accountID,
		Counterparty: counterparty,
		Delta:        delta,
		Reference:    reference,
	}
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Balance, &a.InitialBalance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
