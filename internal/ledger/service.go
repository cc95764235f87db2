package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chargestack/chargestack/internal/shared"
)

// AuditPort records audit trail rows for successful ledger operations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 50 * time.Millisecond
)

// Engine validates ledger operations, applies them atomically against the
// store and exposes balance and reconciliation queries. It holds no in-process
// lock: the store's row lock is the sole arbiter of mutual exclusion, which is
// what keeps multiple service instances sharing one database safe.
type Engine struct {
	repo        Repository
	audit       AuditPort
	lists       *ListCache
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

func NewEngine(repo Repository, audit AuditPort, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:        repo,
		audit:       audit,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		now:         time.Now,
	}
}

// WithListCache attaches a redis-backed cache for account listings.
func (e *Engine) WithListCache(cache *ListCache) *Engine {
	e.lists = cache
	return e
}

// WithRetry overrides the transient-failure retry policy.
func (e *Engine) WithRetry(attempts int, backoff time.Duration) *Engine {
	if attempts > 0 {
		e.maxAttempts = attempts
	}
	e.backoff = backoff
	return e
}

// ExecuteInput describes one credit or debit operation. Counterparty is only
// persisted for debits; credits always record a nil counterparty.
type ExecuteInput struct {
	AccountID    int64
	Kind         Kind
	Amount       int64
	Counterparty *int64
}

// CreateAccount persists a new account with the given opening balance.
func (e *Engine) CreateAccount(ctx context.Context, initialBalance int64) (Account, error) {
	if initialBalance < 0 {
		return Account{}, &InvalidAmountError{Amount: initialBalance}
	}
	account, err := e.repo.CreateAccount(ctx, initialBalance)
	if err != nil {
		return Account{}, markTransient(err)
	}
	e.invalidateLists(ctx)
	e.recordAudit(ctx, "account.create", account.ID, map[string]any{
		"initial_balance": initialBalance,
	})
	return account, nil
}

// Execute runs one credit or debit as a single unit of work: lock the account
// row, verify funds for debits, push the relative balance update, append the
// entry, commit. A transient store failure aborts with nothing committed and
// is retried in full with backoff up to the configured attempt limit.
func (e *Engine) Execute(ctx context.Context, in ExecuteInput) (Entry, error) {
	if in.Amount <= 0 {
		return Entry{}, &InvalidAmountError{Amount: in.Amount}
	}
	if in.Kind != KindCredit && in.Kind != KindDebit {
		return Entry{}, fmt.Errorf("ledger: unknown operation kind %q", in.Kind)
	}

	var entry Entry
	var err error
	for attempt := 1; ; attempt++ {
		entry, err = e.executeOnce(ctx, in)
		if err == nil || !errors.Is(err, ErrTransientStore) || attempt >= e.maxAttempts {
			break
		}
		e.logger.Warn("ledger execute retry",
			slog.Int64("account_id", in.AccountID),
			slog.String("kind", string(in.Kind)),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * e.backoff):
		}
	}
	if err != nil {
		return Entry{}, err
	}

	e.recordAudit(ctx, "ledger."+auditAction(in.Kind), in.AccountID, map[string]any{
		"amount":    in.Amount,
		"delta":     entry.Delta,
		"entry_id":  entry.ID,
		"reference": entry.Reference.String(),
	})
	return entry, nil
}

func (e *Engine) executeOnce(ctx context.Context, in ExecuteInput) (Entry, error) {
	var entry Entry
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountForUpdate(ctx, in.AccountID)
		if err != nil {
			return err
		}

		delta := in.Amount
		var counterparty *int64
		if in.Kind == KindDebit {
			if account.Balance < in.Amount {
				return &InsufficientBalanceError{
					AccountID: account.ID,
					Balance:   account.Balance,
					Requested: in.Amount,
				}
			}
			delta = -in.Amount
			counterparty = in.Counterparty
		}

		newBalance, err := tx.ApplyDelta(ctx, in.AccountID, delta)
		if err != nil {
			return err
		}
		if newBalance < 0 {
			// Unreachable after the funds check above; kept so a mutation can
			// never commit a negative balance regardless of the path taken.
			return &InvalidAmountError{Amount: in.Amount}
		}

		entry, err = tx.InsertEntry(ctx, in.AccountID, delta, counterparty, uuid.New())
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Get returns the account regardless of its active flag.
func (e *Engine) Get(ctx context.Context, id int64) (Account, error) {
	return e.repo.GetAccount(ctx, id)
}

// Balance returns the account's current balance. This is the fast path; the
// entry sum exists for reconciliation, not for serving reads.
func (e *Engine) Balance(ctx context.Context, id int64) (int64, error) {
	account, err := e.repo.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// List returns active accounts, consulting the listing cache when configured.
func (e *Engine) List(ctx context.Context, req ListAccountsRequest) ([]Account, int, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if e.lists != nil {
		if accounts, total, ok := e.lists.Get(ctx, req); ok {
			return accounts, total, nil
		}
	}
	accounts, total, err := e.repo.ListAccounts(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	if e.lists != nil {
		e.lists.Set(ctx, req, accounts, total)
	}
	return accounts, total, nil
}

// Entries returns the account's entry history in insertion order.
func (e *Engine) Entries(ctx context.Context, accountID int64, limit, offset int) ([]Entry, error) {
	if _, err := e.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return e.repo.ListEntries(ctx, accountID, limit, offset)
}

// SumOfEntries returns SUM(delta) over the account's entries, 0 when none exist.
func (e *Engine) SumOfEntries(ctx context.Context, accountID int64) (int64, error) {
	if _, err := e.repo.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}
	return e.repo.SumEntries(ctx, accountID)
}

// Reconcile checks the account against its history:
// balance == initial_balance + SUM(delta).
func (e *Engine) Reconcile(ctx context.Context, accountID int64) (ReconcileReport, error) {
	account, err := e.repo.GetAccount(ctx, accountID)
	if err != nil {
		return ReconcileReport{}, err
	}
	sum, err := e.repo.SumEntries(ctx, accountID)
	if err != nil {
		return ReconcileReport{}, err
	}
	return ReconcileReport{
		AccountID:      account.ID,
		Balance:        account.Balance,
		InitialBalance: account.InitialBalance,
		EntrySum:       sum,
		Consistent:     account.Balance == account.InitialBalance+sum,
	}, nil
}

// Deactivate soft-deletes the account. History is retained and the balance
// stays reconstructible from the ledger.
func (e *Engine) Deactivate(ctx context.Context, id int64) error {
	if err := e.repo.DeactivateAccount(ctx, id); err != nil {
		return err
	}
	e.invalidateLists(ctx)
	e.recordAudit(ctx, "account.deactivate", id, nil)
	return nil
}

func (e *Engine) invalidateLists(ctx context.Context) {
	if e.lists == nil {
		return
	}
	if err := e.lists.Invalidate(ctx); err != nil {
		e.logger.Warn("invalidate listing cache", slog.Any("error", err))
	}
}

func (e *Engine) recordAudit(ctx context.Context, action string, accountID int64, meta map[string]any) {
	if e.audit == nil {
		return
	}
	err := e.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "account",
		EntityID: strconv.FormatInt(accountID, 10),
		Meta:     meta,
		At:       e.now(),
	})
	if err != nil {
		e.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func auditAction(kind Kind) string {
	if kind == KindDebit {
		return "debit"
	}
	return "credit"
}
