package ledgerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargestack/chargestack/internal/ledger"
)

// fakeRepo is an in-memory ledger.Repository for exercising the HTTP layer
// through a real Engine. Handler tests run sequentially, so no locking and no
// rollback machinery is needed here.
type fakeRepo struct {
	accounts map[int64]*ledger.Account
	entries  []ledger.Entry
	nextID   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{accounts: make(map[int64]*ledger.Account), nextID: 1}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return fn(ctx, f)
}

func (f *fakeRepo) CreateAccount(ctx context.Context, initialBalance int64) (ledger.Account, error) {
	now := time.Now()
	account := ledger.Account{
		ID:             f.nextID,
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.nextID++
	f.accounts[account.ID] = &account
	return account, nil
}

func (f *fakeRepo) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return *a, nil
}

func (f *fakeRepo) ListAccounts(ctx context.Context, req ledger.ListAccountsRequest) ([]ledger.Account, int, error) {
	var active []ledger.Account
	for id := int64(1); id < f.nextID; id++ {
		if a, ok := f.accounts[id]; ok && a.IsActive {
			active = append(active, *a)
		}
	}
	return active, len(active), nil
}

func (f *fakeRepo) ListEntries(ctx context.Context, accountID int64, limit, offset int) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	for _, e := range f.entries {
		if e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (f *fakeRepo) SumEntries(ctx context.Context, accountID int64) (int64, error) {
	var sum int64
	for _, e := range f.entries {
		if e.AccountID == accountID {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (f *fakeRepo) DeactivateAccount(ctx context.Context, id int64) error {
	a, ok := f.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.IsActive = false
	return nil
}

func (f *fakeRepo) GetAccountForUpdate(ctx context.Context, id int64) (ledger.Account, error) {
	return f.GetAccount(ctx, id)
}

func (f *fakeRepo) ApplyDelta(ctx context.Context, id int64, delta int64) (int64, error) {
	a, ok := f.accounts[id]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	a.Balance += delta
	return a.Balance, nil
}

func (f *fakeRepo) InsertEntry(ctx context.Context, accountID int64, delta int64, counterparty *int64, reference uuid.UUID) (ledger.Entry, error) {
	entry := ledger.Entry{
		ID:           int64(len(f.entries) + 1),
		AccountID:    accountID,
		Counterparty: counterparty,
		Delta:        delta,
		Reference:    reference,
		CreatedAt:    time.Now(),
	}
	f.entries = append(f.entries, entry)
	return entry, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	engine := ledger.NewEngine(repo, nil, nil)
	handler := NewHandler(slog.Default(), engine)

	r := chi.NewRouter()
	r.Route("/api/v1", handler.MountRoutes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url string, payload any) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createMerchant(t *testing.T, srv *httptest.Server, initialCredit int64) int64 {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/merchants", map[string]any{"initial_credit": initialCredit})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var account ledger.Account
	decodeBody(t, resp, &account)
	return account.ID
}

func TestCreateMerchant(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/merchants", map[string]any{"initial_credit": 500})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var account ledger.Account
	decodeBody(t, resp, &account)
	assert.Equal(t, int64(500), account.Balance)
	assert.True(t, account.IsActive)
}

func TestCreateMerchantNegativeCredit(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/merchants", map[string]any{"initial_credit": -10})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShowUnknownMerchant(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/merchants/99")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMerchantIDMustBePositiveInteger(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, id := range []string{"abc", "-3", "0"} {
		resp, err := http.Get(srv.URL + "/api/v1/merchants/" + id + "/credit")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "id %q", id)
	}
}

func TestAddCreditAndGetCredit(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createMerchant(t, srv, 0)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/merchants/%d/add-credit", srv.URL, id), map[string]any{"credit": 1000000})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/merchants/%d/credit", srv.URL, id))
	require.NoError(t, err)
	var out struct {
		MerchantID int64 `json:"merchant_id"`
		Credit     int64 `json:"credit"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, id, out.MerchantID)
	assert.Equal(t, int64(1000000), out.Credit)
}

func TestAddCreditRejectsInvalidPayloads(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createMerchant(t, srv, 0)
	url := fmt.Sprintf("%s/api/v1/merchants/%d/add-credit", srv.URL, id)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"credit": `},
		{"zero credit", `{"credit": 0}`},
		{"negative credit", `{"credit": -100}`},
		{"missing credit", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(tc.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestBuyChargeDebitsBalance(t *testing.T) {
	srv, repo := newTestServer(t)
	id := createMerchant(t, srv, 2000000)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/merchants/%d/buy-charge", srv.URL, id), map[string]any{"phone": 9120000000, "amount": 5000})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, int64(1995000), repo.accounts[id].Balance)
	require.Len(t, repo.entries, 1)
	assert.Equal(t, int64(-5000), repo.entries[0].Delta)
	require.NotNil(t, repo.entries[0].Counterparty)
	assert.Equal(t, int64(9120000000), *repo.entries[0].Counterparty)
}

func TestBuyChargeInsufficientBalance(t *testing.T) {
	srv, repo := newTestServer(t)
	id := createMerchant(t, srv, 100)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/merchants/%d/buy-charge", srv.URL, id), map[string]any{"phone": 1, "amount": 500})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var problem struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
	}
	decodeBody(t, resp, &problem)
	assert.Equal(t, "Insufficient Balance", problem.Title)
	assert.Equal(t, int64(100), repo.accounts[id].Balance, "rejected debit must not move the balance")
	assert.Empty(t, repo.entries)
}

func TestEntriesAndReconciliation(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createMerchant(t, srv, 0)

	for i := 0; i < 3; i++ {
		resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/merchants/%d/add-credit", srv.URL, id), map[string]any{"credit": 100})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/merchants/%d/entries", srv.URL, id))
	require.NoError(t, err)
	var entriesOut struct {
		Entries []ledger.Entry `json:"entries"`
	}
	decodeBody(t, resp, &entriesOut)
	require.Len(t, entriesOut.Entries, 3)
	for _, e := range entriesOut.Entries {
		assert.Equal(t, int64(100), e.Delta)
		assert.NotEqual(t, uuid.Nil, e.Reference)
	}

	resp, err = http.Get(fmt.Sprintf("%s/api/v1/merchants/%d/reconciliation", srv.URL, id))
	require.NoError(t, err)
	var report ledger.ReconcileReport
	decodeBody(t, resp, &report)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(300), report.Balance)
	assert.Equal(t, int64(300), report.EntrySum)
}

func TestListMerchants(t *testing.T) {
	srv, _ := newTestServer(t)
	createMerchant(t, srv, 0)
	createMerchant(t, srv, 50)

	resp, err := http.Get(srv.URL + "/api/v1/merchants")
	require.NoError(t, err)
	var out struct {
		Merchants  []ledger.Account `json:"merchants"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	decodeBody(t, resp, &out)
	assert.Len(t, out.Merchants, 2)
	assert.Equal(t, 2, out.Pagination.Total)
}

func TestDeactivateMerchant(t *testing.T) {
	srv, repo := newTestServer(t)
	id := createMerchant(t, srv, 0)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/merchants/%d/deactivate", srv.URL, id), nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, repo.accounts[id].IsActive)

	// Reads still work after deactivation.
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/merchants/%d", srv.URL, id))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
