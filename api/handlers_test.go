package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-engine/api"
	"github.com/warp/rewards-engine/ledger"
	"github.com/warp/rewards-engine/ledger/store"
	"github.com/warp/rewards-engine/notify"
	"github.com/warp/rewards-engine/purchase"
	"github.com/warp/rewards-engine/reporting"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestServer wires the full engine over the in-memory store, exactly as
// cmd/server does over SQLite, and serves it through the real router.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mem := store.NewMemory()
	locks := ledger.NewLockTable()
	l := ledger.NewTransactionLedger(mem, locks, ledger.NewAuditRecorder(), notify.NopNotifier{})

	catalog := purchase.NewStaticCatalog(
		purchase.Product{ID: "hat", Name: "Trucker Hat", Price: 60, Available: true},
		purchase.Product{ID: "sticker", Name: "Sticker Pack", Price: 5, Available: false},
	)
	coordinator := purchase.NewCoordinator(mem, l, catalog, locks, notify.NopNotifier{})
	reporter := reporting.NewReporter(mem)

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(l, coordinator, reporter, mem)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createAccount(t *testing.T, srv *httptest.Server, sponsorID, driverID string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{
		"sponsor_id":  sponsorID,
		"driver_id":   driverID,
		"point_value": "0.01",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func creditPoints(t *testing.T, srv *httptest.Server, sponsorID, driverID string, points int64) {
	t.Helper()
	resp := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/sponsors/%s/drivers/%s/transactions", srv.URL, sponsorID, driverID),
		map[string]any{"points": points, "reason": "test credit"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// ACCOUNTS AND BALANCE
// =============================================================================

func TestAPI_CreateAccountAndReadBalance(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	creditPoints(t, srv, "sponsor-1", "driver-1", 300)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sponsors/sponsor-1/drivers/driver-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[api.BalanceDTO](t, resp)
	assert.Equal(t, int64(300), balance.Points)
	assert.Equal(t, "3.00", balance.CashValue)
}

func TestAPI_DuplicateAccountConflicts(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{
		"sponsor_id": "sponsor-1",
		"driver_id":  "driver-1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_MissingFieldsRejected(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{"sponsor_id": "sponsor-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_UnknownAccountIs404(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sponsors/nope/drivers/nobody/balance", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestAPI_OverdraftIsConflict(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	creditPoints(t, srv, "sponsor-1", "driver-1", 50)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sponsors/sponsor-1/drivers/driver-1/transactions",
		map[string]any{"points": -100, "reason": "too much"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errResp := decode[api.ErrorResponse](t, resp)
	assert.Contains(t, errResp.Details, "insufficient balance")
}

func TestAPI_TransactionHistoryListsLedgerEntries(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	creditPoints(t, srv, "sponsor-1", "driver-1", 100)
	creditPoints(t, srv, "sponsor-1", "driver-1", -40)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sponsors/sponsor-1/drivers/driver-1/transactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txs := decode[[]api.TransactionDTO](t, resp)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(100), txs[0].PointsChanged) // oldest first
	assert.Equal(t, int64(-40), txs[1].PointsChanged)
}

// =============================================================================
// PURCHASE FLOW
// =============================================================================

func TestAPI_PurchaseRefundLifecycle(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	creditPoints(t, srv, "sponsor-1", "driver-1", 100)

	// Buy a hat for 60 points.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/purchases", map[string]any{
		"sponsor_id": "sponsor-1",
		"driver_id":  "driver-1",
		"product_id": "hat",
		"quantity":   1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]string](t, resp)
	purchaseID := created["purchase_id"]
	require.NotEmpty(t, purchaseID)

	// Balance dropped to 40 and the purchase carries its price snapshot.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sponsors/sponsor-1/drivers/driver-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(40), decode[api.BalanceDTO](t, resp).Points)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/purchases/"+purchaseID+"?driver_id=driver-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[api.PurchaseDTO](t, resp)
	assert.Equal(t, "ordered", p.Status)
	require.Len(t, p.LineItems, 1)
	assert.Equal(t, int64(60), p.LineItems[0].PurchasedUnitPrice)

	// Refund restores the 60 points.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/purchases/"+purchaseID+"/refund",
		map[string]string{"driver_id": "driver-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sponsors/sponsor-1/drivers/driver-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(100), decode[api.BalanceDTO](t, resp).Points)

	// Terminal states stay terminal.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/purchases/"+purchaseID+"/refund",
		map[string]string{"driver_id": "driver-1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_BadQuantityIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	creditPoints(t, srv, "sponsor-1", "driver-1", 100)

	for _, quantity := range []int64{-2, 1 << 60} {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/purchases", map[string]any{
			"sponsor_id": "sponsor-1",
			"driver_id":  "driver-1",
			"product_id": "hat",
			"quantity":   quantity,
		})
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "quantity=%d", quantity)
	}

	// Nothing was charged.
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sponsors/sponsor-1/drivers/driver-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(100), decode[api.BalanceDTO](t, resp).Points)
}

func TestAPI_UnavailableProductIsConflict(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	creditPoints(t, srv, "sponsor-1", "driver-1", 100)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/purchases", map[string]any{
		"sponsor_id": "sponsor-1",
		"driver_id":  "driver-1",
		"product_id": "sticker",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_PurchaseOfAnotherDriverIs404(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	creditPoints(t, srv, "sponsor-1", "driver-1", 100)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/purchases", map[string]any{
		"sponsor_id": "sponsor-1",
		"driver_id":  "driver-1",
		"product_id": "hat",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	purchaseID := decode[map[string]string](t, resp)["purchase_id"]

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/purchases/"+purchaseID+"?driver_id=intruder", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// ADMIN, REPORTING, AUDIT
// =============================================================================

func TestAPI_ReconcileEndpoint(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	creditPoints(t, srv, "sponsor-1", "driver-1", 100)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/reconcile", map[string]string{
		"sponsor_id": "sponsor-1",
		"driver_id":  "driver-1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_SponsorSummary(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	createAccount(t, srv, "sponsor-1", "driver-2")
	creditPoints(t, srv, "sponsor-1", "driver-1", 500)
	creditPoints(t, srv, "sponsor-1", "driver-2", 300)
	creditPoints(t, srv, "sponsor-1", "driver-1", -200)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/reports/sponsors/sponsor-1/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[api.SponsorSummaryDTO](t, resp)
	assert.Equal(t, int64(800), summary.PointsIssued)
	assert.Equal(t, int64(200), summary.PointsRedeemed)
	assert.Equal(t, int64(600), summary.OutstandingTotal)
	assert.Equal(t, "6.00", summary.OutstandingLiability)
	assert.Equal(t, 2, summary.DriverCount)
}

func TestAPI_AuditQueryFiltersByDriver(t *testing.T) {
	srv := newTestServer(t)
	createAccount(t, srv, "sponsor-1", "driver-1")
	createAccount(t, srv, "sponsor-1", "driver-2")
	creditPoints(t, srv, "sponsor-1", "driver-1", 100)
	creditPoints(t, srv, "sponsor-1", "driver-2", 100)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/audit?driver_id=driver-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]api.AuditEntryDTO](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, "driver-1", entries[0].DriverID)
	assert.Equal(t, "CREDIT", entries[0].Action)
}
