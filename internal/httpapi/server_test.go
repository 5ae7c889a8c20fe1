package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pos-offline/internal/auth"
	"github.com/example/pos-offline/internal/store"
	"github.com/example/pos-offline/internal/syncengine"
)

type fakeAuthenticator struct {
	result  auth.Result
	authErr error
	session store.Session
	sessErr error
	logoutE error
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, login, secret string) (auth.Result, error) {
	return f.result, f.authErr
}

func (f *fakeAuthenticator) CurrentSession(ctx context.Context) (store.Session, error) {
	return f.session, f.sessErr
}

func (f *fakeAuthenticator) Logout(ctx context.Context) error { return f.logoutE }

type fakeSyncController struct {
	state      syncengine.State
	pending    int
	pendingErr error
	summary    syncengine.Summary
	drainErr   error
	enqueued   store.Transaction
	enqueueErr error
	lastInput  syncengine.EnqueueInput
	tx         store.Transaction
	txErr      error
	syncErrs   []store.SyncError
}

func (f *fakeSyncController) State() syncengine.State { return f.state }

func (f *fakeSyncController) PendingCount(ctx context.Context) (int, error) {
	return f.pending, f.pendingErr
}

func (f *fakeSyncController) Drain(ctx context.Context) (syncengine.Summary, error) {
	return f.summary, f.drainErr
}

func (f *fakeSyncController) Enqueue(ctx context.Context, in syncengine.EnqueueInput) (store.Transaction, error) {
	f.lastInput = in
	return f.enqueued, f.enqueueErr
}

func (f *fakeSyncController) Transaction(ctx context.Context, id string) (store.Transaction, error) {
	return f.tx, f.txErr
}

func (f *fakeSyncController) SyncErrorsFor(ctx context.Context, transactionID string) ([]store.SyncError, error) {
	return f.syncErrs, nil
}

type fakeMonitor struct {
	reachable bool
	ups       int
	downs     int
	checks    int
}

func (f *fakeMonitor) Reachable() bool    { return f.reachable }
func (f *fakeMonitor) CheckNow()          { f.checks++ }
func (f *fakeMonitor) ReportNetworkUp()   { f.ups++ }
func (f *fakeMonitor) ReportNetworkDown() { f.downs++ }

type fakeCatalog struct {
	refreshErr error
	refreshes  int
	product    store.Product
	productErr error
	products   []store.Product
	methods    []store.PaymentMethod
	taxes      []store.Tax
}

func (f *fakeCatalog) Refresh(ctx context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeCatalog) ProductByBarcode(ctx context.Context, barcode string) (store.Product, error) {
	return f.product, f.productErr
}

func (f *fakeCatalog) ProductsByCategory(ctx context.Context, categoryID string) ([]store.Product, error) {
	return f.products, nil
}

func (f *fakeCatalog) PaymentMethods(ctx context.Context) ([]store.PaymentMethod, error) {
	return f.methods, nil
}

func (f *fakeCatalog) Taxes(ctx context.Context) ([]store.Tax, error) {
	return f.taxes, nil
}

func doRequest(t *testing.T, server *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	server := NewServer(nil, nil, nil, nil, nil)
	rec := doRequest(t, server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	sync := &fakeSyncController{state: syncengine.StateIdle, pending: 3}
	monitor := &fakeMonitor{reachable: true}
	server := NewServer(nil, sync, monitor, nil, nil)

	rec := doRequest(t, server, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decodeBody[statusResponse](t, rec)
	assert.True(t, status.Reachable)
	assert.Equal(t, "idle", status.SyncState)
	assert.Equal(t, 3, status.PendingCount)
}

func TestStatus_MissingCollaboratorIs503(t *testing.T) {
	server := NewServer(nil, nil, nil, nil, nil)
	rec := doRequest(t, server, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSync(t *testing.T) {
	t.Run("returns the drain summary", func(t *testing.T) {
		sync := &fakeSyncController{summary: syncengine.Summary{Synced: 4, Failed: 1}}
		server := NewServer(nil, sync, nil, nil, nil)

		rec := doRequest(t, server, http.MethodPost, "/sync", "")
		require.Equal(t, http.StatusOK, rec.Code)

		summary := decodeBody[syncengine.Summary](t, rec)
		assert.Equal(t, 4, summary.Synced)
		assert.Equal(t, 1, summary.Failed)
	})

	t.Run("concurrent drain maps to 409", func(t *testing.T) {
		sync := &fakeSyncController{drainErr: syncengine.ErrDrainInProgress}
		server := NewServer(nil, sync, nil, nil, nil)

		rec := doRequest(t, server, http.MethodPost, "/sync", "")
		require.Equal(t, http.StatusConflict, rec.Code)

		body := decodeBody[errorResponse](t, rec)
		assert.Equal(t, "SYNC_RUNNING", body.ErrorCode)
	})
}

func TestEnqueue(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		sync := &fakeSyncController{enqueued: store.Transaction{
			ID:             "tx-1",
			Type:           "order",
			Amount:         12.34,
			Status:         store.StatusPending,
			IdempotencyKey: "order_tx-1_1749547800_0a1b2c3d",
			CreatedAt:      time.Date(2025, time.June, 10, 9, 30, 0, 0, time.UTC),
		}}
		server := NewServer(nil, sync, nil, nil, nil)

		rec := doRequest(t, server, http.MethodPost, "/transactions",
			`{"type":" order ","amount":12.34,"payload":{"lines":[]}}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		assert.Equal(t, "order", sync.lastInput.Type, "type should be trimmed")

		tx := decodeBody[transactionResponse](t, rec)
		assert.Equal(t, "tx-1", tx.ID)
		assert.Equal(t, "pending", tx.Status)
	})

	t.Run("invalid JSON is 400", func(t *testing.T) {
		server := NewServer(nil, &fakeSyncController{}, nil, nil, nil)
		rec := doRequest(t, server, http.MethodPost, "/transactions", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing type is 400", func(t *testing.T) {
		server := NewServer(nil, &fakeSyncController{}, nil, nil, nil)
		rec := doRequest(t, server, http.MethodPost, "/transactions", `{"amount":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetTransaction(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		syncedAt := time.Date(2025, time.June, 10, 10, 0, 0, 0, time.UTC)
		sync := &fakeSyncController{tx: store.Transaction{
			ID:       "tx-1",
			Type:     "order",
			Status:   store.StatusSynced,
			SyncedAt: &syncedAt,
		}}
		server := NewServer(nil, sync, nil, nil, nil)

		rec := doRequest(t, server, http.MethodGet, "/transactions/tx-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		tx := decodeBody[transactionResponse](t, rec)
		assert.Equal(t, "synced", tx.Status)
		require.NotNil(t, tx.SyncedAt)
		assert.True(t, tx.SyncedAt.Equal(syncedAt))
	})

	t.Run("missing is 404", func(t *testing.T) {
		sync := &fakeSyncController{txErr: store.ErrNotFound}
		server := NewServer(nil, sync, nil, nil, nil)
		rec := doRequest(t, server, http.MethodGet, "/transactions/absent", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSyncErrors(t *testing.T) {
	sync := &fakeSyncController{syncErrs: []store.SyncError{
		{TransactionID: "tx-1", Reason: "rejected", Message: "submit status 422", Attempt: 1},
	}}
	server := NewServer(nil, sync, nil, nil, nil)

	rec := doRequest(t, server, http.MethodGet, "/transactions/tx-1/errors", "")
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeBody[[]syncErrorResponse](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "rejected", entries[0].Reason)
	assert.Equal(t, 1, entries[0].Attempt)
}

func TestLogin(t *testing.T) {
	t.Run("offline login with stale warning", func(t *testing.T) {
		authn := &fakeAuthenticator{result: auth.Result{
			Session:         store.Session{ID: "session-1"},
			User:            store.CachedUser{ID: "user-alice", DisplayName: "Alice"},
			Offline:         true,
			StaleCredential: true,
			CacheAge:        48 * time.Hour,
		}}
		server := NewServer(authn, nil, nil, nil, nil)

		rec := doRequest(t, server, http.MethodPost, "/auth/login",
			`{"login":"alice","secret":"s3cret"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[loginResponse](t, rec)
		assert.Equal(t, "session-1", resp.SessionID)
		assert.Equal(t, "user-alice", resp.UserID)
		assert.True(t, resp.Offline)
		assert.True(t, resp.StaleCredential)
		assert.Equal(t, "48h0m0s", resp.CacheAge)
	})

	t.Run("invalid credentials map to 401 AUTH_INVALID", func(t *testing.T) {
		authn := &fakeAuthenticator{authErr: auth.ErrInvalidCredentials}
		server := NewServer(authn, nil, nil, nil, nil)

		rec := doRequest(t, server, http.MethodPost, "/auth/login",
			`{"login":"alice","secret":"wrong"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		body := decodeBody[errorResponse](t, rec)
		assert.Equal(t, "AUTH_INVALID", body.ErrorCode)
	})

	t.Run("too-stale cache maps to 401 AUTH_STALE", func(t *testing.T) {
		authn := &fakeAuthenticator{authErr: auth.ErrCredentialTooStale}
		server := NewServer(authn, nil, nil, nil, nil)

		rec := doRequest(t, server, http.MethodPost, "/auth/login",
			`{"login":"alice","secret":"s3cret"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		body := decodeBody[errorResponse](t, rec)
		assert.Equal(t, "AUTH_STALE", body.ErrorCode)
	})

	t.Run("missing fields are 400", func(t *testing.T) {
		server := NewServer(&fakeAuthenticator{}, nil, nil, nil, nil)
		rec := doRequest(t, server, http.MethodPost, "/auth/login", `{"login":"alice"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	t.Run("no content on success", func(t *testing.T) {
		server := NewServer(&fakeAuthenticator{}, nil, nil, nil, nil)
		rec := doRequest(t, server, http.MethodPost, "/auth/logout", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("no open session is 401", func(t *testing.T) {
		server := NewServer(&fakeAuthenticator{logoutE: auth.ErrNoOpenSession}, nil, nil, nil, nil)
		rec := doRequest(t, server, http.MethodPost, "/auth/logout", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestSession(t *testing.T) {
	created := time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)
	authn := &fakeAuthenticator{session: store.Session{
		ID:             "session-1",
		UserID:         "user-alice",
		State:          store.SessionOpen,
		CreatedAt:      created,
		LastAccessedAt: created.Add(time.Hour),
	}}
	server := NewServer(authn, nil, nil, nil, nil)

	rec := doRequest(t, server, http.MethodGet, "/auth/session", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.Equal(t, "open", resp.State)
}

func TestNetworkEndpoints(t *testing.T) {
	monitor := &fakeMonitor{}
	server := NewServer(nil, nil, monitor, nil, nil)

	rec := doRequest(t, server, http.MethodPost, "/network/online", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, monitor.ups)

	rec = doRequest(t, server, http.MethodPost, "/network/offline", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, monitor.downs)

	rec = doRequest(t, server, http.MethodPost, "/network/check", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, monitor.checks)
}

func TestCatalogEndpoints(t *testing.T) {
	t.Run("refresh", func(t *testing.T) {
		catalog := &fakeCatalog{}
		server := NewServer(nil, nil, nil, catalog, nil)
		rec := doRequest(t, server, http.MethodPost, "/catalog/refresh", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 1, catalog.refreshes)
	})

	t.Run("refresh failure maps through the error taxonomy", func(t *testing.T) {
		catalog := &fakeCatalog{refreshErr: store.NewTransient("fetch catalog", store.ReasonNetwork, errors.New("gateway timeout"))}
		server := NewServer(nil, nil, nil, catalog, nil)
		rec := doRequest(t, server, http.MethodPost, "/catalog/refresh", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("barcode lookup", func(t *testing.T) {
		catalog := &fakeCatalog{product: store.Product{ID: "p-1", Name: "Espresso", Barcode: "100001"}}
		server := NewServer(nil, nil, nil, catalog, nil)

		rec := doRequest(t, server, http.MethodGet, "/catalog/products?barcode=100001", "")
		require.Equal(t, http.StatusOK, rec.Code)

		product := decodeBody[store.Product](t, rec)
		assert.Equal(t, "Espresso", product.Name)
	})

	t.Run("unknown barcode is 404", func(t *testing.T) {
		catalog := &fakeCatalog{productErr: store.ErrNotFound}
		server := NewServer(nil, nil, nil, catalog, nil)
		rec := doRequest(t, server, http.MethodGet, "/catalog/products?barcode=999", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("category listing", func(t *testing.T) {
		catalog := &fakeCatalog{products: []store.Product{{ID: "p-1"}, {ID: "p-2"}}}
		server := NewServer(nil, nil, nil, catalog, nil)

		rec := doRequest(t, server, http.MethodGet, "/catalog/products?category=drinks", "")
		require.Equal(t, http.StatusOK, rec.Code)

		products := decodeBody[[]store.Product](t, rec)
		assert.Len(t, products, 2)
	})

	t.Run("both selectors is 400", func(t *testing.T) {
		server := NewServer(nil, nil, nil, &fakeCatalog{}, nil)
		rec := doRequest(t, server, http.MethodGet, "/catalog/products?barcode=1&category=2", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no selector is 400", func(t *testing.T) {
		server := NewServer(nil, nil, nil, &fakeCatalog{}, nil)
		rec := doRequest(t, server, http.MethodGet, "/catalog/products", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("payment methods and taxes", func(t *testing.T) {
		catalog := &fakeCatalog{
			methods: []store.PaymentMethod{{ID: "pm-cash", Name: "Cash", Kind: "cash"}},
			taxes:   []store.Tax{{ID: "vat-std", Rate: 0.20}},
		}
		server := NewServer(nil, nil, nil, catalog, nil)

		rec := doRequest(t, server, http.MethodGet, "/catalog/payment-methods", "")
		require.Equal(t, http.StatusOK, rec.Code)
		methods := decodeBody[[]store.PaymentMethod](t, rec)
		require.Len(t, methods, 1)
		assert.Equal(t, "cash", methods[0].Kind)

		rec = doRequest(t, server, http.MethodGet, "/catalog/taxes", "")
		require.Equal(t, http.StatusOK, rec.Code)
		taxes := decodeBody[[]store.Tax](t, rec)
		require.Len(t, taxes, 1)
		assert.Equal(t, 0.20, taxes[0].Rate)
	})
}
