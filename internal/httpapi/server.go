// Package httpapi exposes the daemon's local control surface to the UI shell
// over loopback HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/pos-offline/internal/auth"
	"github.com/example/pos-offline/internal/logging"
	"github.com/example/pos-offline/internal/store"
	"github.com/example/pos-offline/internal/syncengine"
)

// Authenticator is the slice of the auth service the API needs.
type Authenticator interface {
	Authenticate(ctx context.Context, login, secret string) (auth.Result, error)
	CurrentSession(ctx context.Context) (store.Session, error)
	Logout(ctx context.Context) error
}

// SyncController is the slice of the sync manager the API needs.
type SyncController interface {
	State() syncengine.State
	PendingCount(ctx context.Context) (int, error)
	Drain(ctx context.Context) (syncengine.Summary, error)
	Enqueue(ctx context.Context, in syncengine.EnqueueInput) (store.Transaction, error)
	Transaction(ctx context.Context, id string) (store.Transaction, error)
	SyncErrorsFor(ctx context.Context, transactionID string) ([]store.SyncError, error)
}

// ReachabilityReporter is the slice of the connection monitor the API needs.
// The UI shell forwards platform online/offline signals through it.
type ReachabilityReporter interface {
	Reachable() bool
	CheckNow()
	ReportNetworkUp()
	ReportNetworkDown()
}

// CatalogReader serves cached master data and on-demand refreshes.
type CatalogReader interface {
	Refresh(ctx context.Context) error
	ProductByBarcode(ctx context.Context, barcode string) (store.Product, error)
	ProductsByCategory(ctx context.Context, categoryID string) ([]store.Product, error)
	PaymentMethods(ctx context.Context) ([]store.PaymentMethod, error)
	Taxes(ctx context.Context) ([]store.Tax, error)
}

// Server wires the HTTP routes to the daemon components.
type Server struct {
	authenticator Authenticator
	syncManager   SyncController
	monitor       ReachabilityReporter
	catalog       CatalogReader
	responder     responder
	logger        *slog.Logger
}

// NewServer constructs a Server. Any collaborator may be nil; its routes then
// answer 503.
func NewServer(authenticator Authenticator, syncManager SyncController, monitor ReachabilityReporter, catalog CatalogReader, logger *slog.Logger) *Server {
	logger = logging.Default(logger).With("component", "httpapi")
	return &Server{
		authenticator: authenticator,
		syncManager:   syncManager,
		monitor:       monitor,
		catalog:       catalog,
		responder:     newResponder(logger),
		logger:        logger,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(RequestLogger(s.logger))

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/transactions", s.handleEnqueue).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}/errors", s.handleSyncErrors).Methods(http.MethodGet)

	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/auth/session", s.handleSession).Methods(http.MethodGet)

	r.HandleFunc("/network/online", s.handleNetworkOnline).Methods(http.MethodPost)
	r.HandleFunc("/network/offline", s.handleNetworkOffline).Methods(http.MethodPost)
	r.HandleFunc("/network/check", s.handleNetworkCheck).Methods(http.MethodPost)

	r.HandleFunc("/catalog/refresh", s.handleCatalogRefresh).Methods(http.MethodPost)
	r.HandleFunc("/catalog/products", s.handleProducts).Methods(http.MethodGet)
	r.HandleFunc("/catalog/payment-methods", s.handlePaymentMethods).Methods(http.MethodGet)
	r.HandleFunc("/catalog/taxes", s.handleTaxes).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Reachable    bool   `json:"reachable"`
	SyncState    string `json:"sync_state"`
	PendingCount int    `json:"pending_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.syncManager == nil || s.monitor == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	pending, err := s.syncManager.PendingCount(ctx)
	if err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	s.responder.writeJSON(ctx, w, http.StatusOK, statusResponse{
		Reachable:    s.monitor.Reachable(),
		SyncState:    string(s.syncManager.State()),
		PendingCount: pending,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.syncManager == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	summary, err := s.syncManager.Drain(ctx)
	if err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	s.responder.writeJSON(ctx, w, http.StatusOK, summary)
}

type enqueueRequest struct {
	Type    string          `json:"type"`
	Amount  float64         `json:"amount"`
	Payload json.RawMessage `json:"payload"`
}

type transactionResponse struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Type           string          `json:"type"`
	Amount         float64         `json:"amount"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	CreatedAt      time.Time       `json:"created_at"`
	LastError      string          `json:"last_error,omitempty"`
	SyncedAt       *time.Time      `json:"synced_at,omitempty"`
}

func newTransactionResponse(tx store.Transaction) transactionResponse {
	return transactionResponse{
		ID:             tx.ID,
		IdempotencyKey: tx.IdempotencyKey,
		Type:           tx.Type,
		Amount:         tx.Amount,
		Payload:        tx.Payload,
		Status:         string(tx.Status),
		Attempts:       tx.Attempts,
		CreatedAt:      tx.CreatedAt,
		LastError:      tx.LastError,
		SyncedAt:       tx.SyncedAt,
	}
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.syncManager == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		s.responder.writeError(ctx, w, http.StatusBadRequest, errMissingType)
		return
	}
	tx, err := s.syncManager.Enqueue(ctx, syncengine.EnqueueInput{
		Type:    strings.TrimSpace(req.Type),
		Amount:  req.Amount,
		Payload: req.Payload,
	})
	if err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	s.responder.writeJSON(ctx, w, http.StatusCreated, newTransactionResponse(tx))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.syncManager == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	tx, err := s.syncManager.Transaction(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	s.responder.writeJSON(ctx, w, http.StatusOK, newTransactionResponse(tx))
}

type syncErrorResponse struct {
	Reason     string    `json:"reason"`
	Message    string    `json:"message"`
	Attempt    int       `json:"attempt"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (s *Server) handleSyncErrors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.syncManager == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	entries, err := s.syncManager.SyncErrorsFor(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	out := make([]syncErrorResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, syncErrorResponse{
			Reason:     e.Reason,
			Message:    e.Message,
			Attempt:    e.Attempt,
			OccurredAt: e.OccurredAt,
		})
	}
	s.responder.writeJSON(ctx, w, http.StatusOK, out)
}

type loginRequest struct {
	Login  string `json:"login"`
	Secret string `json:"secret"`
}

type loginResponse struct {
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name"`
	Offline         bool   `json:"offline"`
	StaleCredential bool   `json:"stale_credential,omitempty"`
	CacheAge        string `json:"cache_age,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.authenticator == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if req.Login == "" || req.Secret == "" {
		s.responder.writeError(ctx, w, http.StatusBadRequest, errMissingLogin)
		return
	}
	result, err := s.authenticator.Authenticate(ctx, req.Login, req.Secret)
	if err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	resp := loginResponse{
		SessionID:       result.Session.ID,
		UserID:          result.User.ID,
		DisplayName:     result.User.DisplayName,
		Offline:         result.Offline,
		StaleCredential: result.StaleCredential,
	}
	if result.StaleCredential {
		resp.CacheAge = result.CacheAge.String()
	}
	s.responder.writeJSON(ctx, w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.authenticator == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	if err := s.authenticator.Logout(ctx); err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	s.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

type sessionResponse struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.authenticator == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	session, err := s.authenticator.CurrentSession(ctx)
	if err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	s.responder.writeJSON(ctx, w, http.StatusOK, sessionResponse{
		SessionID:      session.ID,
		UserID:         session.UserID,
		State:          string(session.State),
		CreatedAt:      session.CreatedAt,
		LastAccessedAt: session.LastAccessedAt,
	})
}

func (s *Server) handleNetworkOnline(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.responder.writeError(r.Context(), w, http.StatusServiceUnavailable, nil)
		return
	}
	s.monitor.ReportNetworkUp()
	s.responder.writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"status": "probing"})
}

func (s *Server) handleNetworkOffline(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.responder.writeError(r.Context(), w, http.StatusServiceUnavailable, nil)
		return
	}
	s.monitor.ReportNetworkDown()
	s.responder.writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"status": "offline"})
}

func (s *Server) handleNetworkCheck(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.responder.writeError(r.Context(), w, http.StatusServiceUnavailable, nil)
		return
	}
	s.monitor.CheckNow()
	s.responder.writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"status": "probing"})
}

func (s *Server) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.catalog == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	if err := s.catalog.Refresh(ctx); err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	s.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

// handleProducts serves barcode lookups (?barcode=) and category listings
// (?category=); exactly one selector is required.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.catalog == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	barcode := r.URL.Query().Get("barcode")
	category := r.URL.Query().Get("category")
	switch {
	case barcode != "" && category == "":
		product, err := s.catalog.ProductByBarcode(ctx, barcode)
		if err != nil {
			s.responder.handleServiceError(ctx, w, err)
			return
		}
		s.responder.writeJSON(ctx, w, http.StatusOK, product)
	case category != "" && barcode == "":
		products, err := s.catalog.ProductsByCategory(ctx, category)
		if err != nil {
			s.responder.handleServiceError(ctx, w, err)
			return
		}
		s.responder.writeJSON(ctx, w, http.StatusOK, products)
	default:
		s.responder.writeError(ctx, w, http.StatusBadRequest, errors.New("exactly one of barcode or category is required"))
	}
}

func (s *Server) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.catalog == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	methods, err := s.catalog.PaymentMethods(ctx)
	if err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	s.responder.writeJSON(ctx, w, http.StatusOK, methods)
}

func (s *Server) handleTaxes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.catalog == nil {
		s.responder.writeError(ctx, w, http.StatusServiceUnavailable, nil)
		return
	}
	taxes, err := s.catalog.Taxes(ctx)
	if err != nil {
		s.responder.handleServiceError(ctx, w, err)
		return
	}
	s.responder.writeJSON(ctx, w, http.StatusOK, taxes)
}
