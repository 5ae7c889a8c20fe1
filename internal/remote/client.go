// Package remote is the HTTP client for the opaque remote service: the
// reachability probe, credential validation, transaction submission, and the
// catalog read endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/pos-offline/internal/logging"
	"github.com/example/pos-offline/internal/store"
)

// ErrUnauthorized is returned when the remote service rejects credentials.
var ErrUnauthorized = errors.New("remote: unauthorized")

// User is the remote representation of an operator account, sufficient to
// refresh the local credential cache.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	SecretHash  string `json:"secret_hash"`
	Disabled    bool   `json:"disabled"`
}

// Catalog is the master-data bundle served by the catalog endpoint.
type Catalog struct {
	Products       []store.Product       `json:"products"`
	Categories     []store.Category      `json:"categories"`
	PaymentMethods []store.PaymentMethod `json:"payment_methods"`
	Taxes          []store.Tax           `json:"taxes"`
}

// Client talks to the remote service over HTTP. All methods classify their
// failures so callers can route them through the retry executor.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient constructs a Client for the service rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logging.Default(logger).With("component", "remote"),
	}
}

// Ping issues the lightweight reachability probe. Any 2xx or redirect
// response within the caller's deadline counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pos/ping", nil)
	if err != nil {
		return fmt.Errorf("remote: build ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return store.NewTransient("ping", store.ReasonNetwork, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode >= 400 {
		return store.NewTransient("ping", store.ReasonNetwork, fmt.Errorf("remote: ping status %d", resp.StatusCode))
	}
	return nil
}

// Probe implements connectivity.Prober.
func (c *Client) Probe(ctx context.Context) error { return c.Ping(ctx) }

type submitRequest struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Amount    float64         `json:"amount"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// SubmitTransaction posts one queued transaction. The idempotency key rides
// in a header; a 409 from the service means the transaction was already
// processed and is treated as acknowledgement.
func (c *Client) SubmitTransaction(ctx context.Context, tx store.Transaction) error {
	body, err := json.Marshal(submitRequest{
		ID:        tx.ID,
		Type:      tx.Type,
		Amount:    tx.Amount,
		Payload:   tx.Payload,
		CreatedAt: tx.CreatedAt,
	})
	if err != nil {
		return store.NewPermanent("submit", store.ReasonMalformed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pos/transactions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", tx.IdempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return store.NewTransient("submit", store.ReasonNetwork, err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already processed on the remote side.
		c.logger.InfoContext(ctx, "transaction already acknowledged remotely", "transaction_id", tx.ID)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return store.NewTransient("submit", store.ReasonNetwork, fmt.Errorf("remote: submit status %d", resp.StatusCode))
	default:
		return store.NewPermanent("submit", store.ReasonRejected, fmt.Errorf("remote: submit status %d", resp.StatusCode))
	}
}

type validateRequest struct {
	Login  string `json:"login"`
	Secret string `json:"secret"`
}

// ValidateCredentials checks credentials against the remote service and
// returns the remote user record on success, including the hash that seeds
// the local credential cache.
func (c *Client) ValidateCredentials(ctx context.Context, login, secret string) (User, error) {
	body, err := json.Marshal(validateRequest{Login: login, Secret: secret})
	if err != nil {
		return User{}, store.NewPermanent("validate credentials", store.ReasonMalformed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pos/auth/validate", bytes.NewReader(body))
	if err != nil {
		return User{}, fmt.Errorf("remote: build validate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, store.NewTransient("validate credentials", store.ReasonNetwork, err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return User{}, ErrUnauthorized
	case resp.StatusCode >= 500:
		return User{}, store.NewTransient("validate credentials", store.ReasonNetwork, fmt.Errorf("remote: validate status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return User{}, store.NewPermanent("validate credentials", store.ReasonRejected, fmt.Errorf("remote: validate status %d", resp.StatusCode))
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, store.NewPermanent("validate credentials", store.ReasonMalformed, err)
	}
	return user, nil
}

// FetchCatalog retrieves the full master-data bundle for a cache refresh.
func (c *Client) FetchCatalog(ctx context.Context) (Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pos/catalog", nil)
	if err != nil {
		return Catalog{}, fmt.Errorf("remote: build catalog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Catalog{}, store.NewTransient("fetch catalog", store.ReasonNetwork, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode >= 500 {
		return Catalog{}, store.NewTransient("fetch catalog", store.ReasonNetwork, fmt.Errorf("remote: catalog status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return Catalog{}, store.NewPermanent("fetch catalog", store.ReasonRejected, fmt.Errorf("remote: catalog status %d", resp.StatusCode))
	}

	var catalog Catalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return Catalog{}, store.NewPermanent("fetch catalog", store.ReasonMalformed, err)
	}
	return catalog, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
