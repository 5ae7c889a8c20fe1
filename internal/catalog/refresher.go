// Package catalog keeps the local mirrors of remote master data fresh while
// online and serves them to the UI layer while offline.
package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/pos-offline/internal/connectivity"
	"github.com/example/pos-offline/internal/events"
	"github.com/example/pos-offline/internal/logging"
	"github.com/example/pos-offline/internal/remote"
	"github.com/example/pos-offline/internal/retry"
	"github.com/example/pos-offline/internal/store"
)

// Fetcher retrieves the master-data bundle from the remote service.
type Fetcher interface {
	FetchCatalog(ctx context.Context) (remote.Catalog, error)
}

// Refresher bulk-replaces the cached catalog on each successful refresh. It
// exclusively owns catalog mutation; readers get read-only views.
type Refresher struct {
	repo     store.CatalogRepository
	fetcher  Fetcher
	executor *retry.Executor
	logger   *slog.Logger
}

// NewRefresher constructs a Refresher.
func NewRefresher(repo store.CatalogRepository, fetcher Fetcher, executor *retry.Executor, logger *slog.Logger) *Refresher {
	return &Refresher{
		repo:     repo,
		fetcher:  fetcher,
		executor: executor,
		logger:   logging.Default(logger).With("component", "catalog"),
	}
}

// SubscribeToReachability refreshes the catalog whenever the remote service
// becomes reachable. Returns the unsubscribe function.
func (r *Refresher) SubscribeToReachability(bus *events.Bus) func() {
	return bus.Subscribe(events.ReachabilityChanged, func(payload any) {
		change, ok := payload.(connectivity.Change)
		if !ok || !change.Reachable {
			return
		}
		go func() {
			if err := r.Refresh(context.Background()); err != nil {
				r.logger.Warn("catalog refresh after reconnect failed", "error", err)
			}
		}()
	})
}

// Refresh pulls the catalog bundle and swaps the four cached collections.
// Each collection is replaced in its own atomic unit; an empty collection in
// the bundle leaves the existing mirror untouched.
func (r *Refresher) Refresh(ctx context.Context) error {
	started := time.Now()

	bundle, err := retry.DoValue(ctx, r.executor, "fetch catalog", func(ctx context.Context) (remote.Catalog, error) {
		return r.fetcher.FetchCatalog(ctx)
	})
	if err != nil {
		return err
	}

	if err := r.executor.Do(ctx, "replace products", func(ctx context.Context) error {
		return r.repo.ReplaceProducts(ctx, bundle.Products)
	}); err != nil {
		return err
	}
	if err := r.executor.Do(ctx, "replace categories", func(ctx context.Context) error {
		return r.repo.ReplaceCategories(ctx, bundle.Categories)
	}); err != nil {
		return err
	}
	if err := r.executor.Do(ctx, "replace payment methods", func(ctx context.Context) error {
		return r.repo.ReplacePaymentMethods(ctx, bundle.PaymentMethods)
	}); err != nil {
		return err
	}
	if err := r.executor.Do(ctx, "replace taxes", func(ctx context.Context) error {
		return r.repo.ReplaceTaxes(ctx, bundle.Taxes)
	}); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "catalog refreshed",
		"products", len(bundle.Products),
		"categories", len(bundle.Categories),
		"payment_methods", len(bundle.PaymentMethods),
		"taxes", len(bundle.Taxes),
		"elapsed", time.Since(started),
	)
	return nil
}

// ProductByBarcode looks up one product through the barcode index.
func (r *Refresher) ProductByBarcode(ctx context.Context, barcode string) (store.Product, error) {
	return retry.DoValue(ctx, r.executor, "get product by barcode", func(ctx context.Context) (store.Product, error) {
		return r.repo.GetProductByBarcode(ctx, barcode)
	})
}

// ProductsByCategory lists the cached products of one category.
func (r *Refresher) ProductsByCategory(ctx context.Context, categoryID string) ([]store.Product, error) {
	return retry.DoValue(ctx, r.executor, "list products by category", func(ctx context.Context) ([]store.Product, error) {
		return r.repo.ListProductsByCategory(ctx, categoryID)
	})
}

// PaymentMethods lists the cached payment methods.
func (r *Refresher) PaymentMethods(ctx context.Context) ([]store.PaymentMethod, error) {
	return retry.DoValue(ctx, r.executor, "list payment methods", func(ctx context.Context) ([]store.PaymentMethod, error) {
		return r.repo.ListPaymentMethods(ctx)
	})
}

// Taxes lists the cached taxes.
func (r *Refresher) Taxes(ctx context.Context) ([]store.Tax, error) {
	return retry.DoValue(ctx, r.executor, "list taxes", func(ctx context.Context) ([]store.Tax, error) {
		return r.repo.ListTaxes(ctx)
	})
}
