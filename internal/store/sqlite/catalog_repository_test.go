package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/example/pos-offline/internal/store"
)

func seedCatalog(t *testing.T, repo *CatalogRepository) {
	t.Helper()
	ctx := context.Background()

	products := []store.Product{
		{ID: "p-1", Name: "Espresso", Barcode: "100001", CategoryID: "c-drinks", Price: 2.50, TaxID: "t-std"},
		{ID: "p-2", Name: "Croissant", Barcode: "100002", CategoryID: "c-food", Price: 3.20, TaxID: "t-red"},
		{ID: "p-3", Name: "Latte", Barcode: "100003", CategoryID: "c-drinks", Price: 3.80, TaxID: "t-std"},
	}
	if err := repo.ReplaceProducts(ctx, products); err != nil {
		t.Fatalf("ReplaceProducts failed: %v", err)
	}
	if err := repo.ReplaceCategories(ctx, []store.Category{
		{ID: "c-drinks", Name: "Drinks"},
		{ID: "c-food", Name: "Food"},
	}); err != nil {
		t.Fatalf("ReplaceCategories failed: %v", err)
	}
	if err := repo.ReplacePaymentMethods(ctx, []store.PaymentMethod{
		{ID: "pm-1", Name: "Cash", Kind: "cash"},
		{ID: "pm-2", Name: "Card", Kind: "card"},
	}); err != nil {
		t.Fatalf("ReplacePaymentMethods failed: %v", err)
	}
	if err := repo.ReplaceTaxes(ctx, []store.Tax{
		{ID: "t-std", Name: "Standard", Rate: 0.19},
		{ID: "t-red", Name: "Reduced", Rate: 0.07},
	}); err != nil {
		t.Fatalf("ReplaceTaxes failed: %v", err)
	}
}

func TestCatalogRepository_LookupsAfterReplace(t *testing.T) {
	repo := NewCatalogRepository(setupPool(t))
	seedCatalog(t, repo)
	ctx := context.Background()

	product, err := repo.GetProductByBarcode(ctx, "100002")
	if err != nil {
		t.Fatalf("GetProductByBarcode failed: %v", err)
	}
	if product.Name != "Croissant" || product.Price != 3.20 {
		t.Errorf("unexpected product %+v", product)
	}

	drinks, err := repo.ListProductsByCategory(ctx, "c-drinks")
	if err != nil {
		t.Fatalf("ListProductsByCategory failed: %v", err)
	}
	if len(drinks) != 2 {
		t.Errorf("expected 2 drinks, got %d", len(drinks))
	}

	methods, err := repo.ListPaymentMethods(ctx)
	if err != nil {
		t.Fatalf("ListPaymentMethods failed: %v", err)
	}
	if len(methods) != 2 {
		t.Errorf("expected 2 payment methods, got %d", len(methods))
	}

	taxes, err := repo.ListTaxes(ctx)
	if err != nil {
		t.Fatalf("ListTaxes failed: %v", err)
	}
	if len(taxes) != 2 {
		t.Errorf("expected 2 taxes, got %d", len(taxes))
	}

	if _, err := repo.GetProductByBarcode(ctx, "999999"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown barcode, got %v", err)
	}
}

func TestCatalogRepository_ReplaceSwapsWholeCollection(t *testing.T) {
	repo := NewCatalogRepository(setupPool(t))
	seedCatalog(t, repo)
	ctx := context.Background()

	if err := repo.ReplaceProducts(ctx, []store.Product{
		{ID: "p-9", Name: "Tea", Barcode: "200001", CategoryID: "c-drinks", Price: 2.00, TaxID: "t-std"},
	}); err != nil {
		t.Fatalf("ReplaceProducts failed: %v", err)
	}

	count, err := repo.CountProducts(ctx)
	if err != nil {
		t.Fatalf("CountProducts failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the replacement to win entirely, got %d products", count)
	}

	if _, err := repo.GetProductByBarcode(ctx, "100001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old product must be gone, got %v", err)
	}
}

func TestCatalogRepository_EmptyReplaceLeavesCollectionUntouched(t *testing.T) {
	repo := NewCatalogRepository(setupPool(t))
	seedCatalog(t, repo)
	ctx := context.Background()

	if err := repo.ReplaceProducts(ctx, nil); err != nil {
		t.Fatalf("empty ReplaceProducts failed: %v", err)
	}

	count, err := repo.CountProducts(ctx)
	if err != nil {
		t.Fatalf("CountProducts failed: %v", err)
	}
	if count != 3 {
		t.Errorf("empty input must be a no-op, got %d products", count)
	}
}
