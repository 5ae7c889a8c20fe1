package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/pos-offline/internal/store"
)

// CatalogRepository implements the read-mostly catalog mirrors. Each Replace
// swaps the whole collection inside one transaction so readers observe either
// the old or the new catalog, never a mix.
type CatalogRepository struct {
	pool *ConnectionPool
}

// NewCatalogRepository creates a SQLite-backed catalog cache.
func NewCatalogRepository(pool *ConnectionPool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ReplaceProducts bulk-replaces the product mirror. An empty input succeeds
// trivially without touching the collection.
func (r *CatalogRepository) ReplaceProducts(ctx context.Context, products []store.Product) error {
	if len(products) == 0 {
		return nil
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM products`); err != nil {
			return classify("clear products", err)
		}
		stmt, err := tx.Prepare(`INSERT INTO products (id, name, barcode, category_id, price, tax_id) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return classify("prepare products", err)
		}
		defer stmt.Close()
		for _, p := range products {
			if _, err := stmt.Exec(p.ID, p.Name, p.Barcode, p.CategoryID, p.Price, p.TaxID); err != nil {
				return classify("insert product", err)
			}
		}
		return nil
	})
}

// ReplaceCategories bulk-replaces the category mirror.
func (r *CatalogRepository) ReplaceCategories(ctx context.Context, categories []store.Category) error {
	if len(categories) == 0 {
		return nil
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM categories`); err != nil {
			return classify("clear categories", err)
		}
		stmt, err := tx.Prepare(`INSERT INTO categories (id, name, parent_id) VALUES (?, ?, ?)`)
		if err != nil {
			return classify("prepare categories", err)
		}
		defer stmt.Close()
		for _, c := range categories {
			var parent sql.NullString
			if c.ParentID != nil {
				parent = sql.NullString{String: *c.ParentID, Valid: true}
			}
			if _, err := stmt.Exec(c.ID, c.Name, parent); err != nil {
				return classify("insert category", err)
			}
		}
		return nil
	})
}

// ReplacePaymentMethods bulk-replaces the payment method mirror.
func (r *CatalogRepository) ReplacePaymentMethods(ctx context.Context, methods []store.PaymentMethod) error {
	if len(methods) == 0 {
		return nil
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM payment_methods`); err != nil {
			return classify("clear payment methods", err)
		}
		stmt, err := tx.Prepare(`INSERT INTO payment_methods (id, name, kind) VALUES (?, ?, ?)`)
		if err != nil {
			return classify("prepare payment methods", err)
		}
		defer stmt.Close()
		for _, m := range methods {
			if _, err := stmt.Exec(m.ID, m.Name, m.Kind); err != nil {
				return classify("insert payment method", err)
			}
		}
		return nil
	})
}

// ReplaceTaxes bulk-replaces the tax mirror.
func (r *CatalogRepository) ReplaceTaxes(ctx context.Context, taxes []store.Tax) error {
	if len(taxes) == 0 {
		return nil
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM taxes`); err != nil {
			return classify("clear taxes", err)
		}
		stmt, err := tx.Prepare(`INSERT INTO taxes (id, name, rate) VALUES (?, ?, ?)`)
		if err != nil {
			return classify("prepare taxes", err)
		}
		defer stmt.Close()
		for _, t := range taxes {
			if _, err := stmt.Exec(t.ID, t.Name, t.Rate); err != nil {
				return classify("insert tax", err)
			}
		}
		return nil
	})
}

// GetProductByBarcode looks up one product through the barcode index.
func (r *CatalogRepository) GetProductByBarcode(ctx context.Context, barcode string) (store.Product, error) {
	row := r.pool.db.QueryRowContext(ctx, `
		SELECT id, name, barcode, category_id, price, tax_id
		FROM products
		WHERE barcode = ?
	`, barcode)

	var p store.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Barcode, &p.CategoryID, &p.Price, &p.TaxID); err != nil {
		if err == sql.ErrNoRows {
			return store.Product{}, store.ErrNotFound
		}
		return store.Product{}, classify("get product by barcode", err)
	}
	return p, nil
}

// ListProductsByCategory returns the products of one category ordered by name.
func (r *CatalogRepository) ListProductsByCategory(ctx context.Context, categoryID string) ([]store.Product, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, name, barcode, category_id, price, tax_id
		FROM products
		WHERE category_id = ?
		ORDER BY name, id
	`, categoryID)
	if err != nil {
		return nil, classify("list products by category", err)
	}
	defer rows.Close()

	products := make([]store.Product, 0)
	for rows.Next() {
		var p store.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Barcode, &p.CategoryID, &p.Price, &p.TaxID); err != nil {
			return nil, classify("scan product", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListPaymentMethods returns all cached payment methods ordered by name.
func (r *CatalogRepository) ListPaymentMethods(ctx context.Context) ([]store.PaymentMethod, error) {
	rows, err := r.pool.db.QueryContext(ctx, `SELECT id, name, kind FROM payment_methods ORDER BY name, id`)
	if err != nil {
		return nil, classify("list payment methods", err)
	}
	defer rows.Close()

	methods := make([]store.PaymentMethod, 0)
	for rows.Next() {
		var m store.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Name, &m.Kind); err != nil {
			return nil, classify("scan payment method", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// ListTaxes returns all cached taxes ordered by name.
func (r *CatalogRepository) ListTaxes(ctx context.Context) ([]store.Tax, error) {
	rows, err := r.pool.db.QueryContext(ctx, `SELECT id, name, rate FROM taxes ORDER BY name, id`)
	if err != nil {
		return nil, classify("list taxes", err)
	}
	defer rows.Close()

	taxes := make([]store.Tax, 0)
	for rows.Next() {
		var t store.Tax
		if err := rows.Scan(&t.ID, &t.Name, &t.Rate); err != nil {
			return nil, classify("scan tax", err)
		}
		taxes = append(taxes, t)
	}
	return taxes, rows.Err()
}

// CountProducts returns the number of cached products.
func (r *CatalogRepository) CountProducts(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, classify("count products", err)
	}
	return count, nil
}
