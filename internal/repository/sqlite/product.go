package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
)

var _ repository.ProductRepository = (*DB)(nil)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

const productColumns = `p.id, p.title, p.description, p.category, p.price, p.image, p.user_id, p.created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(s rowScanner, p *model.Product, extra ...any) error {
	dest := []any{
		&p.ID, &p.Title, &p.Description, &p.Category,
		&p.Price, &p.Image, &p.UserID, &p.CreatedAt,
	}
	return s.Scan(append(dest, extra...)...)
}

// CreateProduct inserts a product. An empty Image is stored as the
// placeholder. A missing owner comes back as apperror.ErrNotFound.
func (db *DB) CreateProduct(ctx context.Context, product *model.Product) error {
	if product.Image == "" {
		product.Image = model.PlaceholderImage
	}
	product.CreatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO products (title, description, category, price, image, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		product.Title,
		product.Description,
		product.Category,
		product.Price,
		product.Image,
		product.UserID,
		product.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", product.UserID)
		}
		return fmt.Errorf("sqlite: inserting product %q: %w", product.Title, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new product id: %w", err)
	}
	product.ID = id
	return nil
}

func (db *DB) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	err := scanProduct(db.conn.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products p WHERE p.id = ?`, id), &p)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("product", id)
		}
		return nil, fmt.Errorf("sqlite: getting product %d: %w", id, err)
	}
	return &p, nil
}

// ListProducts returns products newest first.
//
// The WHERE clause is assembled from fixed fragments only; every user value
// goes through a ? placeholder.
func (db *DB) ListProducts(ctx context.Context, filter model.ProductFilter, opts repository.ListOptions) ([]model.Product, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := max(opts.Offset, 0)

	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		where = append(where, "p.category = ?")
		args = append(args, filter.Category)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		where = append(where, "p.title LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(q)+"%")
	}
	if filter.OwnerID != 0 {
		where = append(where, "p.user_id = ?")
		args = append(args, filter.OwnerID)
	}

	query := `SELECT ` + productColumns + ` FROM products p`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing products: %w", err)
	}
	defer rows.Close()

	products := make([]model.Product, 0, limit)
	for rows.Next() {
		var p model.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, fmt.Errorf("sqlite: scanning product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating products: %w", err)
	}
	return products, nil
}

// ListCategories returns the distinct non-empty categories in use, sorted.
func (db *DB) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT category FROM products WHERE category != '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("sqlite: scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating categories: %w", err)
	}
	return categories, nil
}

// UpdateProduct overwrites the editable fields. Owner and created_at are
// immutable.
func (db *DB) UpdateProduct(ctx context.Context, product *model.Product) error {
	if product.Image == "" {
		product.Image = model.PlaceholderImage
	}
	result, err := db.conn.ExecContext(ctx,
		`UPDATE products
		 SET title = ?, description = ?, category = ?, price = ?, image = ?
		 WHERE id = ?`,
		product.Title,
		product.Description,
		product.Category,
		product.Price,
		product.Image,
		product.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating product %d: %w", product.ID, err)
	}
	return expectOneRow(result, "product", product.ID)
}

func (db *DB) DeleteProduct(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting product %d: %w", id, err)
	}
	return expectOneRow(result, "product", id)
}

// escapeLike escapes LIKE wildcards so a search for "50%" matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
