package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
)

var _ repository.CartRepository = (*DB)(nil)

// AddCartItem inserts a cart row. There is no dedup: adding the same product
// twice yields two rows. An unknown user or product is reported as
// apperror.ErrNotFound via the foreign key.
func (db *DB) AddCartItem(ctx context.Context, item *model.CartItem) error {
	item.AddedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO cart (user_id, product_id, added_at) VALUES (?, ?, ?)`,
		item.UserID,
		item.ProductID,
		item.AddedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("product", item.ProductID)
		}
		return fmt.Errorf("sqlite: adding product %d to cart of user %d: %w", item.ProductID, item.UserID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new cart item id: %w", err)
	}
	item.ID = id
	return nil
}

func (db *DB) GetCartItem(ctx context.Context, id int64) (*model.CartItem, error) {
	var it model.CartItem
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, product_id, added_at FROM cart WHERE id = ?`, id,
	).Scan(&it.ID, &it.UserID, &it.ProductID, &it.AddedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("cart item", id)
		}
		return nil, fmt.Errorf("sqlite: getting cart item %d: %w", id, err)
	}
	return &it, nil
}

// ListCartItems returns the user's cart rows joined with their products,
// oldest first (the order they were added).
func (db *DB) ListCartItems(ctx context.Context, userID int64) ([]model.CartItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+productColumns+`, c.id, c.user_id, c.product_id, c.added_at
		 FROM cart c
		 JOIN products p ON p.id = c.product_id
		 WHERE c.user_id = ?
		 ORDER BY c.added_at, c.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing cart of user %d: %w", userID, err)
	}
	defer rows.Close()

	items := []model.CartItem{}
	for rows.Next() {
		var it model.CartItem
		if err := scanProduct(rows, &it.Product, &it.ID, &it.UserID, &it.ProductID, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning cart row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating cart: %w", err)
	}
	return items, nil
}

func (db *DB) RemoveCartItem(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM cart WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: removing cart item %d: %w", id, err)
	}
	return expectOneRow(result, "cart item", id)
}
