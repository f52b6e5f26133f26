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

var _ repository.PurchaseRepository = (*DB)(nil)

// Purchase records that userID bought productID and clears that product from
// the user's cart.
//
// TRANSACTION:
// The INSERT and the DELETE run in one transaction. If either statement or
// the COMMIT fails, the deferred Rollback undoes everything, so there is
// never a purchase without the cart cleanup or the other way round.
// Rollback after a successful Commit is a no-op (it returns sql.ErrTxDone,
// which we ignore).
//
// All statements go through tx, never db.conn: with an in-memory database
// the pool has exactly one connection and tx is holding it.
//
// There is no stock check and no idempotency key. Calling Purchase twice
// creates two purchase rows.
func (db *DB) Purchase(ctx context.Context, userID, productID int64) (*model.Purchase, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning purchase transaction: %w", err)
	}
	defer tx.Rollback()

	p := &model.Purchase{
		UserID:      userID,
		ProductID:   productID,
		PurchasedAt: time.Now().UTC(),
	}

	if err := scanProduct(tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products p WHERE p.id = ?`, productID), &p.Product); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("product", productID)
		}
		return nil, fmt.Errorf("sqlite: loading product %d for purchase: %w", productID, err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO purchases (user_id, product_id, title, price, purchased_at) VALUES (?, ?, ?, ?, ?)`,
		p.UserID, p.ProductID, p.Product.Title, p.Product.Price, p.PurchasedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperror.NotFound("user", userID)
		}
		return nil, fmt.Errorf("sqlite: inserting purchase (user=%d product=%d): %w", userID, productID, err)
	}
	if p.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("sqlite: reading new purchase id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cart WHERE user_id = ? AND product_id = ?`,
		userID, productID,
	); err != nil {
		return nil, fmt.Errorf("sqlite: clearing cart (user=%d product=%d): %w", userID, productID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing purchase: %w", err)
	}
	return p, nil
}

// ListPurchases returns the user's purchases, newest first. Title and price
// come from the purchase row; the rest of Product is filled in while the
// product still exists.
func (db *DB) ListPurchases(ctx context.Context, userID int64) ([]model.Purchase, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT pu.id, pu.user_id, pu.product_id, pu.title, pu.price, pu.purchased_at,
		        p.description, p.category, p.image, p.user_id, p.created_at
		 FROM purchases pu
		 LEFT JOIN products p ON p.id = pu.product_id
		 WHERE pu.user_id = ?
		 ORDER BY pu.purchased_at DESC, pu.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing purchases of user %d: %w", userID, err)
	}
	defer rows.Close()

	purchases := []model.Purchase{}
	for rows.Next() {
		var (
			pu          model.Purchase
			productID   sql.NullInt64
			description sql.NullString
			category    sql.NullString
			image       sql.NullString
			sellerID    sql.NullInt64
			createdAt   sql.NullTime
		)
		if err := rows.Scan(
			&pu.ID, &pu.UserID, &productID, &pu.Product.Title, &pu.Product.Price, &pu.PurchasedAt,
			&description, &category, &image, &sellerID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning purchase row: %w", err)
		}
		pu.ProductID = productID.Int64
		pu.Product.ID = productID.Int64
		pu.Product.Description = description.String
		pu.Product.Category = category.String
		pu.Product.Image = model.PlaceholderImage
		if image.Valid {
			pu.Product.Image = image.String
		}
		pu.Product.UserID = sellerID.Int64
		pu.Product.CreatedAt = createdAt.Time
		purchases = append(purchases, pu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating purchases: %w", err)
	}
	return purchases, nil
}
