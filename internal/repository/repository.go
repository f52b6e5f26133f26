// Package repository declares the storage interfaces used by the service
// layer. The sqlite subpackage implements all of them on one *sqlite.DB.
package repository

import (
	"context"

	"github.com/sakif/ecofinds/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	// DeleteUser removes the user together with their products, cart rows
	// and purchases.
	DeleteUser(ctx context.Context, id int64) error
}

type ProductRepository interface {
	CreateProduct(ctx context.Context, product *model.Product) error
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context, filter model.ProductFilter, opts ListOptions) ([]model.Product, error)
	ListCategories(ctx context.Context) ([]string, error)
	UpdateProduct(ctx context.Context, product *model.Product) error
	DeleteProduct(ctx context.Context, id int64) error
}

type CartRepository interface {
	AddCartItem(ctx context.Context, item *model.CartItem) error
	GetCartItem(ctx context.Context, id int64) (*model.CartItem, error)
	ListCartItems(ctx context.Context, userID int64) ([]model.CartItem, error)
	RemoveCartItem(ctx context.Context, id int64) error
}

type PurchaseRepository interface {
	// Purchase inserts a purchase row and deletes every cart row for
	// (userID, productID) in a single transaction.
	Purchase(ctx context.Context, userID, productID int64) (*model.Purchase, error)
	ListPurchases(ctx context.Context, userID int64) ([]model.Purchase, error)
}
