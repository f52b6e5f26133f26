package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
)

type CartService struct {
	cart     repository.CartRepository
	products repository.ProductRepository
	logger   *slog.Logger
}

func NewCartService(cart repository.CartRepository, products repository.ProductRepository, logger *slog.Logger) *CartService {
	return &CartService{cart: cart, products: products, logger: logger}
}

// Add puts productID into userID's cart. Adding the same product twice
// yields two rows.
func (s *CartService) Add(ctx context.Context, actor, userID, productID int64) (*model.CartItem, error) {
	if err := requireSelf(actor, userID); err != nil {
		return nil, err
	}
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("service/cart: fetching product %d: %w", productID, err)
	}

	item := &model.CartItem{UserID: userID, ProductID: productID}
	if err := s.cart.AddCartItem(ctx, item); err != nil {
		return nil, fmt.Errorf("service/cart: adding product %d: %w", productID, err)
	}
	item.Product = *product

	s.logger.Info("cart item added",
		slog.Int64("userID", userID),
		slog.Int64("productID", productID),
		slog.Int64("itemID", item.ID),
	)
	return item, nil
}

// List returns userID's cart in the order items were added, and its total.
func (s *CartService) List(ctx context.Context, actor, userID int64) ([]model.CartItem, float64, error) {
	if err := requireSelf(actor, userID); err != nil {
		return nil, 0, err
	}
	items, err := s.cart.ListCartItems(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("service/cart: listing cart of user %d: %w", userID, err)
	}
	return items, model.CartTotal(items), nil
}

// Remove deletes one cart row and returns the id of the user owning it,
// which the caller needs for the redirect.
func (s *CartService) Remove(ctx context.Context, actor, itemID int64) (int64, error) {
	item, err := s.cart.GetCartItem(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("service/cart: fetching item %d: %w", itemID, err)
	}
	if item.UserID != actor {
		return 0, apperror.Forbidden("You can only manage your own cart")
	}
	if err := s.cart.RemoveCartItem(ctx, itemID); err != nil {
		return 0, fmt.Errorf("service/cart: removing item %d: %w", itemID, err)
	}

	s.logger.Info("cart item removed", slog.Int64("userID", item.UserID), slog.Int64("itemID", itemID))
	return item.UserID, nil
}
