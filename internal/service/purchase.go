package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/ecofinds/internal/events"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
)

type PurchaseService struct {
	purchases repository.PurchaseRepository
	publisher events.Publisher
	logger    *slog.Logger
}

func NewPurchaseService(purchases repository.PurchaseRepository, publisher events.Publisher, logger *slog.Logger) *PurchaseService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &PurchaseService{purchases: purchases, publisher: publisher, logger: logger}
}

// Purchase records that userID bought productID and clears every cart row
// for that product in the same transaction. The product need not be in the
// cart. A PurchaseEvent is published after commit; a failed publish is
// logged and does not undo the purchase.
func (s *PurchaseService) Purchase(ctx context.Context, actor, userID, productID int64) (*model.Purchase, error) {
	if err := requireSelf(actor, userID); err != nil {
		return nil, err
	}

	purchase, err := s.purchases.Purchase(ctx, userID, productID)
	if err != nil {
		return nil, fmt.Errorf("service/purchase: user %d product %d: %w", userID, productID, err)
	}

	s.logger.Info("purchase recorded",
		slog.Int64("purchaseID", purchase.ID),
		slog.Int64("userID", userID),
		slog.Int64("productID", productID),
	)

	ev := events.PurchaseEvent{
		PurchaseID:  purchase.ID,
		UserID:      purchase.UserID,
		ProductID:   purchase.ProductID,
		SellerID:    purchase.Product.UserID,
		Title:       purchase.Product.Title,
		Price:       purchase.Product.Price,
		PurchasedAt: purchase.PurchasedAt,
	}
	if err := s.publisher.PublishPurchase(ctx, ev); err != nil {
		s.logger.Warn("failed to publish purchase event",
			slog.Int64("purchaseID", purchase.ID),
			slog.String("error", err.Error()),
		)
	}
	return purchase, nil
}

// List returns userID's purchases, newest first.
func (s *PurchaseService) List(ctx context.Context, actor, userID int64) ([]model.Purchase, error) {
	if err := requireSelf(actor, userID); err != nil {
		return nil, err
	}
	purchases, err := s.purchases.ListPurchases(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/purchase: listing purchases of user %d: %w", userID, err)
	}
	return purchases, nil
}
