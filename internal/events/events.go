// Package events publishes marketplace events to other services.
//
// The only event today is a recorded purchase. Publishing is best effort:
// callers log a failed publish and carry on, the purchase itself is already
// committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// PurchaseEvent is the JSON payload sent for every purchase.
type PurchaseEvent struct {
	PurchaseID  int64     `json:"purchaseId"`
	UserID      int64     `json:"userId"`
	ProductID   int64     `json:"productId"`
	SellerID    int64     `json:"sellerId"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	PurchasedAt time.Time `json:"purchasedAt"`
}

type Publisher interface {
	PublishPurchase(ctx context.Context, ev PurchaseEvent) error
	Close() error
}

// NopPublisher drops every event. Used when NATS_URL is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishPurchase(context.Context, PurchaseEvent) error { return nil }
func (NopPublisher) Close() error                                       { return nil }

// NATSPublisher publishes JSON events on a single subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url. The connection reconnects on its own
// after the initial dial succeeds.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("ecofinds"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to %s: %w", url, err)
	}
	logger.Info("connected to nats", slog.String("url", conn.ConnectedUrl()), slog.String("subject", subject))
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

func (p *NATSPublisher) PublishPurchase(ctx context.Context, ev PurchaseEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encoding purchase %d: %w", ev.PurchaseID, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("events: publishing purchase %d: %w", ev.PurchaseID, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("events: draining nats connection: %w", err)
	}
	return nil
}
