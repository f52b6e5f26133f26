package model

import "time"

// CartItem is one row of a user's cart: a product selected but not yet
// purchased. The same product may appear in several rows.
type CartItem struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	ProductID int64     `json:"productId"`
	AddedAt   time.Time `json:"addedAt"`

	// Product is populated by listing queries.
	Product Product `json:"product"`
}

// Purchase records that a user acquired a product. Purchases are append-only.
//
// Product.Title and Product.Price are the values at purchase time. Once the
// product is deleted ProductID and Product.ID are 0.
type Purchase struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	ProductID   int64     `json:"productId"`
	PurchasedAt time.Time `json:"purchasedAt"`

	Product Product `json:"product"`
}

// ProductGone reports whether the purchased product no longer exists.
func (p Purchase) ProductGone() bool {
	return p.ProductID == 0
}

// CartTotal sums the product prices of items.
func CartTotal(items []CartItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Product.Price
	}
	return total
}
