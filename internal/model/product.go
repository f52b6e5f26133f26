package model

import "time"

// PlaceholderImage is the image filename used when a product has no upload.
const PlaceholderImage = "placeholder.svg"

// Product is an item listed for sale by its owner (UserID).
type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Price       float64   `json:"price"`
	Image       string    `json:"image"`
	UserID      int64     `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// HasUpload reports whether Image refers to an uploaded file rather than the
// placeholder.
func (p Product) HasUpload() bool {
	return p.Image != "" && p.Image != PlaceholderImage
}

// ProductInput is the validated form data for creating or editing a product.
// Image is the stored filename of a freshly uploaded image, or empty.
type ProductInput struct {
	Title       string
	Description string
	Category    string
	Price       float64
	Image       string
}

// ProductFilter narrows a product listing.
type ProductFilter struct {
	Category string
	Query    string // substring match on title
	OwnerID  int64  // 0 = any owner
}
