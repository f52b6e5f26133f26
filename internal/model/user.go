// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a marketplace account. A user owns products, cart entries and
// purchases; deleting the user removes all three.
//
// PasswordHash holds a bcrypt hash and is never serialised to JSON.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserUpdate carries the editable profile fields. An empty Password keeps
// the current one.
type UserUpdate struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}
