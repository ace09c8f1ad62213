package model

import "time"

// Device is a browser/client a user has signed in from.
// One row per (user, user agent); LastActive moves on every sign-in.
type Device struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	UserAgent  string    `json:"user_agent"`
	IPAddress  string    `json:"ip_address"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
}
