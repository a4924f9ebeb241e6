// Package schema defines the data structures shared by the board daemon, its stores and the SDK.
package schema

import (
	"strings"
	"time"
)

// Principal is an authenticated identity. Email is unique and is the key
// collaborators use to refer to each other.
type Principal struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeEmail is the canonical form under which emails are stored and compared.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
