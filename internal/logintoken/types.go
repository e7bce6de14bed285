package logintoken

import (
	"errors"
	"time"
)

// Errors returned by login token operations.
var (
	// ErrTokenNotFound covers unknown, expired, and already-consumed tokens.
	// Callers must not be able to tell those apart.
	ErrTokenNotFound = errors.New("login token not found")
	ErrTokenExists   = errors.New("login token collision after retries")
)

// Token is a single-use login token issued to a Telegram identity.
type Token struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	ChatUserID   int64     `json:"chat_user_id"`
	ChatUsername string    `json:"chat_username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ConsumedAt   time.Time `json:"consumed_at,omitzero"`
}

// IssueParams carries the chat identity captured at issuance time.
// Username and names are display metadata only.
type IssueParams struct {
	ChatUserID   int64
	ChatUsername string
	FirstName    string
	LastName     string
}
