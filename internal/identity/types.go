package identity

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by identity service calls.
var (
	ErrUserNotFound = errors.New("identity user not found")
	ErrEmailExists  = errors.New("identity email already registered")
	// ErrUnsupported marks an admin operation the deployed identity service
	// version does not expose.
	ErrUnsupported = errors.New("identity operation not supported")
)

// APIError is a non-2xx admin API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity api: status %d: %s", e.Status, e.Message)
}

// User is an account row owned by the external identity service.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    time.Time      `json:"created_at"`
	ConfirmedAt  time.Time      `json:"confirmed_at,omitzero"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// CreateUserParams creates a pre-confirmed account keyed by a synthetic
// address. No confirmation email is ever sent for these accounts.
type CreateUserParams struct {
	Email        string         `json:"email"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Link types accepted by GenerateLink.
const (
	LinkTypeMagic    = "magiclink"
	LinkTypeRecovery = "recovery"
)

// GenerateLinkParams requests a one-time action link for an address.
type GenerateLinkParams struct {
	Type  string `json:"type"`
	Email string `json:"email"`
}

// GeneratedLink is the action link artifact. Depending on the service
// version the embedded session credentials live in the link's query
// parameters or in its fragment.
type GeneratedLink struct {
	ActionLink string `json:"action_link"`
}

// Session is an access/refresh credential pair usable by the web client.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
