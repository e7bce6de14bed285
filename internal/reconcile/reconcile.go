// Package reconcile maps Telegram identities to accounts in the external
// identity service, creating them on first login.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sorulabs/tgbridge/internal/identity"
)

// Errors returned by reconciliation.
var (
	// ErrAccountResolution means no account id could be obtained by any path.
	// Fatal for the current exchange attempt; not retried automatically.
	ErrAccountResolution = errors.New("account resolution failed")
	// ErrIdentityService wraps identity service failures during resolution.
	ErrIdentityService = errors.New("identity service error")
)

// Directory is the slice of the identity admin API reconciliation needs.
type Directory interface {
	GetUserByEmail(ctx context.Context, email string) (identity.User, error)
	CreateUser(ctx context.Context, params identity.CreateUserParams) (identity.User, error)
}

// Identity is the chat-platform identity captured at token issuance.
type Identity struct {
	ChatUserID int64
	Username   string
	FirstName  string
	LastName   string
}

// Reconciler finds or creates the account backing a Telegram identity.
type Reconciler struct {
	directory      Directory
	reservedDomain string
	logger         *slog.Logger
}

// NewReconciler creates a reconciler deriving synthetic addresses under the
// given reserved domain.
func NewReconciler(log *slog.Logger, directory Directory, reservedDomain string) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		directory:      directory,
		reservedDomain: strings.ToLower(strings.TrimSpace(reservedDomain)),
		logger:         log.With(slog.String("service", "reconcile")),
	}
}

// SyntheticAddress derives the deterministic, never-emailed lookup key for a
// chat user id. The reserved domain must never resolve to a real mailbox.
func SyntheticAddress(chatUserID int64, reservedDomain string) string {
	return "tg_" + strconv.FormatInt(chatUserID, 10) + "@" + strings.ToLower(strings.TrimSpace(reservedDomain))
}

// Reconcile returns the account id for the given Telegram identity, creating
// the account on first login. Safe under concurrent first logins for the
// same chat user: a lost create race falls back to a re-fetch.
func (r *Reconciler) Reconcile(ctx context.Context, ident Identity) (string, error) {
	if r.directory == nil {
		return "", errors.New("reconcile directory not configured")
	}
	if ident.ChatUserID == 0 {
		return "", fmt.Errorf("%w: chat user id is required", ErrAccountResolution)
	}
	if r.reservedDomain == "" {
		return "", errors.New("reconcile reserved domain not configured")
	}

	address := SyntheticAddress(ident.ChatUserID, r.reservedDomain)

	existing, err := r.directory.GetUserByEmail(ctx, address)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, identity.ErrUserNotFound) {
		return "", fmt.Errorf("%w: lookup %s: %v", ErrIdentityService, address, err)
	}

	created, err := r.directory.CreateUser(ctx, identity.CreateUserParams{
		Email:        address,
		EmailConfirm: true,
		UserMetadata: metadataFor(ident),
	})
	if err == nil {
		r.logger.Info("account created",
			slog.String("account_id", created.ID),
			slog.Int64("chat_user_id", ident.ChatUserID),
		)
		return created.ID, nil
	}
	if !errors.Is(err, identity.ErrEmailExists) {
		return "", fmt.Errorf("%w: create %s: %v", ErrIdentityService, address, err)
	}

	// Lost the creation race to a concurrent login; the row exists now.
	raced, err := r.directory.GetUserByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return "", fmt.Errorf("%w: %s", ErrAccountResolution, address)
		}
		return "", fmt.Errorf("%w: refetch %s: %v", ErrIdentityService, address, err)
	}
	return raced.ID, nil
}

func metadataFor(ident Identity) map[string]any {
	meta := map[string]any{
		"provider":    "telegram",
		"telegram_id": ident.ChatUserID,
	}
	if username := strings.TrimSpace(ident.Username); username != "" {
		meta["telegram_username"] = username
	}
	if first := strings.TrimSpace(ident.FirstName); first != "" {
		meta["first_name"] = first
	}
	if last := strings.TrimSpace(ident.LastName); last != "" {
		meta["last_name"] = last
	}
	if full := FullName(ident.FirstName, ident.LastName); full != "" {
		meta["full_name"] = full
	}
	return meta
}

// FullName joins the optional first and last names for display.
func FullName(first, last string) string {
	parts := make([]string, 0, 2)
	if first = strings.TrimSpace(first); first != "" {
		parts = append(parts, first)
	}
	if last = strings.TrimSpace(last); last != "" {
		parts = append(parts, last)
	}
	return strings.Join(parts, " ")
}
