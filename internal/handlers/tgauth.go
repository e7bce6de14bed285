package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sorulabs/tgbridge/internal/logintoken"
	"github.com/sorulabs/tgbridge/internal/reconcile"
	"github.com/sorulabs/tgbridge/internal/session"
)

// Redirect error codes carried back to the web client.
const (
	ErrCodeInvalidToken = "invalid_token"
	ErrCodeTokenExpired = "token_expired"
	ErrCodeAccount      = "account_error"
	ErrCodeSession      = "session_error"
	ErrCodeServerConfig = "server_config"
	ErrCodeUnexpected   = "unexpected"
)

var userMessages = map[string]string{
	ErrCodeInvalidToken: "This login link is malformed. Please request a new one from the bot.",
	ErrCodeTokenExpired: "This login link has expired or was already used. Please request a new one from the bot.",
	ErrCodeAccount:      "We could not look up your account. Please try the link again.",
	ErrCodeSession:      "We could not sign you in right now. Please try the link again.",
	ErrCodeServerConfig: "Login is temporarily unavailable. Please try again later.",
	ErrCodeUnexpected:   "Something went wrong. Please request a new login link from the bot.",
}

// TokenStore is the login token lifecycle the exchange needs.
type TokenStore interface {
	ValidateAndFetch(ctx context.Context, token string) (logintoken.Token, error)
	ConsumeFirst(ctx context.Context, token string) (bool, error)
}

// AccountReconciler resolves a chat identity to an account id.
type AccountReconciler interface {
	Reconcile(ctx context.Context, ident reconcile.Identity) (string, error)
}

// SessionIssuer obtains a credential pair for a reconciled account.
type SessionIssuer interface {
	Issue(ctx context.Context, accountID, address string) (session.Credentials, error)
}

// TgAuthHandler serves the one-tap login exchange: token in, redirect with a
// session pair (or a typed error) out. Every branch ends in a redirect.
type TgAuthHandler struct {
	tokens         TokenStore
	reconciler     AccountReconciler
	sessions       SessionIssuer
	siteBaseURL    string
	reservedDomain string
	logger         *slog.Logger
}

// NewTgAuthHandler creates the exchange endpoint handler.
func NewTgAuthHandler(log *slog.Logger, tokens TokenStore, reconciler AccountReconciler, sessions SessionIssuer, siteBaseURL, reservedDomain string) *TgAuthHandler {
	return &TgAuthHandler{
		tokens:         tokens,
		reconciler:     reconciler,
		sessions:       sessions,
		siteBaseURL:    strings.TrimRight(strings.TrimSpace(siteBaseURL), "/"),
		reservedDomain: reservedDomain,
		logger:         log.With(slog.String("handler", "tgauth")),
	}
}

// Register mounts GET /api/tg-auth on the Echo instance.
func (h *TgAuthHandler) Register(e *echo.Echo) {
	e.GET("/api/tg-auth", h.Exchange)
}

// Exchange validates the presented token, reconciles the account, issues a
// session, and only then consumes the token, so a downstream failure leaves
// the token valid for a cheap retry. Two concurrent exchanges with the same
// token may both reach issuance; exactly one wins the consuming transition
// and the other is logged as a replay.
func (h *TgAuthHandler) Exchange(c echo.Context) error {
	if h.siteBaseURL == "" {
		// No redirect target to send the user to; this is the one branch
		// that cannot terminate in a redirect.
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "site base url not configured"})
	}
	if h.tokens == nil || h.reconciler == nil || h.sessions == nil {
		h.logger.Error("exchange dependencies not configured")
		return h.redirectFailure(c, ErrCodeServerConfig)
	}

	ctx := c.Request().Context()
	// Correlates the log lines of one exchange across its steps.
	log := h.logger.With(slog.String("exchange_id", uuid.NewString()))

	token := strings.TrimSpace(c.QueryParam("tg_token"))
	if token == "" {
		log.Warn("exchange without token", slog.String("remote_ip", c.RealIP()))
		return h.redirectFailure(c, ErrCodeInvalidToken)
	}

	fetched, err := h.tokens.ValidateAndFetch(ctx, token)
	if err != nil {
		if errors.Is(err, logintoken.ErrTokenNotFound) {
			log.Info("exchange token rejected", slog.String("remote_ip", c.RealIP()))
			return h.redirectFailure(c, ErrCodeTokenExpired)
		}
		log.Error("exchange token lookup failed", slog.Any("error", err))
		return h.redirectFailure(c, ErrCodeUnexpected)
	}

	accountID, err := h.reconciler.Reconcile(ctx, reconcile.Identity{
		ChatUserID: fetched.ChatUserID,
		Username:   fetched.ChatUsername,
		FirstName:  fetched.FirstName,
		LastName:   fetched.LastName,
	})
	if err != nil {
		log.Error("exchange account reconciliation failed",
			slog.Int64("chat_user_id", fetched.ChatUserID),
			slog.Any("error", err),
		)
		return h.redirectFailure(c, ErrCodeAccount)
	}

	address := reconcile.SyntheticAddress(fetched.ChatUserID, h.reservedDomain)
	creds, err := h.sessions.Issue(ctx, accountID, address)
	if err != nil {
		log.Error("exchange session issuance failed",
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
		return h.redirectFailure(c, ErrCodeSession)
	}

	winner, err := h.tokens.ConsumeFirst(ctx, token)
	if err != nil {
		// The session is already issued; failing the user over a bookkeeping
		// write would only force a fresh link.
		log.Error("exchange token consume failed", slog.String("token_id", fetched.ID), slog.Any("error", err))
	} else if !winner {
		log.Warn("exchange token consumed concurrently", slog.String("token_id", fetched.ID))
	}

	log.Info("exchange complete",
		slog.String("token_id", fetched.ID),
		slog.String("account_id", accountID),
		slog.Int64("chat_user_id", fetched.ChatUserID),
	)

	target := h.siteBaseURL + "/auth?" + url.Values{
		"access_token":  {creds.AccessToken},
		"refresh_token": {creds.RefreshToken},
	}.Encode()
	return c.Redirect(http.StatusFound, target)
}

func (h *TgAuthHandler) redirectFailure(c echo.Context, code string) error {
	message, ok := userMessages[code]
	if !ok {
		message = userMessages[ErrCodeUnexpected]
	}
	target := h.siteBaseURL + "/auth?" + url.Values{
		"error":   {code},
		"message": {message},
	}.Encode()
	return c.Redirect(http.StatusFound, target)
}
