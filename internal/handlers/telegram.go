package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/sorulabs/tgbridge/internal/bot"
)

// secretTokenHeader is echoed back by Telegram on every webhook delivery.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// LoginSender delivers a login link into a chat.
type LoginSender interface {
	SendLoginLink(ctx context.Context, chatID int64, user bot.ChatUser) error
}

// TelegramHandler ingests Telegram webhook updates. Only the login command
// is handled here; everything else is acknowledged and dropped.
type TelegramHandler struct {
	sender        LoginSender
	webhookSecret string
	logger        *slog.Logger
}

// NewTelegramHandler creates the webhook ingress handler.
func NewTelegramHandler(log *slog.Logger, sender LoginSender, webhookSecret string) *TelegramHandler {
	return &TelegramHandler{
		sender:        sender,
		webhookSecret: webhookSecret,
		logger:        log.With(slog.String("handler", "telegram")),
	}
}

// Register mounts POST /api/tg-webhook on the Echo instance.
func (h *TelegramHandler) Register(e *echo.Echo) {
	e.POST("/api/tg-webhook", h.Webhook)
}

// Webhook authenticates the delivery by shared secret and dispatches login
// commands. Non-login updates return 200 so Telegram stops retrying them.
func (h *TelegramHandler) Webhook(c echo.Context) error {
	if strings.TrimSpace(h.webhookSecret) == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "webhook secret not configured")
	}
	presented := c.Request().Header.Get(secretTokenHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.webhookSecret)) != 1 {
		h.logger.Warn("webhook secret mismatch", slog.String("remote_ip", c.RealIP()))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	}

	var update tgbotapi.Update
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed update")
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !isLoginCommand(msg.Text) {
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
	if h.sender == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "login sender not configured")
	}

	user := bot.ChatUser{
		ID:        msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	}
	if err := h.sender.SendLoginLink(c.Request().Context(), msg.Chat.ID, user); err != nil {
		// The update is still acknowledged: Telegram retrying it would not
		// help, and the user already got an apology message where possible.
		h.logger.Error("send login link failed",
			slog.Int64("chat_id", msg.Chat.ID),
			slog.Int64("chat_user_id", msg.From.ID),
			slog.Any("error", err),
		)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// isLoginCommand matches /login and the /start login deep-link payload,
// with or without a @botname suffix.
func isLoginCommand(text string) bool {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return false
	}
	command := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	switch command {
	case "login":
		return true
	case "start":
		return len(fields) > 1 && strings.EqualFold(fields[1], "login")
	}
	return false
}
