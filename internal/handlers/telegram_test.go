package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sorulabs/tgbridge/internal/bot"
)

type fakeLoginSender struct {
	chats []int64
	users []bot.ChatUser
	err   error
}

func (f *fakeLoginSender) SendLoginLink(_ context.Context, chatID int64, user bot.ChatUser) error {
	f.chats = append(f.chats, chatID)
	f.users = append(f.users, user)
	return f.err
}

const loginUpdate = `{
	"update_id": 12,
	"message": {
		"message_id": 34,
		"text": "/login",
		"from": {"id": 555, "username": "tester", "first_name": "Tes", "last_name": "Ter"},
		"chat": {"id": 9876, "type": "private"}
	}
}`

func postWebhook(t *testing.T, h *TelegramHandler, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/tg-webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set(secretTokenHeader, secret)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Webhook(c); err != nil {
		var httpErr *echo.HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatalf("Webhook() error = %v", err)
		}
		rec.Code = httpErr.Code
	}
	return rec
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	sender := &fakeLoginSender{}
	h := NewTelegramHandler(slog.Default(), sender, "hook-secret")

	rec := postWebhook(t, h, loginUpdate, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	rec = postWebhook(t, h, loginUpdate, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header status = %d, want 401", rec.Code)
	}
	if len(sender.chats) != 0 {
		t.Error("rejected update must not reach the sender")
	}
}

func TestWebhookDispatchesLoginCommand(t *testing.T) {
	sender := &fakeLoginSender{}
	h := NewTelegramHandler(slog.Default(), sender, "hook-secret")

	rec := postWebhook(t, h, loginUpdate, "hook-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(sender.chats) != 1 || sender.chats[0] != 9876 {
		t.Fatalf("chats = %v", sender.chats)
	}
	user := sender.users[0]
	if user.ID != 555 || user.Username != "tester" || user.FirstName != "Tes" {
		t.Errorf("user = %+v", user)
	}
}

func TestWebhookIgnoresOtherUpdates(t *testing.T) {
	sender := &fakeLoginSender{}
	h := NewTelegramHandler(slog.Default(), sender, "hook-secret")

	body := strings.Replace(loginUpdate, "/login", "hello there", 1)
	rec := postWebhook(t, h, body, "hook-secret")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(sender.chats) != 0 {
		t.Error("non-command update must be dropped")
	}
}

func TestWebhookAcknowledgesSendFailure(t *testing.T) {
	sender := &fakeLoginSender{err: context.DeadlineExceeded}
	h := NewTelegramHandler(slog.Default(), sender, "hook-secret")

	rec := postWebhook(t, h, loginUpdate, "hook-secret")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even when the send fails", rec.Code)
	}
}

func TestIsLoginCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"/login", true},
		{"/LOGIN", true},
		{"/login@soru_bot", true},
		{"/start login", true},
		{"/start", false},
		{"/start other", false},
		{"login", false},
		{"", false},
		{"tell me about /login", false},
	}
	for _, tt := range tests {
		if got := isLoginCommand(tt.text); got != tt.want {
			t.Errorf("isLoginCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
