// Package bot issues login deep links and delivers them through the
// Telegram Bot API.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/sorulabs/tgbridge/internal/logintoken"
)

// ErrRateLimited is returned when a chat user requests login links faster
// than the configured rate.
var ErrRateLimited = errors.New("login link rate limited")

// ChatUser is the Telegram identity requesting a login link.
type ChatUser struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// TokenIssuer is the login token issuance the bot needs.
type TokenIssuer interface {
	Issue(ctx context.Context, params logintoken.IssueParams) (logintoken.Token, error)
}

// Sender sends Telegram messages. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// RetryConfig bounds the exponential backoff around token persistence.
// Explicit configuration, not module constants.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// RateConfig bounds per-chat-user link issuance.
type RateConfig struct {
	PerMinute int
	Burst     int
}

// Service issues login tokens, builds deep links, and sends one-tap
// messages.
type Service struct {
	tokens      TokenIssuer
	sender      Sender
	siteBaseURL string
	retry       RetryConfig
	rateCfg     RateConfig
	logger      *slog.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewService creates the bot login service. sender may be nil when the
// service is only used to build links (e.g. in tests or one-shot tooling).
func NewService(log *slog.Logger, tokens TokenIssuer, sender Sender, siteBaseURL string, retry RetryConfig, rateCfg RateConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.Delay <= 0 {
		retry.Delay = 500 * time.Millisecond
	}
	if rateCfg.PerMinute <= 0 {
		rateCfg.PerMinute = 6
	}
	if rateCfg.Burst <= 0 {
		rateCfg.Burst = rateCfg.PerMinute
	}
	return &Service{
		tokens:      tokens,
		sender:      sender,
		siteBaseURL: strings.TrimRight(strings.TrimSpace(siteBaseURL), "/"),
		retry:       retry,
		rateCfg:     rateCfg,
		logger:      log.With(slog.String("service", "bot")),
		limiters:    map[int64]*rate.Limiter{},
	}
}

// BuildAuthURL builds the deep link the user taps to exchange the token.
func (s *Service) BuildAuthURL(token string) string {
	return s.siteBaseURL + "/api/tg-auth?" + url.Values{"tg_token": {token}}.Encode()
}

// IssueLoginLink issues a fresh login token for the chat user and returns
// the deep link. Storage failures are retried with bounded exponential
// backoff; invalid input is not.
func (s *Service) IssueLoginLink(ctx context.Context, user ChatUser) (string, error) {
	if s.tokens == nil {
		return "", errors.New("bot token issuer not configured")
	}
	if s.siteBaseURL == "" {
		return "", errors.New("bot site base url not configured")
	}
	if !s.limiter(user.ID).Allow() {
		return "", ErrRateLimited
	}

	operation := func() (logintoken.Token, error) {
		issued, err := s.tokens.Issue(ctx, logintoken.IssueParams{
			ChatUserID:   user.ID,
			ChatUsername: user.Username,
			FirstName:    user.FirstName,
			LastName:     user.LastName,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return logintoken.Token{}, backoff.Permanent(err)
			}
			return logintoken.Token{}, err
		}
		return issued, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.retry.Delay
	issued, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(s.retry.MaxAttempts)),
	)
	if err != nil {
		return "", fmt.Errorf("issue login token: %w", err)
	}
	return s.BuildAuthURL(issued.Token), nil
}

// SendLoginLink issues a link and delivers it to the chat as a one-tap
// inline button, greeting the user by first name when available.
func (s *Service) SendLoginLink(ctx context.Context, chatID int64, user ChatUser) error {
	if s.sender == nil {
		return errors.New("bot sender not configured")
	}
	link, err := s.IssueLoginLink(ctx, user)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return s.sendText(chatID, "You are requesting login links too quickly. Please wait a minute and try again.")
		}
		s.logger.Error("issue login link failed", slog.Int64("chat_user_id", user.ID), slog.Any("error", err))
		return s.sendText(chatID, "Sorry, we could not create a login link right now. Please try again in a moment.")
	}

	msg := tgbotapi.NewMessage(chatID, greeting(user))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Log in", link),
		),
	)
	if _, err := s.sender.Send(msg); err != nil {
		return fmt.Errorf("send login message: %w", err)
	}
	s.logger.Info("login link sent",
		slog.Int64("chat_id", chatID),
		slog.Int64("chat_user_id", user.ID),
	)
	return nil
}

func (s *Service) sendText(chatID int64, text string) error {
	if _, err := s.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (s *Service) limiter(chatUserID int64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[chatUserID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(s.rateCfg.PerMinute)/60.0), s.rateCfg.Burst)
		s.limiters[chatUserID] = limiter
	}
	return limiter
}

func greeting(user ChatUser) string {
	name := strings.TrimSpace(user.FirstName)
	if name == "" {
		name = strings.TrimSpace(user.Username)
	}
	if name == "" {
		return "Tap the button below to log in. The link works once and expires in 10 minutes."
	}
	return fmt.Sprintf("Hi %s! Tap the button below to log in. The link works once and expires in 10 minutes.", name)
}
