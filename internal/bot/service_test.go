package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sorulabs/tgbridge/internal/logintoken"
)

type fakeIssuer struct {
	failures int
	calls    int
	token    string
}

func (f *fakeIssuer) Issue(_ context.Context, params logintoken.IssueParams) (logintoken.Token, error) {
	f.calls++
	if f.calls <= f.failures {
		return logintoken.Token{}, errors.New("storage unavailable")
	}
	return logintoken.Token{Token: f.token, ChatUserID: params.ChatUserID}, nil
}

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func newTestService(issuer TokenIssuer, sender Sender) *Service {
	return NewService(nil, issuer, sender, "https://qa.example.com/",
		RetryConfig{MaxAttempts: 3, Delay: time.Millisecond},
		RateConfig{PerMinute: 60, Burst: 10},
	)
}

func TestBuildAuthURL(t *testing.T) {
	svc := newTestService(nil, nil)
	got := svc.BuildAuthURL("abc 123")
	want := "https://qa.example.com/api/tg-auth?tg_token=abc+123"
	if got != want {
		t.Errorf("BuildAuthURL() = %q, want %q", got, want)
	}
}

func TestIssueLoginLink(t *testing.T) {
	issuer := &fakeIssuer{token: "tok123"}
	svc := newTestService(issuer, nil)

	link, err := svc.IssueLoginLink(context.Background(), ChatUser{ID: 555, FirstName: "Tes"})
	if err != nil {
		t.Fatalf("IssueLoginLink() error = %v", err)
	}
	if link != "https://qa.example.com/api/tg-auth?tg_token=tok123" {
		t.Errorf("link = %q", link)
	}
}

func TestIssueLoginLinkRetriesStorageFailures(t *testing.T) {
	issuer := &fakeIssuer{failures: 2, token: "tok456"}
	svc := newTestService(issuer, nil)

	link, err := svc.IssueLoginLink(context.Background(), ChatUser{ID: 1})
	if err != nil {
		t.Fatalf("IssueLoginLink() error = %v", err)
	}
	if issuer.calls != 3 {
		t.Errorf("issuer calls = %d, want 3", issuer.calls)
	}
	if !strings.Contains(link, "tok456") {
		t.Errorf("link = %q", link)
	}
}

func TestIssueLoginLinkGivesUpAfterMaxAttempts(t *testing.T) {
	issuer := &fakeIssuer{failures: 10}
	svc := newTestService(issuer, nil)

	_, err := svc.IssueLoginLink(context.Background(), ChatUser{ID: 1})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if issuer.calls != 3 {
		t.Errorf("issuer calls = %d, want 3", issuer.calls)
	}
}

func TestIssueLoginLinkRateLimited(t *testing.T) {
	issuer := &fakeIssuer{token: "tok"}
	svc := NewService(nil, issuer, nil, "https://qa.example.com",
		RetryConfig{MaxAttempts: 1, Delay: time.Millisecond},
		RateConfig{PerMinute: 1, Burst: 1},
	)

	if _, err := svc.IssueLoginLink(context.Background(), ChatUser{ID: 7}); err != nil {
		t.Fatalf("first request error = %v", err)
	}
	_, err := svc.IssueLoginLink(context.Background(), ChatUser{ID: 7})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("second request error = %v, want ErrRateLimited", err)
	}
	// A different chat user has an independent budget.
	if _, err := svc.IssueLoginLink(context.Background(), ChatUser{ID: 8}); err != nil {
		t.Errorf("other user error = %v", err)
	}
}

func TestSendLoginLinkOneTapButton(t *testing.T) {
	issuer := &fakeIssuer{token: "tok789"}
	sender := &fakeSender{}
	svc := newTestService(issuer, sender)

	err := svc.SendLoginLink(context.Background(), 1234, ChatUser{ID: 555, FirstName: "Tes"})
	if err != nil {
		t.Fatalf("SendLoginLink() error = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", sender.sent[0])
	}
	if !strings.Contains(msg.Text, "Hi Tes!") {
		t.Errorf("text = %q, want greeting", msg.Text)
	}
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("reply markup %T, want InlineKeyboardMarkup", msg.ReplyMarkup)
	}
	button := markup.InlineKeyboard[0][0]
	if button.URL == nil || !strings.Contains(*button.URL, "tg_token=tok789") {
		t.Errorf("button = %+v, want deep link URL", button)
	}
}

func TestSendLoginLinkFailureSendsApology(t *testing.T) {
	issuer := &fakeIssuer{failures: 10}
	sender := &fakeSender{}
	svc := NewService(nil, issuer, sender, "https://qa.example.com",
		RetryConfig{MaxAttempts: 1, Delay: time.Millisecond},
		RateConfig{PerMinute: 60, Burst: 10},
	)

	if err := svc.SendLoginLink(context.Background(), 1234, ChatUser{ID: 555}); err != nil {
		t.Fatalf("SendLoginLink() error = %v", err)
	}
	msg := sender.sent[0].(tgbotapi.MessageConfig)
	if !strings.Contains(msg.Text, "could not create a login link") {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestGreetingFallsBackToUsername(t *testing.T) {
	if got := greeting(ChatUser{Username: "tester"}); !strings.Contains(got, "tester") {
		t.Errorf("greeting = %q", got)
	}
	if got := greeting(ChatUser{}); strings.Contains(got, "Hi ") {
		t.Errorf("anonymous greeting should skip the name, got %q", got)
	}
}
