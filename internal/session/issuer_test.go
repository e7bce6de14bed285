package session

import (
	"context"
	"errors"
	"testing"

	"github.com/sorulabs/tgbridge/internal/identity"
)

// fakeMinter scripts the identity admin API per link type and for the direct
// session endpoint.
type fakeMinter struct {
	magicLink    string
	magicErr     error
	recoveryLink string
	recoveryErr  error
	session      identity.Session
	sessionErr   error

	calls []string
}

func (m *fakeMinter) GenerateLink(_ context.Context, params identity.GenerateLinkParams) (identity.GeneratedLink, error) {
	m.calls = append(m.calls, params.Type)
	switch params.Type {
	case identity.LinkTypeMagic:
		if m.magicErr != nil {
			return identity.GeneratedLink{}, m.magicErr
		}
		return identity.GeneratedLink{ActionLink: m.magicLink}, nil
	case identity.LinkTypeRecovery:
		if m.recoveryErr != nil {
			return identity.GeneratedLink{}, m.recoveryErr
		}
		return identity.GeneratedLink{ActionLink: m.recoveryLink}, nil
	}
	return identity.GeneratedLink{}, errors.New("unknown type")
}

func (m *fakeMinter) CreateSession(_ context.Context, _ string) (identity.Session, error) {
	m.calls = append(m.calls, "direct")
	if m.sessionErr != nil {
		return identity.Session{}, m.sessionErr
	}
	return m.session, nil
}

func TestIssueMagicLinkFirst(t *testing.T) {
	minter := &fakeMinter{
		magicLink: "https://id.example.com/verify?access_token=acc&refresh_token=ref",
	}
	issuer := NewIssuer(nil, minter)

	creds, err := issuer.Issue(context.Background(), "acct-1", "tg_1@telegram.invalid")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if creds.AccessToken != "acc" || creds.RefreshToken != "ref" {
		t.Errorf("creds = %+v", creds)
	}
	if len(minter.calls) != 1 || minter.calls[0] != identity.LinkTypeMagic {
		t.Errorf("calls = %v, want single magiclink attempt", minter.calls)
	}
}

func TestIssueFallsBackToDirectSession(t *testing.T) {
	minter := &fakeMinter{
		magicErr: errors.New("magic links disabled"),
		session:  identity.Session{AccessToken: "acc2", RefreshToken: "ref2"},
	}
	issuer := NewIssuer(nil, minter)

	creds, err := issuer.Issue(context.Background(), "acct-1", "tg_1@telegram.invalid")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if creds.AccessToken != "acc2" {
		t.Errorf("creds = %+v", creds)
	}
	want := []string{identity.LinkTypeMagic, "direct"}
	if len(minter.calls) != 2 || minter.calls[0] != want[0] || minter.calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", minter.calls, want)
	}
}

func TestIssueFallsBackToRecoveryLink(t *testing.T) {
	minter := &fakeMinter{
		// Magic link grants but carries no credentials; the incomplete pair
		// must fall through, not short-circuit.
		magicLink:    "https://id.example.com/verify?type=magiclink",
		sessionErr:   identity.ErrUnsupported,
		recoveryLink: "https://id.example.com/verify#access_token=acc3&refresh_token=ref3",
	}
	issuer := NewIssuer(nil, minter)

	creds, err := issuer.Issue(context.Background(), "acct-1", "tg_1@telegram.invalid")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if creds.AccessToken != "acc3" || creds.RefreshToken != "ref3" {
		t.Errorf("creds = %+v", creds)
	}
	if len(minter.calls) != 3 {
		t.Errorf("calls = %v, want all three strategies", minter.calls)
	}
}

func TestIssueExhaustionIsFatal(t *testing.T) {
	minter := &fakeMinter{
		magicErr:    errors.New("nope"),
		sessionErr:  errors.New("nope"),
		recoveryErr: errors.New("nope"),
	}
	issuer := NewIssuer(nil, minter)

	_, err := issuer.Issue(context.Background(), "acct-1", "tg_1@telegram.invalid")
	if !errors.Is(err, ErrIssuanceFailed) {
		t.Errorf("error = %v, want ErrIssuanceFailed", err)
	}
}

func TestParseLinkCredentials(t *testing.T) {
	tests := []struct {
		name        string
		link        string
		wantAccess  string
		wantRefresh string
		wantErr     bool
	}{
		{
			name:        "query parameters",
			link:        "https://id.example.com/verify?access_token=a1&refresh_token=r1&type=magiclink",
			wantAccess:  "a1",
			wantRefresh: "r1",
		},
		{
			name:        "fragment",
			link:        "https://id.example.com/verify#access_token=a2&refresh_token=r2",
			wantAccess:  "a2",
			wantRefresh: "r2",
		},
		{
			name:        "query wins over fragment",
			link:        "https://id.example.com/verify?access_token=q&refresh_token=q2#access_token=f&refresh_token=f2",
			wantAccess:  "q",
			wantRefresh: "q2",
		},
		{
			name:    "access token alone is not a pair",
			link:    "https://id.example.com/verify?access_token=only",
			wantErr: true,
		},
		{
			name:    "no credentials",
			link:    "https://id.example.com/verify?type=recovery",
			wantErr: true,
		},
		{
			name:    "unparseable",
			link:    "://bad",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := ParseLinkCredentials(tt.link)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLinkCredentials() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if creds.AccessToken != tt.wantAccess || creds.RefreshToken != tt.wantRefresh {
				t.Errorf("creds = %+v", creds)
			}
		})
	}
}

func TestAccessExpiryDecodesUnverified(t *testing.T) {
	// HS256 token with exp 2000000000, signature irrelevant.
	token := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
		"eyJzdWIiOiJhY2N0LTEiLCJleHAiOjIwMDAwMDAwMDB9." +
		"invalidsignature"
	got := accessExpiry(token)
	if got.Unix() != 2000000000 {
		t.Errorf("accessExpiry() = %v, want unix 2000000000", got)
	}
	if !accessExpiry("not-a-jwt").IsZero() {
		t.Error("non-JWT should yield zero time")
	}
}
