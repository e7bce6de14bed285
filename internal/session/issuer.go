// Package session obtains web session credentials for a reconciled account,
// trying identity service strategies in order until one yields a pair.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sorulabs/tgbridge/internal/identity"
)

// ErrIssuanceFailed is returned after every strategy has been exhausted.
var ErrIssuanceFailed = errors.New("session issuance failed")

// Credentials is the access/refresh pair handed to the web client.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Minter is the slice of the identity admin API session issuance needs.
type Minter interface {
	GenerateLink(ctx context.Context, params identity.GenerateLinkParams) (identity.GeneratedLink, error)
	CreateSession(ctx context.Context, userID string) (identity.Session, error)
}

// Strategy attempts one way of minting a session. A failed attempt returns
// an error and the chain moves on.
type Strategy interface {
	Name() string
	Mint(ctx context.Context, accountID, address string) (Credentials, error)
}

// Issuer runs an ordered strategy chain with first-success-wins semantics.
type Issuer struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewIssuer builds the default chain: magic link, then direct session, then
// recovery link. The magic link is the intended path; the direct endpoint is
// an optimization where the deployment has it; the recovery link is a
// compatibility shim that also embeds a session in its generated link.
func NewIssuer(log *slog.Logger, minter Minter) *Issuer {
	if log == nil {
		log = slog.Default()
	}
	return &Issuer{
		strategies: []Strategy{
			&linkStrategy{minter: minter, linkType: identity.LinkTypeMagic},
			&directStrategy{minter: minter},
			&linkStrategy{minter: minter, linkType: identity.LinkTypeRecovery},
		},
		logger: log.With(slog.String("service", "session")),
	}
}

// NewIssuerWithStrategies builds an issuer over an explicit chain, preserving
// the ordered-attempts contract for a swapped backend.
func NewIssuerWithStrategies(log *slog.Logger, strategies ...Strategy) *Issuer {
	if log == nil {
		log = slog.Default()
	}
	return &Issuer{
		strategies: strategies,
		logger:     log.With(slog.String("service", "session")),
	}
}

// Issue returns credentials from the first strategy that yields a complete
// pair. Exhaustion of the chain is ErrIssuanceFailed.
func (i *Issuer) Issue(ctx context.Context, accountID, address string) (Credentials, error) {
	if len(i.strategies) == 0 {
		return Credentials{}, errors.New("session issuer has no strategies")
	}
	for _, strategy := range i.strategies {
		creds, err := strategy.Mint(ctx, accountID, address)
		if err != nil {
			i.logger.Debug("session strategy failed",
				slog.String("strategy", strategy.Name()),
				slog.Any("error", err),
			)
			continue
		}
		if creds.AccessToken == "" || creds.RefreshToken == "" {
			i.logger.Debug("session strategy returned incomplete credentials",
				slog.String("strategy", strategy.Name()),
			)
			continue
		}
		i.logger.Info("session issued",
			slog.String("strategy", strategy.Name()),
			slog.String("account_id", accountID),
			slog.Time("access_expires_at", accessExpiry(creds.AccessToken)),
		)
		return creds, nil
	}
	return Credentials{}, ErrIssuanceFailed
}

type linkStrategy struct {
	minter   Minter
	linkType string
}

func (s *linkStrategy) Name() string {
	return s.linkType + "_link"
}

func (s *linkStrategy) Mint(ctx context.Context, _, address string) (Credentials, error) {
	if s.minter == nil {
		return Credentials{}, errors.New("session minter not configured")
	}
	link, err := s.minter.GenerateLink(ctx, identity.GenerateLinkParams{
		Type:  s.linkType,
		Email: address,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("generate %s link: %w", s.linkType, err)
	}
	creds, err := ParseLinkCredentials(link.ActionLink)
	if err != nil {
		return Credentials{}, fmt.Errorf("parse %s link: %w", s.linkType, err)
	}
	return creds, nil
}

type directStrategy struct {
	minter Minter
}

func (s *directStrategy) Name() string {
	return "direct_session"
}

func (s *directStrategy) Mint(ctx context.Context, accountID, _ string) (Credentials, error) {
	if s.minter == nil {
		return Credentials{}, errors.New("session minter not configured")
	}
	minted, err := s.minter.CreateSession(ctx, accountID)
	if err != nil {
		return Credentials{}, fmt.Errorf("create session: %w", err)
	}
	return Credentials{AccessToken: minted.AccessToken, RefreshToken: minted.RefreshToken}, nil
}

// accessExpiry decodes the access token's exp claim without verifying the
// signature. Informational only; the identity service signed the token.
func accessExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
