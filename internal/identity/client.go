// Package identity wraps the external identity service admin API
// (GoTrue-compatible): account lookup and creation, action link generation,
// and direct session minting.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls the identity service admin API with a service-role key.
type Client struct {
	baseURL    string
	serviceKey string
	logger     *slog.Logger
	http       *http.Client
}

// NewClient builds an admin API client. Every call shares the given timeout.
func NewClient(log *slog.Logger, baseURL, serviceKey string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		logger:     log.With(slog.String("client", "identity")),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type listUsersResponse struct {
	Users []User `json:"users"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Error   string `json:"error"`
}

// GetUserByEmail looks up an account by exact address. The lookup is indexed
// on the service side; the address is lowercased so repeated logins hit the
// same row regardless of derivation casing.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, errors.New("email is required")
	}
	endpoint := c.baseURL + "/admin/users?email=" + url.QueryEscape(email)
	var resp listUsersResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	for _, user := range resp.Users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

// CreateUser creates a pre-confirmed account. A duplicate address surfaces
// as ErrEmailExists so the caller can fall back to a re-fetch.
func (c *Client) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	if params.Email == "" {
		return User{}, errors.New("email is required")
	}
	var user User
	err := c.do(ctx, http.MethodPost, c.baseURL+"/admin/users", params, &user)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && isDuplicateEmail(apiErr) {
			return User{}, ErrEmailExists
		}
		return User{}, err
	}
	return user, nil
}

// GenerateLink requests a one-time action link (magic or recovery) for the
// given address.
func (c *Client) GenerateLink(ctx context.Context, params GenerateLinkParams) (GeneratedLink, error) {
	if params.Type != LinkTypeMagic && params.Type != LinkTypeRecovery {
		return GeneratedLink{}, fmt.Errorf("unknown link type: %s", params.Type)
	}
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	var link GeneratedLink
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/admin/generate_link", params, &link); err != nil {
		return GeneratedLink{}, err
	}
	if strings.TrimSpace(link.ActionLink) == "" {
		return GeneratedLink{}, errors.New("identity api: generate_link returned no action link")
	}
	return link, nil
}

// CreateSession mints a session directly for the account id. Deployments
// that predate the endpoint answer 404, surfaced as ErrUnsupported so the
// issuer chain can fall through.
func (c *Client) CreateSession(ctx context.Context, userID string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, errors.New("user id is required")
	}
	var session Session
	err := c.do(ctx, http.MethodPost, c.baseURL+"/admin/users/"+url.PathEscape(userID)+"/sessions", struct{}{}, &session)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return Session{}, ErrUnsupported
		}
		return Session{}, err
	}
	return session, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	if strings.TrimSpace(c.baseURL) == "" {
		return errors.New("identity base url not configured")
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity api request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("identity api read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: extractMessage(raw)}
		c.logger.Warn("identity api error",
			slog.String("method", method),
			slog.Int("status", resp.StatusCode),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("identity api decode response: %w", err)
		}
	}
	return nil
}

func extractMessage(raw []byte) string {
	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, msg := range []string{body.Message, body.Msg, body.Error} {
			if strings.TrimSpace(msg) != "" {
				return msg
			}
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func isDuplicateEmail(apiErr *APIError) bool {
	if apiErr.Status == http.StatusConflict {
		return true
	}
	if apiErr.Status != http.StatusUnprocessableEntity && apiErr.Status != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "already") || strings.Contains(msg, "exists") || strings.Contains(msg, "registered")
}
