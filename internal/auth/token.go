// Package auth exchanges CreoDIAS credentials for a short-lived bearer token.
package auth

//go:generate mockgen -source=token.go -destination=mocks/mock_token.go -package=mocks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"creofinder/internal/errors"
)

const (
	DefaultTokenURL = "https://auth.creodias.eu/auth/realms/DIAS/protocol/openid-connect/token"
	DefaultClientID = "CLOUDFERRO_PUBLIC"
	DefaultTimeout  = 30 * time.Second

	maxResponseSize = 64 << 10
)

// Credentials are never persisted; they live for one call or one batch.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	return "Credentials{Username: " + c.Username + ", Password: ***}"
}

// TokenSource hands out bearer tokens for the download endpoint.
type TokenSource interface {
	Token(ctx context.Context, creds Credentials) (string, error)
}

// Provider implements TokenSource with the OAuth password grant.
type Provider struct {
	endpoint string
	clientID string
	client   *http.Client
	logger   *slog.Logger
}

type Option func(*Provider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client = &http.Client{Timeout: d, Transport: p.client.Transport}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewProvider(endpoint, clientID string, opts ...Option) *Provider {
	if endpoint == "" {
		endpoint = DefaultTokenURL
	}
	if clientID == "" {
		clientID = DefaultClientID
	}

	p := &Provider{
		endpoint: endpoint,
		clientID: clientID,
		client:   &http.Client{Timeout: DefaultTimeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Token performs a single POST to the token endpoint. There is no retry: transport failures come
// back as network errors, a reply without access_token as an auth error carrying the raw body.
func (p *Provider) Token(ctx context.Context, creds Credentials) (string, error) {
	form := url.Values{
		"client_id":  {p.clientID},
		"username":   {creds.Username},
		"password":   {creds.Password},
		"grant_type": {"password"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.NewValidationError("get token", "invalid token endpoint %q: %w", p.endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	p.logger.Debug("Requesting access token", "endpoint", p.endpoint, "username", creds.Username)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.ClassifyNetwork(err, "get token", p.endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", errors.ClassifyNetwork(err, "get token", p.endpoint)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		authErr := errors.NewAuthError(errors.ErrNoAccessToken, "get token", string(body))
		authErr.StatusCode = resp.StatusCode
		return "", authErr
	}

	p.logger.Debug("Access token acquired", "username", creds.Username)

	return tr.AccessToken, nil
}
