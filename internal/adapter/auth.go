package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	apperrors "github.com/mls-sync/internal/errors"
)

// TokenProvider supplies bearer tokens for provider requests.
// Invalidate drops any cached token so the next Token call re-authenticates.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StaticTokenProvider serves a fixed, pre-issued access token
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a provider for a pre-issued token
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// Token returns the static token
func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return p.token, nil
}

// Invalidate is a no-op; a static token cannot be refreshed
func (p *StaticTokenProvider) Invalidate() {}

// PasswordGrantProvider obtains tokens with the OAuth2 resource owner password grant
// and caches them until expiry or invalidation.
type PasswordGrantProvider struct {
	source     string
	cfg        *oauth2.Config
	username   string
	password   string
	httpClient *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

// PasswordGrantConfig configures a PasswordGrantProvider
type PasswordGrantConfig struct {
	Source       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	HTTPClient   *http.Client
}

// NewPasswordGrantProvider creates a password-grant token provider
func NewPasswordGrantProvider(cfg PasswordGrantConfig) *PasswordGrantProvider {
	return &PasswordGrantProvider{
		source: cfg.Source,
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: cfg.HTTPClient,
	}
}

// Token returns a cached token or performs the password exchange
func (p *PasswordGrantProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token.Valid() {
		return p.token.AccessToken, nil
	}

	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	tok, err := p.cfg.PasswordCredentialsToken(ctx, p.username, p.password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return "", apperrors.NewTransientNetworkError(p.source, retrieveErr.Response.StatusCode, err)
		}
		return "", apperrors.NewAuthenticationError(p.source, fmt.Errorf("token exchange: %w", err))
	}

	p.token = tok
	return tok.AccessToken, nil
}

// Invalidate drops the cached token
func (p *PasswordGrantProvider) Invalidate() {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()
}
