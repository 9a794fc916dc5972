// Package adapter provides the MLS provider client: authentication, request pacing,
// retries and OData pagination.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mls-sync/internal/config"
	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/ratelimit"
	"github.com/mls-sync/internal/retry"
)

// maxErrorBody bounds how much of an error response is kept for diagnostics
const maxErrorBody = 512

// Client talks to one MLS provider
type Client struct {
	source     string
	baseURL    string
	httpClient *http.Client
	auth       TokenProvider
	pacer      *ratelimit.Pacer
	retryCfg   *retry.RetryConfig
}

// ClientConfig configures a Client
type ClientConfig struct {
	Source     string
	BaseURL    string
	HTTPClient *http.Client
	Auth       TokenProvider
	Pacer      *ratelimit.Pacer
	RetryDelay time.Duration
}

// NewClient creates a provider client
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	pacer := cfg.Pacer
	if pacer == nil {
		pacer = ratelimit.NewPacer(0)
	}
	return &Client{
		source:     cfg.Source,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		auth:       cfg.Auth,
		pacer:      pacer,
		retryCfg:   retry.SingleRetryConfig(cfg.RetryDelay, apperrors.IsRetryable),
	}
}

// NewClientFromConfig builds a client for a configured source
func NewClientFromConfig(src config.SourceConfig, syncCfg config.SyncConfig) *Client {
	httpClient := &http.Client{Timeout: syncCfg.HTTPTimeout}

	var auth TokenProvider
	if src.StaticToken != "" {
		auth = NewStaticTokenProvider(src.StaticToken)
	} else {
		auth = NewPasswordGrantProvider(PasswordGrantConfig{
			Source:       src.Name,
			TokenURL:     src.TokenURL,
			ClientID:     src.ClientID,
			ClientSecret: src.ClientSecret,
			Username:     src.Username,
			Password:     src.Password,
			HTTPClient:   httpClient,
		})
	}

	return NewClient(ClientConfig{
		Source:     src.Name,
		BaseURL:    src.BaseURL,
		HTTPClient: httpClient,
		Auth:       auth,
		Pacer:      ratelimit.NewPacer(syncCfg.RequestDelay),
		RetryDelay: syncCfg.RetryDelay,
	})
}

// Source returns the name of the source this client serves
func (c *Client) Source() string {
	return c.source
}

// getJSON fetches url, retrying once on transient failure. The 401
// re-authentication budget is shared by every attempt for the page.
func (c *Client) getJSON(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	reauthed := false
	result := retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		var err error
		body, err = c.doAuthorized(ctx, url, &reauthed)
		return err
	})
	if err := result.Err(); err != nil {
		return nil, err
	}
	return body, nil
}

// doAuthorized sends a request, re-authenticating on 401 unless *reauthed is already set
func (c *Client) doAuthorized(ctx context.Context, url string, reauthed *bool) ([]byte, error) {
	status, body, err := c.send(ctx, url)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if *reauthed {
			return nil, apperrors.NewAuthenticationError(c.source, fmt.Errorf("provider returned 401 after re-authentication"))
		}
		*reauthed = true

		logging.FromContext(ctx).WithField("source", c.source).Warn("[MLSClient] 401 from provider, re-authenticating")
		c.auth.Invalidate()

		status, body, err = c.send(ctx, url)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, apperrors.NewAuthenticationError(c.source, fmt.Errorf("provider returned 401 after re-authentication"))
		}
	}

	return body, c.classifyStatus(status, body)
}

// send performs one paced HTTP GET and returns the status and body
func (c *Client) send(ctx context.Context, url string) (int, []byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return 0, nil, err
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, fmt.Errorf("request cancelled: %w", ctxErr)
		}
		return 0, nil, apperrors.NewTransientNetworkError(c.source, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apperrors.NewTransientNetworkError(c.source, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	return resp.StatusCode, body, nil
}

func (c *Client) classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return apperrors.NewTransientNetworkError(c.source, status, errors.New(truncate(body)))
	case status == http.StatusNotFound:
		return apperrors.NewNotFoundError("resource", c.source)
	default:
		return apperrors.NewProviderError(c.source, status, errors.New(truncate(body)))
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}
