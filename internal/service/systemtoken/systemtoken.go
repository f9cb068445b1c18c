package systemtoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/logger"
)

const (
	DefaultSkew    = 30 * time.Second
	requestTimeout = 5 * time.Second
)

type Config struct {
	// Token endpoint, e.g. http://auth-service/oauth2/token
	TokenURL string

	ClientID     string
	ClientSecret string

	// Scopes to request, empty means every scope the client is allowed
	Scopes []string

	// Token is refetched this long before it expires
	Skew time.Duration
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Client caches system token of a service client
// Safe for concurrent use
type Client struct {
	cfg    Config
	client *http.Client
	logger logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	token cachedToken

	group singleflight.Group
}

func NewClient(cfg Config, client *http.Client, l logger.Logger) *Client {
	if cfg.Skew == 0 {
		cfg.Skew = DefaultSkew
	}
	if client == nil {
		client = &http.Client{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		cfg:    cfg,
		client: client,
		logger: l,
		now:    time.Now,
	}
}

// Token returns cached token or fetches a new one
// Concurrent callers share the same fetch
func (c *Client) Token(ctx context.Context) (string, error) {
	if value, ok := c.cached(); ok {
		return value, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		// Another caller may have refreshed it while we waited
		if value, ok := c.cached(); ok {
			return value, nil
		}

		token, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
		return token.value, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops cached token, next Token call fetches a new one
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = cachedToken{}
}

func (c *Client) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.value == "" || !c.now().Before(c.token.expiresAt.Add(-c.cfg.Skew)) {
		return "", false
	}
	return c.token.value, true
}

func (c *Client) fetch(ctx context.Context) (cachedToken, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	form := url.Values{"grant_type": {"client_credentials"}}
	if len(c.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(c.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	requestedAt := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return cachedToken{}, apperrors.Transient(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Warn("Token endpoint rejected client", "client_id", c.cfg.ClientID)
		return cachedToken{}, apperrors.ErrInvalidCredentials
	case resp.StatusCode >= http.StatusInternalServerError:
		return cachedToken{}, apperrors.Transient(fmt.Errorf("token endpoint status %d", resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("Failed to get system token", "status_code", resp.StatusCode, "body", string(body))
		return cachedToken{}, fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return cachedToken{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return cachedToken{}, errors.New("token endpoint returned no usable token")
	}

	c.logger.Debug("System token fetched", "client_id", c.cfg.ClientID, "expires_in", tr.ExpiresIn, "scope", tr.Scope)
	return cachedToken{
		value:     tr.AccessToken,
		expiresAt: requestedAt.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
