package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/metrics"
	"github.com/nkiryanov/gophauth/internal/models"
)

// fakeAuth records calls and returns configured results
type fakeAuth struct {
	mu    sync.Mutex
	calls []string
	args  []string

	err    error
	pair   models.TokenPair
	system models.SystemToken
}

func (f *fakeAuth) record(call string, args ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
	f.args = append(f.args, strings.Join(args, ","))
}

func (f *fakeAuth) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func (f *fakeAuth) Args() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.args
}

func (f *fakeAuth) Register(_ context.Context, email string, password string) error {
	f.record("Register", email, password)
	return f.err
}

func (f *fakeAuth) Login(_ context.Context, email string, password string) (models.TokenPair, error) {
	f.record("Login", email, password)
	return f.pair, f.err
}

func (f *fakeAuth) Refresh(_ context.Context, refresh string) (models.TokenPair, error) {
	f.record("Refresh", refresh)
	return f.pair, f.err
}

func (f *fakeAuth) Logout(_ context.Context, refresh string) error {
	f.record("Logout", refresh)
	return f.err
}

func (f *fakeAuth) LogoutAll(_ context.Context, subject string) (int64, error) {
	f.record("LogoutAll", subject)
	return 1, f.err
}

func (f *fakeAuth) ClientCredentials(_ context.Context, clientID string, secret string, scopes []string) (models.SystemToken, error) {
	f.record("ClientCredentials", append([]string{clientID, secret}, scopes...)...)
	return f.system, f.err
}

func (f *fakeAuth) RefreshTTL() time.Duration {
	return 24 * time.Hour
}

// Accepts only 'good-token'
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (models.AuthContext, error) {
	if token != "good-token" {
		return models.AuthContext{}, apperrors.ErrInvalidToken
	}
	return models.AuthContext{Subject: "user-1", Roles: []string{models.RoleUser}, Scopes: []string{}}, nil
}

type fakeKeys []byte

func (k fakeKeys) PublicKeySetJSON() []byte { return k }

func newTestPair() models.TokenPair {
	return models.TokenPair{
		Access:  models.IssuedToken{Value: "access-1", ExpiresAt: time.Now().Add(15 * time.Minute)},
		Refresh: models.IssuedToken{Value: "refresh-1", ExpiresAt: time.Now().Add(24 * time.Hour)},
	}
}

type response struct {
	*http.Response
	body string
}

func (r response) cookie(name string) *http.Cookie {
	for _, c := range r.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// newFakeServer starts router over fake auth service
func newFakeServer(t *testing.T, auth *fakeAuth) *httptest.Server {
	t.Helper()

	h := NewRouter(Config{CookieSecure: true}, auth, fakeVerifier{}, fakeKeys(`{"keys":[]}`), metrics.New(), logger.NewNoOpLogger())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// do sends request, 'prepare' may set headers and cookies
func do(t *testing.T, method string, url string, contentType string, body string, prepare func(r *http.Request)) response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if prepare != nil {
		prepare(req)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return response{Response: resp, body: string(data)}
}
