package keymanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRemoteTTL        = 10 * time.Minute
	defaultRemoteTimeout    = 5 * time.Second
	defaultRemoteMinRefetch = 30 * time.Second
	maxJWKSBodySize         = 1 << 20
)

type RemoteOption func(*Remote)

// Keys are kept for ttl after each fetch
func WithRemoteTTL(ttl time.Duration) RemoteOption {
	return func(r *Remote) { r.ttl = ttl }
}

func WithRemoteHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// Unknown kid does not trigger fetch more often than once per interval
func WithRemoteMinRefetch(interval time.Duration) RemoteOption {
	return func(r *Remote) { r.minRefetch = interval }
}

// Remote fetches public keys from JWKS endpoint of the issuer
// Concurrent lookups for missing keys share one fetch
type Remote struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	minRefetch time.Duration

	keys  *cache.Cache
	group singleflight.Group

	mu        sync.Mutex
	lastFetch time.Time
	lastErr   error
}

func NewRemote(url string, opts ...RemoteOption) *Remote {
	r := &Remote{
		url:        url,
		client:     &http.Client{Timeout: defaultRemoteTimeout},
		ttl:        defaultRemoteTTL,
		minRefetch: defaultRemoteMinRefetch,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.keys = cache.New(r.ttl, 2*r.ttl)

	return r
}

func (r *Remote) PublicKey(ctx context.Context, kid string) (PublicKey, error) {
	if key, ok := r.cached(kid); ok {
		return key, nil
	}

	if allowed, lastErr := r.refetchAllowed(); !allowed {
		// Fetch may have completed since the first lookup
		if key, ok := r.cached(kid); ok {
			return key, nil
		}
		if lastErr != nil {
			return PublicKey{}, lastErr
		}
		return PublicKey{}, ErrUnknownKey
	}

	_, err, _ := r.group.Do("jwks", func() (any, error) {
		return nil, r.fetch(ctx)
	})
	if err != nil {
		return PublicKey{}, err
	}

	if key, ok := r.cached(kid); ok {
		return key, nil
	}
	return PublicKey{}, ErrUnknownKey
}

func (r *Remote) cached(kid string) (PublicKey, bool) {
	v, ok := r.keys.Get(kid)
	if !ok {
		return PublicKey{}, false
	}
	return v.(PublicKey), true
}

// Failed attempts count too, so an unreachable issuer is not hammered
func (r *Remote) refetchAllowed() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastFetch.IsZero() || time.Since(r.lastFetch) >= r.minRefetch, r.lastErr
}

func (r *Remote) fetch(ctx context.Context) error {
	err := r.load(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrKeySourceUnavailable, err)
	}

	r.mu.Lock()
	r.lastFetch = time.Now()
	r.lastErr = err
	r.mu.Unlock()

	return err
}

func (r *Remote) load(ctx context.Context) error {
	// Shared by every waiter, so it must not die with the first caller
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRemoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBodySize)).Decode(&set); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}

	for _, jwk := range set.Keys {
		key, ok := toPublicKey(jwk)
		if !ok {
			continue
		}
		r.keys.Set(key.KeyID, key, r.ttl)
	}

	return nil
}

// toPublicKey skips keys that can not verify our tokens
func toPublicKey(jwk jose.JSONWebKey) (PublicKey, bool) {
	if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
		return PublicKey{}, false
	}
	if jwk.Use != "" && jwk.Use != "sig" {
		return PublicKey{}, false
	}

	alg, err := algorithmFor(jwk.Key)
	if err != nil {
		return PublicKey{}, false
	}
	if jwk.Algorithm != "" && jwk.Algorithm != alg {
		return PublicKey{}, false
	}

	return PublicKey{KeyID: jwk.KeyID, Algorithm: alg, Key: jwk.Key}, true
}
