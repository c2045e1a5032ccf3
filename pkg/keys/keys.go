// Package keys supplies API credentials to the live session with a
// time-to-live cache, so callers tolerate occasional refetch latency
// instead of hitting the issuing service on every dial.
package keys

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/screenvox/screenvox/pkg/core"
)

// FetchFunc obtains a fresh credential from the issuing service.
type FetchFunc func(ctx context.Context) (string, error)

// DefaultTTL is how long a fetched credential is served from cache.
const DefaultTTL = 10 * time.Minute

// CachedProvider caches the credential for a TTL and refetches on expiry or
// after Invalidate. Safe for concurrent use.
type CachedProvider struct {
	fetch  FetchFunc
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	credential string
	expiresAt  time.Time
}

// ProviderOption configures a CachedProvider.
type ProviderOption func(*CachedProvider)

// WithTTL overrides the cache lifetime.
func WithTTL(ttl time.Duration) ProviderOption {
	return func(p *CachedProvider) { p.ttl = ttl }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *CachedProvider) { p.logger = logger }
}

// withClock substitutes the time source in tests.
func withClock(now func() time.Time) ProviderOption {
	return func(p *CachedProvider) { p.now = now }
}

// NewCachedProvider wraps a fetch function with TTL caching.
func NewCachedProvider(fetch FetchFunc, opts ...ProviderOption) *CachedProvider {
	p := &CachedProvider{
		fetch:  fetch,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch returns the cached credential, refetching when expired or absent.
func (p *CachedProvider) Fetch(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.credential != "" && p.now().Before(p.expiresAt) {
		return p.credential, nil
	}

	credential, err := p.fetch(ctx)
	if err != nil {
		return "", core.NewAuthenticationError("fetch credential: " + err.Error())
	}
	if credential == "" {
		return "", core.NewAuthenticationError("credential service returned an empty key")
	}
	p.credential = credential
	p.expiresAt = p.now().Add(p.ttl)
	p.logger.Debug("credential refreshed", "ttl", p.ttl)
	return credential, nil
}

// Invalidate drops the cached credential. Called after an authorization
// rejection so the next Fetch goes back to the issuing service.
func (p *CachedProvider) Invalidate() {
	p.mu.Lock()
	p.credential = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
	p.logger.Info("cached credential invalidated")
}

// FromEnv builds a FetchFunc reading the named environment variable.
func FromEnv(name string) FetchFunc {
	return func(ctx context.Context) (string, error) {
		value := os.Getenv(name)
		if value == "" {
			return "", fmt.Errorf("%s is not set", name)
		}
		return value, nil
	}
}
