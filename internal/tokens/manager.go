// Package tokens caches provider access tokens per account. Fetches are
// serialised per key so a stampede of stale readers produces exactly one
// outbound call.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/recarr/internal/recerr"
)

// refreshBuffer invalidates a cached token this long before its real
// expiry, so in-flight requests never ride a token that dies mid-call.
const refreshBuffer = 60 * time.Second

// Retry policy for transient fetch failures.
const (
	fetchAttempts  = 3
	fetchBaseDelay = 2 * time.Second
	fetchMaxDelay  = 30 * time.Second
)

// ErrRefreshFailed marks a token fetch that exhausted its retries on
// transient failures. Auth rejections are returned as-is, not wrapped.
var ErrRefreshFailed = errors.New("token refresh failed")

// Token is one provider access token with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// valid reports whether the token is usable at now, honouring the
// refresh buffer.
func (t Token) valid(now time.Time) bool {
	return t.Value != "" && now.Add(refreshBuffer).Before(t.ExpiresAt)
}

// FetchFunc performs one outbound token fetch.
type FetchFunc func(ctx context.Context) (Token, error)

// Manager is the process-local token cache. Keys are account identities
// (platform plus account name); the caller picks the scheme.
type Manager struct {
	mu     sync.RWMutex
	cache  map[string]Token
	sf     singleflight.Group
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a token manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		cache:  make(map[string]Token),
		logger: logger,
		now:    time.Now,
	}
}

// Get returns a valid token for key, fetching one when the cache misses
// or the cached token is inside the refresh buffer. Concurrent callers
// with the same key share one fetch. Auth failures (401/403, classified
// KindAuthExpired by the fetcher) are returned without retry; transient
// failures retry with exponential backoff.
func (m *Manager) Get(ctx context.Context, key string, fetch FetchFunc) (Token, error) {
	m.mu.RLock()
	tok, ok := m.cache[key]
	m.mu.RUnlock()
	if ok && tok.valid(m.now()) {
		return tok, nil
	}

	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		// A previous flight may have refreshed the token while this
		// caller was queued.
		m.mu.RLock()
		tok, ok := m.cache[key]
		m.mu.RUnlock()
		if ok && tok.valid(m.now()) {
			return tok, nil
		}

		fresh, err := m.fetchWithRetry(ctx, key, fetch)
		if err != nil {
			return Token{}, err
		}

		m.mu.Lock()
		m.cache[key] = fresh
		m.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

func (m *Manager) fetchWithRetry(ctx context.Context, key string, fetch FetchFunc) (Token, error) {
	delay := fetchBaseDelay
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		tok, err := fetch(ctx)
		if err == nil {
			return tok, nil
		}
		lastErr = err

		if !recerr.Retryable(err) {
			// 401/403 and other terminal classifications never retry.
			return Token{}, err
		}
		if attempt == fetchAttempts {
			break
		}

		m.logger.Warn("token fetch failed, retrying",
			slog.String("account", key),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return Token{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > fetchMaxDelay {
			delay = fetchMaxDelay
		}
	}
	return Token{}, fmt.Errorf("%w after %d attempts: %w", ErrRefreshFailed, fetchAttempts, lastErr)
}

// Invalidate drops the cached token of key, forcing the next Get to
// fetch. Called when a provider rejects a token early.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
}

// Prime stores a token without fetching; used when a provider hands back
// a token as a side effect of another call.
func (m *Manager) Prime(key string, tok Token) {
	m.mu.Lock()
	m.cache[key] = tok
	m.mu.Unlock()
}
