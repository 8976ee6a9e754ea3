package jwks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Cache is a lazily refreshed, explicitly owned key set cache. Lookups are
// served from memory while the set is younger than the TTL. An unknown kid
// triggers a throttled refresh so that freshly rotated keys are picked up
// without waiting for the TTL.
//
// A failed fetch never replaces the set. When a refresh fails the previous set
// keeps being served until it is older than TTL+StaleGrace, and no further
// fetch is attempted until the failure backoff has elapsed.
type Cache struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	staleGrace time.Duration
	retry      RetryPolicy
	missEvery  time.Duration
	failEvery  time.Duration
	missLimit  *rate.Limiter
	log        *slog.Logger
	now        func() time.Time

	// fetchMu serializes fetches; mu guards the fields below.
	fetchMu    sync.Mutex
	mu         sync.RWMutex
	keys       KeySet
	fetchedAt  time.Time
	generation uint64
	failedAt   time.Time
	failErr    error
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithHTTPClient sets the client used to fetch the key set.
func WithHTTPClient(c *http.Client) CacheOption {
	return func(cc *Cache) { cc.client = c }
}

// WithTTL sets how long a fetched key set is considered fresh.
func WithTTL(d time.Duration) CacheOption {
	return func(cc *Cache) { cc.ttl = d }
}

// WithStaleGrace sets how long past its TTL a key set may still be served
// when refreshing it fails.
func WithStaleGrace(d time.Duration) CacheOption {
	return func(cc *Cache) { cc.staleGrace = d }
}

// WithRetryPolicy overrides the fetch retry policy.
func WithRetryPolicy(p RetryPolicy) CacheOption {
	return func(cc *Cache) { cc.retry = p }
}

// WithMissRefreshInterval sets the minimum interval between refreshes caused
// by unknown key ids.
func WithMissRefreshInterval(d time.Duration) CacheOption {
	return func(cc *Cache) { cc.missEvery = d }
}

// WithFailureBackoff sets how long after a failed fetch lookups are answered
// from the stale set, or the recorded error, without contacting the issuer.
func WithFailureBackoff(d time.Duration) CacheOption {
	return func(cc *Cache) { cc.failEvery = d }
}

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) CacheOption {
	return func(cc *Cache) { cc.log = l }
}

// NewCache returns a Cache for the JWKS document at url. No network call is
// made until the first lookup.
func NewCache(url string, opts ...CacheOption) (*Cache, error) {
	if url == "" {
		return nil, errors.New("jwks url is required")
	}
	c := &Cache{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		ttl:        10 * time.Minute,
		staleGrace: 5 * time.Minute,
		retry:      DefaultRetryPolicy(),
		missEvery:  30 * time.Second,
		failEvery:  5 * time.Second,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.missLimit = rate.NewLimiter(rate.Every(c.missEvery), 1)
	return c, nil
}

// Resolve returns the current key set, fetching it when the cached copy is
// missing or older than the TTL.
func (c *Cache) Resolve(ctx context.Context) (KeySet, error) {
	ks, gen, fresh := c.snapshot()
	if fresh {
		return ks, nil
	}
	return c.refresh(ctx, gen)
}

// Find returns the key for kid. A miss refreshes the set at most once per
// miss-refresh interval before reporting ErrKeyNotFound.
func (c *Cache) Find(ctx context.Context, kid string) (SigningKey, error) {
	ks, err := c.Resolve(ctx)
	if err != nil {
		return SigningKey{}, err
	}
	k, err := ks.Find(kid)
	if err == nil {
		return k, nil
	}

	c.mu.RLock()
	gen, age := c.generation, c.now().Sub(c.fetchedAt)
	c.mu.RUnlock()
	// A set fetched moments ago will not know the kid either.
	if age < c.missEvery || !c.missLimit.Allow() {
		return SigningKey{}, err
	}

	c.log.DebugContext(ctx, "jwks.refresh.miss", slog.String("kid", kid))
	ks, rerr := c.refresh(ctx, gen)
	if rerr != nil {
		// The set we already hold is still valid; the kid is simply not in it.
		c.log.WarnContext(ctx, "jwks.refresh.miss.fail", slog.String("err", rerr.Error()))
		return SigningKey{}, err
	}
	return ks.Find(kid)
}

// Invalidate drops the cached set; the next lookup fetches a new one.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.keys = nil
	c.fetchedAt = time.Time{}
	c.failedAt, c.failErr = time.Time{}, nil
	c.generation++
	c.mu.Unlock()
}

func (c *Cache) snapshot() (KeySet, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fresh := c.keys != nil && c.now().Sub(c.fetchedAt) < c.ttl
	return c.keys, c.generation, fresh
}

// refresh fetches a new set unless another caller already replaced the
// generation observed by this one while it waited for fetchMu, or a fetch
// failed less than failEvery ago. Callers queued behind a failed fetch reuse
// its outcome.
func (c *Cache) refresh(ctx context.Context, seen uint64) (KeySet, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	c.mu.RLock()
	if c.generation != seen && c.keys != nil {
		ks := c.keys
		c.mu.RUnlock()
		return ks, nil
	}
	stale, fetchedAt := c.keys, c.fetchedAt
	failedAt, failErr := c.failedAt, c.failErr
	c.mu.RUnlock()

	if failErr != nil && c.now().Sub(failedAt) < c.failEvery {
		if c.usable(stale, fetchedAt) {
			return stale, nil
		}
		return nil, failErr
	}

	start := c.now()
	ks, err := fetchKeySet(ctx, c.client, c.url, c.retry)
	if err != nil {
		c.mu.Lock()
		c.failedAt, c.failErr = c.now(), err
		c.mu.Unlock()

		if c.usable(stale, fetchedAt) {
			c.log.WarnContext(ctx, "jwks.refresh.stale", slog.String("err", err.Error()))
			return stale, nil
		}
		c.log.ErrorContext(ctx, "jwks.refresh.fail", slog.String("err", err.Error()))
		return nil, err
	}

	c.mu.Lock()
	c.keys = ks
	c.fetchedAt = c.now()
	c.failedAt, c.failErr = time.Time{}, nil
	c.generation++
	c.mu.Unlock()

	c.log.InfoContext(ctx, "jwks.refresh.ok", slog.Int("keys", len(ks)), slog.Duration("dur", c.now().Sub(start)))
	return ks, nil
}

// usable reports whether a stale set may still be served.
func (c *Cache) usable(stale KeySet, fetchedAt time.Time) bool {
	return stale != nil && c.now().Sub(fetchedAt) < c.ttl+c.staleGrace
}

var _ Source = (*Cache)(nil)
