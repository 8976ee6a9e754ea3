package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/ggoodman/coffeeshop/auth/authtest"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestCache(t *testing.T, iss *authtest.Issuer, opts ...CacheOption) *Cache {
	t.Helper()
	opts = append([]CacheOption{WithRetryPolicy(fastRetry())}, opts...)
	c, err := NewCache(iss.JWKSURL(), opts...)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func TestParseKeySet_SkipsUnusableKeys(t *testing.T) {
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &pk.PublicKey, KeyID: "sig", Algorithm: "RS256", Use: "sig"},
		{Key: &pk.PublicKey, KeyID: "enc", Algorithm: "RSA-OAEP", Use: "enc"},
		{Key: &pk.PublicKey, Algorithm: "RS256", Use: "sig"},
		{Key: []byte("shared-secret-material"), KeyID: "hmac", Algorithm: "HS256"},
		{Key: pk, KeyID: "private", Algorithm: "RS256"},
	}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	ks, err := ParseKeySet(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ks) != 2 {
		t.Fatalf("want 2 usable keys, got %v", ks.KeyIDs())
	}
	if k, err := ks.Find("sig"); err != nil || k.Algorithm != "RS256" {
		t.Fatalf("find sig: %+v %v", k, err)
	}
	k, err := ks.Find("private")
	if err != nil {
		t.Fatalf("find private: %v", err)
	}
	if _, ok := k.Key.(*rsa.PublicKey); !ok {
		t.Fatalf("private entry must be reduced to its public half, got %T", k.Key)
	}
	if _, err := ks.Find("enc"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound for enc key, got %v", err)
	}
}

func TestParseKeySet_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"not json":   `{`,
		"empty set":  `{"keys":[]}`,
		"no keys":    `{}`,
		"only hmac":  `{"keys":[{"kty":"oct","kid":"a","k":"c2VjcmV0"}]}`,
		"wrong kind": `{"keys":"nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseKeySet([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCache_ServesFreshSetFromMemory(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	c := newTestCache(t, iss)
	ctx := context.Background()

	for range 3 {
		k, err := c.Find(ctx, authtest.DefaultKeyID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if k.Algorithm != "RS256" {
			t.Fatalf("want RS256, got %q", k.Algorithm)
		}
	}
	if got := iss.Fetches(); got != 1 {
		t.Fatalf("want 1 fetch, got %d", got)
	}
}

func TestCache_RefreshesAfterTTL(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	c := newTestCache(t, iss, WithTTL(time.Minute))
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.Resolve(ctx); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := c.Resolve(ctx); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := iss.Fetches(); got != 2 {
		t.Fatalf("want 2 fetches, got %d", got)
	}
}

func TestCache_UnknownKidRefreshesOnce(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	c := newTestCache(t, iss, WithMissRefreshInterval(time.Minute))
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.Resolve(ctx); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Too soon after the initial fetch: no refresh.
	if _, err := c.Find(ctx, "rotated"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	if got := iss.Fetches(); got != 1 {
		t.Fatalf("want 1 fetch, got %d", got)
	}

	iss.AddKey("rotated")
	now = now.Add(2 * time.Minute)
	k, err := c.Find(ctx, "rotated")
	if err != nil {
		t.Fatalf("find rotated key after refresh: %v", err)
	}
	if k.KeyID != "rotated" {
		t.Fatalf("want rotated, got %q", k.KeyID)
	}

	// The limiter has been spent; a second miss within the interval does not fetch.
	now = now.Add(2 * time.Minute)
	if _, err := c.Find(ctx, "garbage"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	if got := iss.Fetches(); got != 2 {
		t.Fatalf("want 2 fetches, got %d", got)
	}
}

func TestCache_FailedFetchIsNotCached(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	c := newTestCache(t, iss, WithFailureBackoff(5*time.Second))
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	iss.SetUnavailable(true)
	_, err := c.Find(ctx, authtest.DefaultKeyID)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("fetch failure must not look like a missing key: %v", err)
	}
	if got := iss.Fetches(); got != 2 {
		t.Fatalf("want 2 attempts with retry, got %d", got)
	}

	iss.SetUnavailable(false)
	if _, err := c.Find(ctx, authtest.DefaultKeyID); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want the recorded failure within backoff, got %v", err)
	}
	if got := iss.Fetches(); got != 2 {
		t.Fatalf("lookup within backoff must not fetch, got %d fetches", got)
	}

	now = now.Add(6 * time.Second)
	if _, err := c.Find(ctx, authtest.DefaultKeyID); err != nil {
		t.Fatalf("find after recovery: %v", err)
	}
}

func TestCache_OutageFetchesOncePerBackoff(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	c := newTestCache(t, iss, WithTTL(time.Minute), WithStaleGrace(time.Minute), WithFailureBackoff(10*time.Second))
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.Resolve(ctx); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	iss.SetUnavailable(true)
	now = now.Add(90 * time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Find(ctx, authtest.DefaultKeyID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("stale set should be served: %v", err)
	}
	// One initial fetch plus one retried refresh cycle.
	if got := iss.Fetches(); got != 1+fastRetry().Attempts {
		t.Fatalf("want %d fetches, got %d", 1+fastRetry().Attempts, got)
	}

	now = now.Add(11 * time.Second)
	iss.SetUnavailable(false)
	if _, err := c.Find(ctx, authtest.DefaultKeyID); err != nil {
		t.Fatalf("find after backoff: %v", err)
	}
	if got := iss.Fetches(); got != 2+fastRetry().Attempts {
		t.Fatalf("want a fresh fetch after backoff, got %d fetches", got)
	}
}

func TestCache_ServesStaleSetDuringOutage(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	c := newTestCache(t, iss, WithTTL(time.Minute), WithStaleGrace(time.Minute))
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.Resolve(ctx); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	iss.SetUnavailable(true)

	now = now.Add(90 * time.Second)
	if _, err := c.Find(ctx, authtest.DefaultKeyID); err != nil {
		t.Fatalf("stale set should be served within grace: %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := c.Find(ctx, authtest.DefaultKeyID); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable past grace, got %v", err)
	}
}

func TestCache_ConcurrentLookupsShareOneFetch(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	c := newTestCache(t, iss)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Find(ctx, authtest.DefaultKeyID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("find: %v", err)
	}
	if got := iss.Fetches(); got != 1 {
		t.Fatalf("want 1 fetch, got %d", got)
	}
}

func TestCache_Invalidate(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	c := newTestCache(t, iss)
	ctx := context.Background()

	if _, err := c.Resolve(ctx); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	c.Invalidate()
	if _, err := c.Resolve(ctx); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := iss.Fetches(); got != 2 {
		t.Fatalf("want 2 fetches, got %d", got)
	}
}

func TestNewCache_RequiresURL(t *testing.T) {
	if _, err := NewCache(""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDiscover(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	ctx := context.Background()

	got, err := Discover(ctx, iss.IssuerURL())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got != iss.JWKSURL() {
		t.Fatalf("want %s, got %s", iss.JWKSURL(), got)
	}
}

func TestAutoRefresh(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return http.DefaultTransport.RoundTrip(r)
	})}
	src, err := NewAutoRefresh(ctx, iss.JWKSURL(), AutoRefreshConfig{Client: client, RefreshInterval: time.Hour})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	k, err := src.Find(ctx, authtest.DefaultKeyID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if _, ok := k.Key.(*rsa.PublicKey); !ok {
		t.Fatalf("want *rsa.PublicKey, got %T", k.Key)
	}
	ks, err := src.Resolve(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := ks[authtest.DefaultKeyID]; !ok {
		t.Fatalf("resolved set missing default key: %v", ks.KeyIDs())
	}
	if calls.Load() == 0 {
		t.Fatalf("configured client was not used")
	}
}

func TestAutoRefresh_InitialFetchFailure(t *testing.T) {
	iss := authtest.NewIssuer(t, "drink")
	iss.SetUnavailable(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := NewAutoRefresh(ctx, iss.JWKSURL(), AutoRefreshConfig{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
