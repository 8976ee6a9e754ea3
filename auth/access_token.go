package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/ggoodman/coffeeshop/internal/jwks"
	"github.com/ggoodman/coffeeshop/internal/jwtauth"
)

// Key sources selectable with WithKeySource.
const (
	// KeySourceCache fetches the key set lazily and owns refresh explicitly.
	KeySourceCache = "cache"
	// KeySourceAutoRefresh refreshes the key set on a background goroutine.
	KeySourceAutoRefresh = "keyfunc"
)

// SecurityConfig describes how a Gate validates access tokens.
type SecurityConfig struct {
	Issuer      string
	Audience    string
	JWKSURL     string
	AllowedAlgs []string
	Leeway      time.Duration
	KeySource   string
}

// Copy returns a deep copy of the configuration.
func (c SecurityConfig) Copy() SecurityConfig {
	c.AllowedAlgs = slices.Clone(c.AllowedAlgs)
	return c
}

// Option configures a Gate built by NewFromJWKS, NewFromDiscovery or NewGate.
type Option func(*options)

type options struct {
	algs       []string
	leeway     time.Duration
	ttl        time.Duration
	keySource  string
	client     *http.Client
	log        *slog.Logger
	realm      string
	writeError ErrorWriter
}

func newOptions() *options {
	return &options{
		keySource: KeySourceCache,
		log:       discardLogger(),
	}
}

func (o *options) gate(v TokenVerifier, sec SecurityConfig) *Gate {
	we := o.writeError
	if we == nil {
		realm := o.realm
		we = func(w http.ResponseWriter, _ *http.Request, err *AuthError) { writeError(w, realm, err) }
	}
	return &Gate{
		verifier:   v,
		log:        o.log,
		realm:      o.realm,
		writeError: we,
		sec:        sec,
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" and HMAC
// algorithms are never allowed. Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) Option {
	return func(o *options) { o.algs = slices.Clone(algs) }
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) Option {
	return func(o *options) { o.leeway = d }
}

// WithKeySetTTL sets how long a fetched key set is served from memory. With
// KeySourceAutoRefresh it is the background refresh interval.
func WithKeySetTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithKeySource selects the key set implementation: KeySourceCache (default)
// or KeySourceAutoRefresh.
func WithKeySource(src string) Option {
	return func(o *options) { o.keySource = src }
}

// WithHTTPClient sets the client used to fetch the key set by either key
// source.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the logger used for authorization and key set events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(o *options) { o.realm = realm }
}

// WithErrorWriter replaces the default JSON error envelope.
func WithErrorWriter(w ErrorWriter) Option {
	return func(o *options) {
		if w != nil {
			o.writeError = w
		}
	}
}

// NewFromJWKS returns a Gate that verifies RS256 access tokens minted by
// issuer for audience against the key set published at jwksURL.
//
// With the default key source no network call is made until the first
// request is authorized.
func NewFromJWKS(ctx context.Context, jwksURL, issuer, audience string, opts ...Option) (*Gate, error) {
	if jwksURL == "" {
		return nil, errors.New("jwks url is required")
	}
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.Audience = audience
	cfg.Leeway = o.leeway
	if len(o.algs) > 0 {
		cfg.AllowedAlgs = o.algs
	}

	var keys jwtauth.KeyFinder
	switch o.keySource {
	case KeySourceCache, "":
		copts := []jwks.CacheOption{jwks.WithLogger(o.log)}
		if o.ttl > 0 {
			copts = append(copts, jwks.WithTTL(o.ttl))
		}
		if o.client != nil {
			copts = append(copts, jwks.WithHTTPClient(o.client))
		}
		c, err := jwks.NewCache(jwksURL, copts...)
		if err != nil {
			return nil, err
		}
		keys = c
	case KeySourceAutoRefresh:
		ar, err := jwks.NewAutoRefresh(ctx, jwksURL, jwks.AutoRefreshConfig{
			Client:          o.client,
			RefreshInterval: o.ttl,
			Log:             o.log,
		})
		if err != nil {
			return nil, err
		}
		keys = ar
	default:
		return nil, errors.New("unknown key source " + o.keySource)
	}

	v, err := jwtauth.New(cfg, keys)
	if err != nil {
		return nil, err
	}

	sec := SecurityConfig{
		Issuer:      cfg.Issuer,
		Audience:    cfg.Audience,
		JWKSURL:     jwksURL,
		AllowedAlgs: slices.Clone(cfg.AllowedAlgs),
		Leeway:      cfg.Leeway,
		KeySource:   o.keySource,
	}
	return o.gate(v, sec), nil
}

// NewFromDiscovery resolves the issuer's jwks_uri through OpenID Connect
// discovery and then behaves like NewFromJWKS.
func NewFromDiscovery(ctx context.Context, issuer, audience string, opts ...Option) (*Gate, error) {
	jwksURL, err := jwks.Discover(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return NewFromJWKS(ctx, jwksURL, issuer, audience, opts...)
}
