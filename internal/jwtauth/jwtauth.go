package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/coffeeshop/internal/jwks"
)

// Config controls validation behavior for access tokens.
type Config struct {
	Issuer string
	// Audience is the API identifier the token must be minted for.
	Audience    string
	AllowedAlgs []string
	Leeway      time.Duration
}

// DefaultConfig returns a Config that only accepts RS256 and applies no leeway.
func DefaultConfig() *Config {
	return &Config{AllowedAlgs: []string{"RS256"}}
}

// ErrMalformed indicates the token does not have the three-segment compact
// structure or its header could not be decoded.
var ErrMalformed = errors.New("jwtauth: malformed token")

// ErrExpired indicates a correctly signed token whose exp is in the past.
var ErrExpired = errors.New("jwtauth: token expired")

// ErrInvalidClaims indicates a correctly signed token whose audience, issuer
// or other time-based registered claims do not validate.
var ErrInvalidClaims = errors.New("jwtauth: invalid claims")

// ErrUnverifiable covers every other verification failure: bad signature,
// algorithm mismatch, undecodable payload.
var ErrUnverifiable = errors.New("jwtauth: unable to verify token")

// KeyFinder looks up verification keys by kid. Errors wrapping
// jwks.ErrKeyNotFound or jwks.ErrUnavailable are passed through untouched.
type KeyFinder interface {
	Find(ctx context.Context, kid string) (jwks.SigningKey, error)
}

// Verifier validates compact JWS access tokens against a key set.
type Verifier struct {
	cfg    *Config
	keys   KeyFinder
	parser *jwt.Parser
}

// New constructs a Verifier.
func New(cfg *Config, keys KeyFinder) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if keys == nil {
		return nil, errors.New("key finder is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if slices.Contains(cfg.AllowedAlgs, "none") {
		return nil, errors.New(`alg "none" is never allowed`)
	}
	for _, alg := range cfg.AllowedAlgs {
		if strings.HasPrefix(alg, "HS") {
			return nil, fmt.Errorf("symmetric alg %s cannot be verified with a public key set", alg)
		}
	}

	return &Verifier{
		cfg:  cfg,
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(cfg.AllowedAlgs),
			jwt.WithExpirationRequired(),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithJSONNumber(),
		),
	}, nil
}

// Verify checks structure, selects the signing key named by the header kid,
// then verifies signature and registered claims. The returned claims are the
// token payload exactly as encoded.
func (v *Verifier) Verify(ctx context.Context, tok string) (jwt.MapClaims, error) {
	header, err := v.decodeHeader(tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kid, _ := header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: header has no kid", ErrMalformed)
	}

	key, err := v.keys.Find(ctx, kid)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	_, err = v.parser.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if alg := t.Method.Alg(); key.Algorithm != "" && alg != key.Algorithm {
			return nil, fmt.Errorf("key %q is scoped to %s, token declares %s", kid, key.Algorithm, alg)
		}
		return key.Key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		case errors.Is(err, jwt.ErrTokenInvalidClaims):
			return nil, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrUnverifiable, err)
		}
	}
	return claims, nil
}

// decodeHeader decodes only the JOSE header without trusting it.
func (v *Verifier) decodeHeader(tok string) (map[string]any, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("want 3 segments, got %d", len(parts))
	}
	raw, err := v.parser.DecodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var header map[string]any
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return header, nil
}
