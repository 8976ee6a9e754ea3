// Package authtest provides an in-process token issuer for tests: it signs
// access tokens and publishes the matching JWKS and discovery documents from
// an httptest server.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultKeyID is the kid of the key every Issuer starts with.
const DefaultKeyID = "test-key"

// JWKSPath is where the Issuer serves its key set.
const JWKSPath = "/.well-known/jwks.json"

// Issuer is a fake authorization server. It is safe for concurrent use.
type Issuer struct {
	t        testing.TB
	srv      *httptest.Server
	issuer   string
	audience string

	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey

	fetches     atomic.Int64
	unavailable atomic.Bool
}

// NewIssuer starts an Issuer whose tokens target audience. The server is
// closed through t.Cleanup.
func NewIssuer(t testing.TB, audience string) *Issuer {
	t.Helper()
	i := &Issuer{t: t, audience: audience, keys: map[string]*rsa.PrivateKey{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+JWKSPath, i.serveJWKS)
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   i.issuer,
			"jwks_uri":                 i.JWKSURL(),
			"authorization_endpoint":   i.srv.URL + "/authorize",
			"token_endpoint":           i.srv.URL + "/oauth/token",
			"response_types_supported": []string{"code"},
		})
	})
	i.srv = httptest.NewServer(mux)
	i.issuer = i.srv.URL + "/"
	t.Cleanup(i.srv.Close)

	i.AddKey(DefaultKeyID)
	return i
}

// IssuerURL is the value tokens carry in "iss". Like Auth0 it ends in a slash.
func (i *Issuer) IssuerURL() string { return i.issuer }

// Audience is the audience tokens are minted for by Claims.
func (i *Issuer) Audience() string { return i.audience }

// JWKSURL is the absolute URL of the published key set.
func (i *Issuer) JWKSURL() string { return i.srv.URL + JWKSPath }

// Fetches reports how many times the key set has been requested.
func (i *Issuer) Fetches() int { return int(i.fetches.Load()) }

// SetUnavailable makes the JWKS endpoint answer 503 until reset.
func (i *Issuer) SetUnavailable(v bool) { i.unavailable.Store(v) }

// AddKey generates and publishes a new RSA key under kid.
func (i *Issuer) AddKey(kid string) *rsa.PrivateKey {
	i.t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		i.t.Fatalf("gen key: %v", err)
	}
	i.mu.Lock()
	i.keys[kid] = pk
	i.mu.Unlock()
	return pk
}

// RemoveKey stops publishing kid.
func (i *Issuer) RemoveKey(kid string) {
	i.mu.Lock()
	delete(i.keys, kid)
	i.mu.Unlock()
}

// Key returns the private key published under kid.
func (i *Issuer) Key(kid string) *rsa.PrivateKey {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keys[kid]
}

// Claims returns a valid claim set for subject carrying permissions. Passing
// no permissions still emits an empty "permissions" array.
func (i *Issuer) Claims(subject string, permissions ...string) jwt.MapClaims {
	now := time.Now()
	perms := make([]any, 0, len(permissions))
	for _, p := range permissions {
		perms = append(perms, p)
	}
	return jwt.MapClaims{
		"iss":         i.issuer,
		"sub":         subject,
		"aud":         []any{i.audience, i.issuer + "userinfo"},
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
		"azp":         "test-client",
		"scope":       "openid profile email",
		"permissions": perms,
	}
}

// Sign signs claims with the default key using RS256.
func (i *Issuer) Sign(claims jwt.MapClaims) string {
	i.t.Helper()
	return i.SignWithKey(DefaultKeyID, claims)
}

// SignWithKey signs claims with the key published under kid.
func (i *Issuer) SignWithKey(kid string, claims jwt.MapClaims) string {
	i.t.Helper()
	pk := i.Key(kid)
	if pk == nil {
		i.t.Fatalf("no key %q", kid)
	}
	return SignToken(i.t, jwt.SigningMethodRS256, pk, kid, claims)
}

// SignToken signs claims with an arbitrary method and key and sets the kid
// header when kid is non-empty.
func SignToken(t testing.TB, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (i *Issuer) serveJWKS(w http.ResponseWriter, r *http.Request) {
	i.fetches.Add(1)
	if i.unavailable.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	i.mu.Lock()
	set := jose.JSONWebKeySet{}
	for kid, pk := range i.keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"})
	}
	i.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}
