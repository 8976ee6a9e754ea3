// Package jwks resolves the public signing keys an issuer publishes as a JSON
// Web Key Set and exposes them by key id.
package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// ErrKeyNotFound indicates the requested kid is not part of the current key set.
var ErrKeyNotFound = errors.New("jwks: key not found")

// ErrUnavailable indicates the key set could not be fetched or decoded. It is
// an infrastructure failure and says nothing about the token being verified.
var ErrUnavailable = errors.New("jwks: key set unavailable")

// SigningKey is a single public verification key.
type SigningKey struct {
	KeyID string
	// Algorithm is the JWS algorithm the key is scoped to. Empty when the
	// issuer did not restrict the key.
	Algorithm string
	// Key is one of *rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey.
	Key any
}

// KeySet maps key ids to keys. A KeySet is never mutated after it has been
// resolved; refreshes replace the whole set.
type KeySet map[string]SigningKey

// Find returns the key registered under kid.
func (ks KeySet) Find(kid string) (SigningKey, error) {
	k, ok := ks[kid]
	if !ok {
		return SigningKey{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	return k, nil
}

// KeyIDs returns the ids present in the set in no particular order.
func (ks KeySet) KeyIDs() []string {
	out := make([]string, 0, len(ks))
	for kid := range ks {
		out = append(out, kid)
	}
	return out
}

// Source resolves the current key set. Implementations must be safe for
// concurrent use.
type Source interface {
	Resolve(ctx context.Context) (KeySet, error)
	Find(ctx context.Context, kid string) (SigningKey, error)
}

// ParseKeySet decodes a JWKS document. Entries that are not usable for
// signature verification (symmetric keys, encryption keys, keys without a kid
// or of an unknown type) are skipped rather than failing the whole document.
// A document that yields no usable key is an error.
func ParseKeySet(b []byte) (KeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	ks := make(KeySet, len(doc.Keys))
	for _, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := json.Unmarshal(raw, &jwk); err != nil {
			continue
		}
		if jwk.KeyID == "" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		if !jwk.IsPublic() {
			jwk = jwk.Public()
		}
		switch jwk.Key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		default:
			continue
		}
		ks[jwk.KeyID] = SigningKey{KeyID: jwk.KeyID, Algorithm: jwk.Algorithm, Key: jwk.Key}
	}
	if len(ks) == 0 {
		return nil, errors.New("jwks contains no usable signing keys")
	}
	return ks, nil
}
