package auth

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PermissionSet is the set of permission names granted by a token.
type PermissionSet map[string]struct{}

// Has reports whether p is granted.
func (s PermissionSet) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the permissions in lexical order.
func (s PermissionSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

// ClaimSet is the verified payload of an access token. Values are only
// produced by a Gate after signature and claims verification succeeded.
type ClaimSet struct {
	claims jwt.MapClaims
	perms  PermissionSet
	// permsOK is false when the permissions claim is absent or not a list of strings.
	permsOK bool
}

func newClaimSet(claims jwt.MapClaims) *ClaimSet {
	cs := &ClaimSet{claims: claims}
	cs.perms, cs.permsOK = parsePermissions(claims["permissions"])
	return cs
}

func parsePermissions(raw any) (PermissionSet, bool) {
	switch v := raw.(type) {
	case []any:
		set := make(PermissionSet, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			set[s] = struct{}{}
		}
		return set, true
	case []string:
		set := make(PermissionSet, len(v))
		for _, s := range v {
			set[s] = struct{}{}
		}
		return set, true
	}
	return nil, false
}

// Subject returns the sub claim. A nil ClaimSet, as passed on public
// routes, has no subject.
func (c *ClaimSet) Subject() string {
	if c == nil {
		return ""
	}
	s, _ := c.claims.GetSubject()
	return s
}

func (c *ClaimSet) Issuer() string {
	s, _ := c.claims.GetIssuer()
	return s
}

func (c *ClaimSet) Audience() []string {
	aud, _ := c.claims.GetAudience()
	return slices.Clone([]string(aud))
}

// ExpiresAt returns the exp claim; verified tokens always carry one.
func (c *ClaimSet) ExpiresAt() time.Time {
	exp, err := c.claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Permissions returns a copy of the granted permissions. ok is false when
// the token carries no usable permissions claim, which is distinct from an
// empty set.
func (c *ClaimSet) Permissions() (perms PermissionSet, ok bool) {
	if !c.permsOK {
		return nil, false
	}
	return maps.Clone(c.perms), true
}

// HasPermission reports whether p is granted.
func (c *ClaimSet) HasPermission(p string) bool {
	return c != nil && c.permsOK && c.perms.Has(p)
}

// Claims unmarshals the raw claims into ref. Numbers decoded into untyped
// values are json.Number so that large integers keep every digit.
func (c *ClaimSet) Claims(ref any) error {
	b, err := json.Marshal(c.claims)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(ref)
}

// Map returns a deep copy of every claim in the payload.
func (c *ClaimSet) Map() map[string]any {
	out := map[string]any{}
	if err := c.Claims(&out); err != nil {
		return map[string]any{}
	}
	return out
}

// MarshalJSON encodes the payload as it was received.
func (c *ClaimSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.claims)
}
