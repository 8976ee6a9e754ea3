package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestCheckPermission(t *testing.T) {
	granted := newClaimSet(jwt.MapClaims{"permissions": []any{"get:drinks-detail"}})

	if err := CheckPermission("get:drinks-detail", granted); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	err := CheckPermission("post:drinks", granted)
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Status() != 403 || ae.Code() != CodeUnauthorized {
		t.Fatalf("expected 403 unauthorized, got %v", err)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected errors.Is ErrUnauthorized")
	}

	empty := newClaimSet(jwt.MapClaims{"permissions": []any{}})
	if err := CheckPermission("post:drinks", empty); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty set must deny with 403, got %v", err)
	}

	for name, cs := range map[string]*ClaimSet{
		"absent":     newClaimSet(jwt.MapClaims{"sub": "x"}),
		"not a list": newClaimSet(jwt.MapClaims{"permissions": "post:drinks"}),
		"mixed list": newClaimSet(jwt.MapClaims{"permissions": []any{"post:drinks", 7}}),
		"nil claims": nil,
	} {
		err := CheckPermission("post:drinks", cs)
		if !errors.As(err, &ae) || ae.Status() != 400 || ae.Code() != CodeInvalidClaims {
			t.Fatalf("%s: expected 400 invalid_claims, got %v", name, err)
		}
		if ae.Description() != "Permissions not included in JWT." {
			t.Fatalf("%s: unexpected description %q", name, ae.Description())
		}
	}
}

func TestClaimSet_PermissionsIsACopy(t *testing.T) {
	cs := newClaimSet(jwt.MapClaims{"permissions": []string{"post:drinks"}})
	perms, ok := cs.Permissions()
	if !ok || !perms.Has("post:drinks") {
		t.Fatalf("unexpected permissions %v %v", perms, ok)
	}
	perms["delete:drinks"] = struct{}{}
	if cs.HasPermission("delete:drinks") {
		t.Fatalf("mutating the returned set leaked into the claim set")
	}
}

func TestClaimSet_NilPrincipal(t *testing.T) {
	var p Principal = (*ClaimSet)(nil)
	if p.Subject() != "" {
		t.Fatalf("nil claims have no subject")
	}
	if p.HasPermission("get:drinks-detail") {
		t.Fatalf("nil claims grant nothing")
	}
}
