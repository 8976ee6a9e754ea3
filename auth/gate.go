package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/coffeeshop/internal/logctx"
)

// TokenVerifier verifies a raw bearer token and returns its payload.
type TokenVerifier interface {
	Verify(ctx context.Context, tok string) (jwt.MapClaims, error)
}

// ClaimsHandler is a protected operation. It receives the verified claims as
// an explicit argument; claims is nil on public routes.
type ClaimsHandler interface {
	ServeHTTPWithClaims(w http.ResponseWriter, r *http.Request, claims *ClaimSet)
}

// ClaimsHandlerFunc adapts a function to ClaimsHandler.
type ClaimsHandlerFunc func(w http.ResponseWriter, r *http.Request, claims *ClaimSet)

func (f ClaimsHandlerFunc) ServeHTTPWithClaims(w http.ResponseWriter, r *http.Request, claims *ClaimSet) {
	f(w, r, claims)
}

// Requirement names the permission a request must carry. required=false
// marks the request as public.
type Requirement func(r *http.Request) (permission string, required bool)

// RequirePermission is a Requirement for a fixed permission.
func RequirePermission(permission string) Requirement {
	return func(*http.Request) (string, bool) { return permission, true }
}

// ErrorWriter renders an authorization failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err *AuthError)

// Gate is the single entry point for authorizing a request. It is stateless
// across requests and safe for concurrent use.
type Gate struct {
	verifier   TokenVerifier
	log        *slog.Logger
	realm      string
	writeError ErrorWriter
	sec        SecurityConfig
}

// NewGate builds a Gate around an existing verifier. Only the logger, realm
// and error writer options apply.
func NewGate(v TokenVerifier, opts ...Option) *Gate {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o.gate(v, SecurityConfig{})
}

// Authorize extracts, verifies and checks the request's bearer token against
// permission. An empty permission authenticates without enforcing one. Any
// error returned is an *AuthError.
func (g *Gate) Authorize(r *http.Request, permission string) (*ClaimSet, error) {
	ctx := r.Context()

	tok, err := ExtractToken(r)
	if err != nil {
		return nil, g.fail(ctx, permission, err)
	}
	claims, err := g.Verify(ctx, tok)
	if err != nil {
		return nil, g.fail(ctx, permission, err)
	}
	if permission != "" {
		if err := CheckPermission(permission, claims); err != nil {
			return nil, g.fail(ctx, permission, err)
		}
	}

	g.log.DebugContext(ctx, "auth.ok", slog.String("sub", claims.Subject()), slog.String("permission", permission))
	return claims, nil
}

// Verify verifies tok and returns its claims without enforcing a permission.
func (g *Gate) Verify(ctx context.Context, tok string) (*ClaimSet, error) {
	raw, err := g.verifier.Verify(ctx, tok)
	if err != nil {
		return nil, fromVerifyError(err)
	}
	return newClaimSet(raw), nil
}

func (g *Gate) fail(ctx context.Context, permission string, err error) error {
	var ae *AuthError
	if !errors.As(err, &ae) {
		ae = errUnparseableToken(err)
	}
	attrs := []any{
		slog.String("code", ae.Code()),
		slog.Int("status", ae.Status()),
		slog.String("permission", permission),
	}
	if ae.cause != nil {
		attrs = append(attrs, slog.String("err", ae.cause.Error()))
	}
	if ae.Status() >= http.StatusInternalServerError {
		g.log.ErrorContext(ctx, "auth.fail", attrs...)
	} else {
		g.log.InfoContext(ctx, "auth.fail", attrs...)
	}
	return ae
}

// Protect guards h with a fixed permission.
func (g *Gate) Protect(permission string, h ClaimsHandler) http.Handler {
	return g.Guard(RequirePermission(permission), h)
}

// Guard authorizes each request against the permission named by req before
// dispatching to h. Failures are rendered by the Gate's ErrorWriter and h is
// not invoked.
func (g *Gate) Guard(req Requirement, h ClaimsHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		permission, required := req(r)
		if !required {
			h.ServeHTTPWithClaims(w, r, nil)
			return
		}

		claims, err := g.Authorize(r, permission)
		if err != nil {
			var ae *AuthError
			errors.As(err, &ae)
			g.writeError(w, r, ae)
			return
		}

		ctx := logctx.WithAuthData(r.Context(), &logctx.AuthData{Subject: claims.Subject(), Permission: permission})
		h.ServeHTTPWithClaims(w, r.WithContext(ctx), claims)
	})
}

// Realm is the realm advertised in WWW-Authenticate challenges.
func (g *Gate) Realm() string { return g.realm }

// SecurityConfig describes how the Gate validates tokens.
func (g *Gate) SecurityConfig() SecurityConfig { return g.sec.Copy() }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
