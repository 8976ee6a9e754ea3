// Package auth authorizes HTTP requests carrying bearer access tokens issued
// by an external OAuth 2.0 / OIDC authorization server such as Auth0.
//
// A Gate runs every request through the same fixed sequence: the token is
// extracted from the Authorization header, its signature and registered
// claims are verified against the issuer's published key set, and finally
// the token's "permissions" claim is checked for the permission the route
// requires. The first failing step decides the outcome. Every failure is an
// *AuthError carrying the HTTP status, a machine-readable code and a
// description that is safe to show to clients.
//
// # Building a Gate
//
// NewFromJWKS takes the key set URL, the expected issuer and the expected
// audience. NewFromDiscovery finds the key set URL through the issuer's
// OpenID Connect discovery document instead.
//
//	gate, err := auth.NewFromJWKS(ctx,
//	    "https://tenant.us.auth0.com/.well-known/jwks.json",
//	    "https://tenant.us.auth0.com/",
//	    "drink",
//	    auth.WithLogger(log),
//	)
//	if err != nil { log.Fatal(err) }
//
//	mux.Handle("POST /drinks", gate.Protect("post:drinks", auth.ClaimsHandlerFunc(
//	    func(w http.ResponseWriter, r *http.Request, claims *auth.ClaimSet) {
//	        // claims.Subject() is the acting user.
//	    })))
//
// # Key sets
//
// By default keys are held by a cache that the Gate owns. It is fetched on
// first use, served from memory until its TTL passes, and refreshed early
// (at most once per interval) when a token names an unknown key id. A
// failed fetch is retried with backoff and never cached. If the key set
// cannot be fetched at all the request fails with 503 key_set_unavailable
// rather than blaming the token. WithKeySource(KeySourceAutoRefresh) swaps
// in a background refresher instead.
//
// # Errors
//
// Use errors.Is with the Err* kinds to branch on a failure, or errors.As to
// get the *AuthError and its Status. WriteError renders the standard
// {"success": false, "error": status, "message": code} envelope together
// with an RFC 6750 WWW-Authenticate challenge.
package auth
