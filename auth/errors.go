package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ggoodman/coffeeshop/internal/jwks"
	"github.com/ggoodman/coffeeshop/internal/jwtauth"
)

// Machine-readable failure codes carried by AuthError.
const (
	CodeAuthorizationHeaderMissing = "authorization_header_missing"
	CodeInvalidHeader              = "invalid_header"
	CodeInvalidClaims              = "invalid_claims"
	CodeTokenExpired               = "token_expired"
	CodeUnauthorized               = "unauthorized"
	CodeKeySetUnavailable          = "key_set_unavailable"
)

// AuthError is the typed failure produced by every step of authorization.
// Its status, code and description are fixed by the step that failed and
// cannot be changed afterwards.
type AuthError struct {
	status      int
	code        string
	description string
	cause       error
}

// Status is the HTTP status the failure must be answered with.
func (e *AuthError) Status() int { return e.status }

// Code is the machine-readable failure code.
func (e *AuthError) Code() string { return e.code }

// Description is the human-readable explanation; it is safe to show to clients.
func (e *AuthError) Description() string { return e.description }

func (e *AuthError) Error() string {
	if e.description == "" {
		return "auth: " + e.code
	}
	return fmt.Sprintf("auth: %s (%d): %s", e.code, e.status, e.description)
}

// Unwrap exposes the internal cause for logging. It is never serialized.
func (e *AuthError) Unwrap() error { return e.cause }

// Is reports whether target is an *AuthError of the same code. A target with
// a zero status matches any status of that code, which is how the Err*
// values below are meant to be used with errors.Is.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.code == e.code && (t.status == 0 || t.status == e.status)
}

// Kinds for use with errors.Is.
var (
	ErrAuthorizationHeaderMissing = &AuthError{code: CodeAuthorizationHeaderMissing}
	ErrInvalidHeader              = &AuthError{code: CodeInvalidHeader}
	ErrInvalidClaims              = &AuthError{code: CodeInvalidClaims}
	ErrTokenExpired               = &AuthError{code: CodeTokenExpired}
	// ErrUnauthorized is the 403 returned when a valid token lacks the
	// required permission.
	ErrUnauthorized      = &AuthError{code: CodeUnauthorized}
	ErrKeySetUnavailable = &AuthError{code: CodeKeySetUnavailable}
)

func newAuthError(status int, code, description string, cause error) *AuthError {
	return &AuthError{status: status, code: code, description: description, cause: cause}
}

func errHeaderMissing() *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeAuthorizationHeaderMissing, "Authorization header is expected.", nil)
}

func errWrongScheme() *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeInvalidHeader, `Authorization header must start with "Bearer".`, nil)
}

func errTokenNotFound() *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeInvalidHeader, "Token not found.", nil)
}

func errNotBearerToken() *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeInvalidHeader, "Authorization header must be bearer token.", nil)
}

func errMalformedToken(cause error) *AuthError {
	return newAuthError(http.StatusBadRequest, CodeInvalidHeader, "Authorization malformed.", cause)
}

// errKeyNotFound keeps the invalid_header/400 mapping clients already rely
// on, even though the failure is an unknown key rather than a bad header.
func errKeyNotFound(cause error) *AuthError {
	return newAuthError(http.StatusBadRequest, CodeInvalidHeader, "Unable to find the appropriate key.", cause)
}

func errUnparseableToken(cause error) *AuthError {
	return newAuthError(http.StatusBadRequest, CodeInvalidHeader, "Unable to parse authentication token.", cause)
}

func errTokenExpired(cause error) *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeTokenExpired, "Token expired.", cause)
}

func errIncorrectClaims(cause error) *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeInvalidClaims, "Incorrect claims. Please, check the audience and issuer.", cause)
}

func errPermissionsMissing() *AuthError {
	return newAuthError(http.StatusBadRequest, CodeInvalidClaims, "Permissions not included in JWT.", nil)
}

func errPermissionNotFound(permission string) *AuthError {
	return newAuthError(http.StatusForbidden, CodeUnauthorized, "Permission not found.", fmt.Errorf("missing permission %q", permission))
}

func errKeySetUnavailable(cause error) *AuthError {
	return newAuthError(http.StatusServiceUnavailable, CodeKeySetUnavailable, "Unable to fetch signing keys.", cause)
}

// fromVerifyError maps verifier and key set sentinels onto the public
// taxonomy. An *AuthError returned by a custom verifier passes through.
func fromVerifyError(err error) *AuthError {
	var ae *AuthError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, jwks.ErrUnavailable):
		return errKeySetUnavailable(err)
	case errors.Is(err, jwks.ErrKeyNotFound):
		return errKeyNotFound(err)
	case errors.Is(err, jwtauth.ErrMalformed):
		return errMalformedToken(err)
	case errors.Is(err, jwtauth.ErrExpired):
		return errTokenExpired(err)
	case errors.Is(err, jwtauth.ErrInvalidClaims):
		return errIncorrectClaims(err)
	default:
		return errUnparseableToken(err)
	}
}
