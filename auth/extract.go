package auth

import (
	"net/http"
	"strings"
)

const authorizationHeader = "Authorization"

// ExtractToken returns the bearer credential from the Authorization header.
// The header must be exactly two parts separated by a single space, the first
// being the Bearer scheme (matched case-insensitively). Tabs and runs of
// spaces are rejected.
func ExtractToken(r *http.Request) (string, error) {
	header := r.Header.Get(authorizationHeader)
	if header == "" {
		return "", errHeaderMissing()
	}

	parts := strings.Split(header, " ")
	switch {
	case !strings.EqualFold(parts[0], "bearer"):
		return "", errWrongScheme()
	case len(parts) == 1 || (len(parts) == 2 && parts[1] == ""):
		return "", errTokenNotFound()
	case len(parts) > 2:
		return "", errNotBearerToken()
	}
	return parts[1], nil
}
