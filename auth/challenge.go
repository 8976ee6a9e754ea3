package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrorResponse is the JSON envelope written for authorization failures.
type ErrorResponse struct {
	Success     bool   `json:"success"`
	Error       int    `json:"error"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// NewErrorResponse builds the envelope for err.
func NewErrorResponse(err *AuthError) ErrorResponse {
	return ErrorResponse{
		Error:       err.Status(),
		Message:     err.Code(),
		Description: err.Description(),
	}
}

// WriteError is the default ErrorWriter. It answers with the failure's status,
// a Bearer challenge where one applies, and the JSON envelope.
func WriteError(w http.ResponseWriter, _ *http.Request, err *AuthError) {
	writeError(w, "", err)
}

func writeError(w http.ResponseWriter, realm string, err *AuthError) {
	if ch := Challenge(realm, err); ch != "" {
		w.Header().Set("WWW-Authenticate", ch)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	_ = json.NewEncoder(w).Encode(NewErrorResponse(err))
}

// Challenge builds the WWW-Authenticate value for err following RFC 6750.
// Requests with no credentials get a bare challenge. Failures that are not
// about the credential (key set outages) get none.
func Challenge(realm string, err *AuthError) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	var params []string
	if realm != "" {
		params = append(params, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}

	switch {
	case err.Code() == CodeAuthorizationHeaderMissing:
	case err.Status() == http.StatusUnauthorized:
		params = append(params, `error="invalid_token"`)
	case err.Status() == http.StatusBadRequest:
		params = append(params, `error="invalid_request"`)
	case err.Status() == http.StatusForbidden:
		params = append(params, `error="insufficient_scope"`)
	default:
		return ""
	}

	if err.Code() != CodeAuthorizationHeaderMissing && err.Description() != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, esc(err.Description())))
	}
	if len(params) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(params, ", ")
}
