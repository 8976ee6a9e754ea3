package drinkshttp

import (
	"encoding/json"
	"net/http"

	"github.com/ggoodman/coffeeshop/auth"
)

// Messages for non-authorization failures. Authorization failures carry
// their own code from auth.AuthError.
var statusMessages = map[int]string{
	http.StatusBadRequest:           "bad request",
	http.StatusNotFound:             "resource not found",
	http.StatusMethodNotAllowed:     "method not allowed",
	http.StatusUnsupportedMediaType: "unsupported media type",
	http.StatusUnprocessableEntity:  "unprocessable",
	http.StatusInternalServerError:  "internal server error",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the shared failure envelope used by auth.WriteError so
// clients see one shape for every error.
func writeError(w http.ResponseWriter, status int) {
	msg, ok := statusMessages[status]
	if !ok {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, auth.ErrorResponse{Success: false, Error: status, Message: msg})
}
