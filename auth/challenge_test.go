package auth

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChallenge(t *testing.T) {
	tests := []struct {
		name  string
		realm string
		err   *AuthError
		want  string
	}{
		{"missing header", "", errHeaderMissing(), "Bearer"},
		{"missing header with realm", "drinks", errHeaderMissing(), `Bearer realm="drinks"`},
		{"expired", "", errTokenExpired(nil), `Bearer error="invalid_token", error_description="Token expired."`},
		{"malformed", "drinks", errMalformedToken(nil), `Bearer realm="drinks", error="invalid_request", error_description="Authorization malformed."`},
		{"forbidden", "", errPermissionNotFound("post:drinks"), `Bearer error="insufficient_scope", error_description="Permission not found."`},
		{"outage", "", errKeySetUnavailable(errors.New("dial")), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Challenge(tt.realm, tt.err); got != tt.want {
				t.Fatalf("want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestWriteError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest("GET", "/drinks-detail", nil), errKeySetUnavailable(errors.New("dial tcp: connection refused")))

	if rec.Code != 503 {
		t.Fatalf("want 503, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if h := rec.Header().Get("WWW-Authenticate"); h != "" {
		t.Fatalf("no challenge expected for outages, got %q", h)
	}
	var got ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := ErrorResponse{Success: false, Error: 503, Message: CodeKeySetUnavailable, Description: "Unable to fetch signing keys."}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(rec.Body.String(), "refused") {
		t.Fatalf("internal cause leaked into body: %s", rec.Body.String())
	}
}
