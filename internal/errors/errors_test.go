package errors

import (
	"encoding/json"
	"net/http"
	"testing"
)

// TestHTTPStatusMapping checks the status code attached to each error code.
func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorCode]int{
		WITVIS_VALIDATION:         http.StatusBadRequest,
		WITVIS_METHOD_NOT_ALLOWED: http.StatusMethodNotAllowed,
		WITVIS_PAYLOAD_TOO_LARGE:  http.StatusRequestEntityTooLarge,
		WITVIS_AUTHN:              http.StatusUnauthorized,
		WITVIS_AUTHZ:              http.StatusForbidden,
		WITVIS_DUPLICATE:          http.StatusConflict,
		WITVIS_NOT_FOUND:          http.StatusNotFound,
		WITVIS_RATE_LIMIT:         http.StatusTooManyRequests,
		WITVIS_UPLOAD_FAILED:      http.StatusInternalServerError,
		WITVIS_INTERNAL:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := New(code, "x", "").HTTPStatus; got != want {
			t.Errorf("New(%s).HTTPStatus = %d, want %d", code, got, want)
		}
	}
}

// TestErrorJSONShape verifies the message is exposed as a plain "error" string.
func TestErrorJSONShape(t *testing.T) {
	b, err := json.Marshal(New(WITVIS_DUPLICATE, "already submitted", "corr-1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "already submitted" {
		t.Errorf("error = %v, want %q", body["error"], "already submitted")
	}
	if body["code"] != string(WITVIS_DUPLICATE) {
		t.Errorf("code = %v, want %q", body["code"], WITVIS_DUPLICATE)
	}
	if body["correlationId"] != "corr-1" {
		t.Errorf("correlationId = %v, want %q", body["correlationId"], "corr-1")
	}
}
