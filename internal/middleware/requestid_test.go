package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/identity", nil))

	if seen == "" {
		t.Fatal("request ID was not stored in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response header = %q, context = %q", got, seen)
	}
}

func TestRequestID_PropagatesExisting(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", nil)
	req.Header.Set("X-Request-ID", "delivery-42")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "delivery-42" {
		t.Errorf("context request ID = %q, want %q", seen, "delivery-42")
	}
	if got := rec.Header().Get("X-Request-ID"); got != "delivery-42" {
		t.Errorf("response header = %q, want %q", got, "delivery-42")
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}
