package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(origins []string, method, origin string) *httptest.ResponseRecorder {
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/api/notebooks", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORSExplicitOrigin(t *testing.T) {
	w := serve([]string{"https://app.example"}, http.MethodGet, "https://app.example")
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Errorf("Expected origin to be echoed, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Expected credentials for an explicit origin")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected request to reach handler, got %d", w.Code)
	}
}

func TestCORSWildcardHasNoCredentials(t *testing.T) {
	w := serve([]string{"*"}, http.MethodGet, "https://other.example")
	if w.Header().Get("Access-Control-Allow-Origin") != "https://other.example" {
		t.Error("Expected wildcard to allow the origin")
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("Expected no credentials for a wildcard match")
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	w := serve([]string{"https://app.example"}, http.MethodGet, "https://evil.example")
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Expected no CORS headers for an unknown origin")
	}
}

func TestCORSPreflight(t *testing.T) {
	w := serve([]string{"https://app.example"}, http.MethodOptions, "https://app.example")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", w.Code)
	}
}
