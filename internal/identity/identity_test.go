package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func capture(t *testing.T, req *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var got string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return got, w
}

func TestMiddlewareUsesHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeaderName, "alice@example.com")

	got, w := capture(t, req)
	if got != "alice@example.com" {
		t.Errorf("Expected header user, got %q", got)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("Expected no anonymous cookie when the header is set")
	}
}

func TestMiddlewareRejectsBadHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeaderName, "../etc")

	_, w := capture(t, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestMiddlewareIssuesAndReusesAnonCookie(t *testing.T) {
	first, w := capture(t, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(first, "anon_") {
		t.Fatalf("Expected anonymous id, got %q", first)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName {
		t.Fatalf("Expected anon cookie, got %v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	second, _ := capture(t, req)
	if second != first {
		t.Errorf("Expected cookie id %q to be reused, got %q", first, second)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_not-hex"})
	got, _ := capture(t, req)
	if got == "anon_not-hex" || !isValidAnonID(got) {
		t.Errorf("Expected a fresh anonymous id, got %q", got)
	}
}
