package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/floatnote/kit"
)

func chain(h http.Handler) http.Handler {
	stack := DefaultStack(nil)
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	return h
}

func TestDefaultStack_Headers(t *testing.T) {
	var seenID string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = kit.GetRequestID(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Error("no logger in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("missing no-store")
	}
	if got := rec.Header().Get("X-Request-ID"); got == "" || got != seenID {
		t.Errorf("request id header %q, context %q", got, seenID)
	}
	if !strings.HasPrefix(seenID, "req_") {
		t.Errorf("generated id %q", seenID)
	}
}

func TestRequestID_KeepsIncoming(t *testing.T) {
	var seen string
	h := RequestID(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = kit.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Errorf("id = %q", seen)
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { method = r.Method }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/", nil))
	if method != http.MethodGet {
		t.Errorf("method = %s", method)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(4)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/", strings.NewReader("too long")))
	if readErr == nil {
		t.Fatal("expected body limit error")
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(httptest.NewRequest(http.MethodGet, "/", nil).Context()) == nil {
		t.Fatal("nil default logger")
	}
}
