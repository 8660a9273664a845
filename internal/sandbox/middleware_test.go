package sandbox

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/and161185/signflow/internal/limiter"
)

func TestLogging_Passthrough(t *testing.T) {
	t.Parallel()
	h := Logging(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot || rec.Body.String() != "ok" {
		t.Fatalf("passthrough mismatch: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	t.Parallel()
	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("oh no")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()
	tokens := NewTokens([]byte("k"), time.Hour)
	lim := limiter.NewMemory(time.Minute, 2, time.Minute)
	var gotSub string
	h := RequireAuth(tokens, lim, zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub, _ = SubjectFromCtx(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	tok, _, err := tokens.Issue("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec := do("Bearer " + tok); rec.Code != http.StatusNoContent || gotSub != "alice" {
		t.Fatalf("valid token: code=%d sub=%q", rec.Code, gotSub)
	}
	if rec := do(""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: want 401, got %d", rec.Code)
	}
	if rec := do("Bearer garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: want 401, got %d", rec.Code)
	}
	rec := do("Bearer " + tok)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("locked out: want 429 with Retry-After, got %d", rec.Code)
	}
}

func TestTokens_RejectForeignKey(t *testing.T) {
	t.Parallel()
	tok, _, err := NewTokens([]byte("a"), 0).Issue("bob")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewTokens([]byte("b"), 0).Verify(tok); err == nil {
		t.Fatalf("want error for token signed with another key")
	}
	if _, _, err := NewTokens([]byte("a"), 0).Issue(""); err == nil {
		t.Fatalf("want error for empty subject")
	}
}
