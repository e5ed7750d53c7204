package idempotency

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func settleHandler(callCount *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*callCount++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestMiddlewarePassThroughWithoutKey(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	calls := 0
	handler := Middleware(store, time.Hour)(settleHandler(&calls, 200, `{"success":true}`))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/settle", nil))
		if rec.Header().Get("X-Idempotency-Replay") != "" {
			t.Fatal("expected no replay without an Idempotency-Key")
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run every time without a key, ran %d", calls)
	}
}

func TestMiddlewareReplaysSecondRequest(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	calls := 0
	handler := Middleware(store, time.Hour)(settleHandler(&calls, 200, `{"success":true,"transaction":"0xabc"}`))

	first := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/settle", nil)
	req.Header.Set(HeaderKey, "settle-1")
	handler.ServeHTTP(first, req)

	if first.Header().Get("X-Idempotency-Replay") != "" {
		t.Fatal("first request must not be a replay")
	}

	second := httptest.NewRecorder()
	retry := httptest.NewRequest("POST", "/settle", nil)
	retry.Header.Set(HeaderKey, "settle-1")
	handler.ServeHTTP(second, retry)

	if second.Header().Get("X-Idempotency-Replay") != "true" {
		t.Fatal("expected replay header on retry")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body %q differs from original %q", second.Body.String(), first.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d", calls)
	}
}

func TestMiddlewareDoesNotCacheErrors(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	calls := 0
	handler := Middleware(store, time.Hour)(settleHandler(&calls, 500, `{"error":"boom"}`))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/settle", nil)
		req.Header.Set(HeaderKey, "failing")
		handler.ServeHTTP(rec, req)
		if rec.Header().Get("X-Idempotency-Replay") != "" {
			t.Fatal("error responses must not replay")
		}
	}
	if calls != 2 {
		t.Fatalf("expected failed settle to re-run on retry, ran %d", calls)
	}
}

func TestMiddlewareScopesKeyByPath(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	settleCalls, verifyCalls := 0, 0
	settle := Middleware(store, time.Hour)(settleHandler(&settleCalls, 200, `{"success":true}`))
	verify := Middleware(store, time.Hour)(settleHandler(&verifyCalls, 200, `{"isValid":true}`))

	req := httptest.NewRequest("POST", "/settle", nil)
	req.Header.Set(HeaderKey, "shared")
	settle.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	req2 := httptest.NewRequest("POST", "/verify", nil)
	req2.Header.Set(HeaderKey, "shared")
	verify.ServeHTTP(rec, req2)

	if rec.Header().Get("X-Idempotency-Replay") != "" {
		t.Fatal("a key used on /settle must not replay against /verify")
	}
	if verifyCalls != 1 {
		t.Fatalf("expected verify handler to run, ran %d", verifyCalls)
	}
}
