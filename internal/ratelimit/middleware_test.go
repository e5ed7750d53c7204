package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGlobalLimiter_Disabled(t *testing.T) {
	cfg := Config{GlobalEnabled: false}
	limiter := GlobalLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/verify", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestGlobalLimiter_EnforcesLimit(t *testing.T) {
	cfg := Config{
		GlobalEnabled: true,
		GlobalLimit:   5,
		GlobalWindow:  1 * time.Second,
	}
	limiter := GlobalLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/verify", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/verify", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after limit exceeded, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header to be set")
	}
}

func TestPayerLimiter_Disabled(t *testing.T) {
	cfg := Config{PerPayerEnabled: false}
	limiter := PayerLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/verify", nil)
		req.Header.Set("X-Payer-Address", "0xpayer")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestPayerLimiter_PerPayerLimit(t *testing.T) {
	cfg := Config{
		PerPayerEnabled: true,
		PerPayerLimit:   3,
		PerPayerWindow:  1 * time.Second,
	}
	limiter := PayerLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	payer1 := "0xPayer1"
	payer2 := "0xPayer2"

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/verify", nil)
		req.Header.Set("X-Payer-Address", payer1)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Payer1 request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/verify", nil)
	req.Header.Set("X-Payer-Address", payer1)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Payer1: Expected 429 after limit, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/verify", nil)
	req.Header.Set("X-Payer-Address", payer2)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Payer2: Expected 200, got %d", w.Code)
	}
}

func TestPayerLimiter_FallbackToIP(t *testing.T) {
	cfg := Config{
		PerPayerEnabled: true,
		PerPayerLimit:   3,
		PerPayerWindow:  1 * time.Second,
	}
	limiter := PayerLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/verify", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/verify", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after IP fallback limit, got %d", w.Code)
	}
}

func TestExtractPayerFromRequest(t *testing.T) {
	tests := []struct {
		name        string
		setupReq    func(*http.Request)
		expectedVal string
	}{
		{
			name: "X-Payer-Address header",
			setupReq: func(r *http.Request) {
				r.Header.Set("X-Payer-Address", "0xPayerFromHeader")
			},
			expectedVal: "0xPayerFromHeader",
		},
		{
			name: "X-Session-Id header",
			setupReq: func(r *http.Request) {
				r.Header.Set("X-Session-Id", "session-abc")
			},
			expectedVal: "session-abc",
		},
		{
			name: "query parameter",
			setupReq: func(r *http.Request) {
				r.URL.RawQuery = "payer=0xPayerFromQuery"
			},
			expectedVal: "0xPayerFromQuery",
		},
		{
			name: "header priority over query",
			setupReq: func(r *http.Request) {
				r.Header.Set("X-Payer-Address", "0xPriorityPayer")
				r.URL.RawQuery = "payer=0xSecondaryPayer"
			},
			expectedVal: "0xPriorityPayer",
		},
		{
			name:        "no identifying information",
			setupReq:    func(r *http.Request) {},
			expectedVal: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/verify", nil)
			tt.setupReq(req)

			got := extractPayerFromRequest(req)
			if got != tt.expectedVal {
				t.Errorf("expected %q, got %q", tt.expectedVal, got)
			}
		})
	}
}

func TestIPLimiter_EnforcesLimit(t *testing.T) {
	cfg := Config{
		PerIPEnabled: true,
		PerIPLimit:   3,
		PerIPWindow:  1 * time.Second,
	}
	limiter := IPLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ip := "192.168.1.100:54321"

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/verify", nil)
		req.RemoteAddr = ip
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/verify", nil)
	req.RemoteAddr = ip
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after IP limit, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/verify", nil)
	req.RemoteAddr = "192.168.1.101:54321"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Different IP: Expected 200, got %d", w.Code)
	}
}
