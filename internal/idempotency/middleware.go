package idempotency

import (
	"bytes"
	"net/http"
	"time"
)

const (
	// HeaderKey is the request header carrying the client's idempotency key.
	HeaderKey = "Idempotency-Key"

	// DefaultTTL bounds how long a settle response stays replayable.
	DefaultTTL = 24 * time.Hour
)

// recordingWriter tees the response so a 2xx outcome can be cached verbatim.
type recordingWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func newRecordingWriter(w http.ResponseWriter) *recordingWriter {
	return &recordingWriter{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}}
}

func (rw *recordingWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *recordingWriter) snapshotHeaders() map[string]string {
	headers := make(map[string]string, len(rw.ResponseWriter.Header()))
	for key := range rw.ResponseWriter.Header() {
		headers[key] = rw.ResponseWriter.Header().Get(key)
	}
	return headers
}

// Middleware replays the cached response for a repeated Idempotency-Key.
// Requests without the header pass through untouched. Only 2xx responses are
// cached: a settle that failed structurally may legitimately succeed on retry.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Scope by method and path so one key cannot replay a /settle
			// response against a different endpoint.
			key := r.Method + ":" + r.URL.Path + ":" + rawKey

			if cached, found := store.Get(r.Context(), key); found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("X-Idempotency-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			rw := newRecordingWriter(w)
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				_ = store.Set(r.Context(), key, &CachedResponse{
					StatusCode: rw.statusCode,
					Headers:    rw.snapshotHeaders(),
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				}, ttl)
			}
		})
	}
}
