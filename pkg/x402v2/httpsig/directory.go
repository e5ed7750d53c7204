package httpsig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fluxa-protocol/x402-gateway/internal/cacheutil"
	"github.com/fluxa-protocol/x402-gateway/internal/circuitbreaker"
	"github.com/fluxa-protocol/x402-gateway/internal/httputil"
)

const directoryContentType = "application/http-message-signatures-directory+json"

// DirectoryFetcher fetches and caches a signer's Web-Bot-Auth JWKS directory. The
// directory is keyed by signatureAgent URL and cached for at most TTL; a cache entry
// is dropped on explicit lookup failure so a rotated key is picked up promptly.
type DirectoryFetcher struct {
	mu    sync.RWMutex
	cache map[string]cacheutil.CachedValue[Directory]

	httpClient *http.Client
	ttl        time.Duration
	maxBytes   int64
	timeout    time.Duration

	// AllowLoopback permits an http:// signatureAgent on loopback addresses, the
	// spec's explicit opt-in test exception. Production deployments must leave this
	// false so only https:// signature agents are trusted.
	AllowLoopback bool

	// OnFetch, when set, is invoked with cacheHit after each lookup, used to drive
	// metrics without making this package depend on the metrics package.
	OnFetch func(cacheHit bool, duration time.Duration)

	// Breaker, when set, isolates a misbehaving or unreachable signature agent
	// from tripping unrelated directory fetches to other agents' failures.
	Breaker *circuitbreaker.Manager
}

// NewDirectoryFetcher creates a fetcher with the given cache TTL, byte cap, and
// per-fetch timeout. ttl is clamped to 60s, maxBytes to 64KiB, and the fetch
// timeout to 10s, the hard ceilings of the directory profile.
func NewDirectoryFetcher(ttl time.Duration, maxBytes int64, timeout time.Duration) *DirectoryFetcher {
	if ttl > 60*time.Second {
		ttl = 60 * time.Second
	}
	if maxBytes > 64*1024 {
		maxBytes = 64 * 1024
	}
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &DirectoryFetcher{
		cache:      make(map[string]cacheutil.CachedValue[Directory]),
		httpClient: httputil.NewClient(timeout),
		ttl:        ttl,
		maxBytes:   maxBytes,
		timeout:    timeout,
	}
}

// Get returns the directory for signatureAgent, using the cache when fresh.
func (f *DirectoryFetcher) Get(ctx context.Context, signatureAgent string) (Directory, error) {
	start := time.Now()
	cacheHit := true

	dir, err := cacheutil.ReadThrough(
		&f.mu,
		func(now time.Time) (Directory, bool) {
			entry, ok := f.cache[signatureAgent]
			if !ok || now.Sub(entry.FetchedAt) >= f.ttl {
				return Directory{}, false
			}
			return entry.Value, true
		},
		func(now time.Time) (Directory, error) {
			cacheHit = false
			d, ferr := f.fetchThroughBreaker(ctx, signatureAgent)
			if ferr != nil {
				return Directory{}, ferr
			}
			f.cache[signatureAgent] = cacheutil.CachedValue[Directory]{Value: d, FetchedAt: now}
			return d, nil
		},
	)

	if f.OnFetch != nil {
		f.OnFetch(cacheHit, time.Since(start))
	}

	if err != nil {
		f.Invalidate(signatureAgent)
	}

	return dir, err
}

// Invalidate drops the cached directory for signatureAgent. Callers invoke it
// on explicit key-lookup failure so a rotated key is re-fetched on the next
// verify instead of waiting out the TTL.
func (f *DirectoryFetcher) Invalidate(signatureAgent string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, signatureAgent)
}

func (f *DirectoryFetcher) fetchThroughBreaker(ctx context.Context, signatureAgent string) (Directory, error) {
	if f.Breaker == nil {
		return f.fetch(ctx, signatureAgent)
	}
	result, err := f.Breaker.Execute(circuitbreaker.ServiceDirectory, func() (interface{}, error) {
		return f.fetch(ctx, signatureAgent)
	})
	if err != nil {
		return Directory{}, err
	}
	return result.(Directory), nil
}

func (f *DirectoryFetcher) fetch(ctx context.Context, signatureAgent string) (Directory, error) {
	parsed, err := url.Parse(signatureAgent)
	if err != nil {
		return Directory{}, fmt.Errorf("parsing signature agent url: %w", err)
	}

	if parsed.Scheme != "https" {
		if !(f.AllowLoopback && parsed.Scheme == "http" && isLoopbackHost(parsed.Hostname())) {
			return Directory{}, fmt.Errorf("signature agent must use https (loopback http only permitted with explicit flag)")
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, signatureAgent, nil)
	if err != nil {
		return Directory{}, fmt.Errorf("building directory request: %w", err)
	}
	req.Header.Set("Accept", directoryContentType)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Directory{}, fmt.Errorf("fetching directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Directory{}, fmt.Errorf("directory fetch returned status %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, directoryContentType) {
		return Directory{}, fmt.Errorf("directory response has unexpected content-type %q", ct)
	}

	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return Directory{}, fmt.Errorf("reading directory body: %w", err)
	}
	if int64(len(raw)) > f.maxBytes {
		return Directory{}, fmt.Errorf("directory body exceeds %d byte cap", f.maxBytes)
	}

	var dir Directory
	if err := json.Unmarshal(raw, &dir); err != nil {
		return Directory{}, fmt.Errorf("parsing directory json: %w", err)
	}

	return dir, nil
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
