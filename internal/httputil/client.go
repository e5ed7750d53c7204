// Package httputil provides the shared outbound HTTP client configuration.
package httputil

import (
	"net/http"
	"time"
)

// NewClient builds an HTTP client with a tuned transport for repeated calls to
// a small set of hosts, such as the Web-Bot-Auth signature-agent directories
// the credit scheme re-fetches on every cache expiry. Keeping idle connections
// per host avoids a TLS handshake on each verify burst.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
