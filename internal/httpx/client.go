// Package httpx holds the HTTP plumbing shared by the outbound clients:
// a pooled client, a token bucket, retry with backoff and HMAC signing.
package httpx

import (
	"net"
	"net/http"
	"time"
)

// NewClient returns a client on a pooled transport. A zero timeout leaves
// deadlines to the request context.
func NewClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
	}
}
