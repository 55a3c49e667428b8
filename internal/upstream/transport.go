package upstream

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewTransport builds the origin-facing transport. The game origin is a
// single host, so the connection pool stays small.
func NewTransport() *http.Transport {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}
	http2.ConfigureTransport(tr)
	return tr
}

// NewClient wraps a transport in a client with the configured per-request
// timeout. A zero timeout leaves requests unbounded.
func NewClient(tr http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}
