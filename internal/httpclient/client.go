// Package httpclient builds the HTTP clients used for upstream provider
// calls. Streaming responses can stay open for minutes, so the streaming
// client carries no overall request timeout; cancellation comes from the
// request context instead.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

func newTransport(responseHeaderTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewStreamingClient returns a client for SSE upstreams: headers must arrive
// promptly, but the body may flow for as long as the turn lasts.
func NewStreamingClient() *http.Client {
	return &http.Client{Transport: newTransport(60 * time.Second)}
}

// NewRequestClient returns a client for ordinary request/response calls such
// as model listing.
func NewRequestClient() *http.Client {
	return &http.Client{
		Transport: newTransport(30 * time.Second),
		Timeout:   60 * time.Second,
	}
}
