package proxy

import (
	"net"
	"net/http"
	"time"
)

// HTTPClient is the subset of *http.Client the proxy depends on, so tests
// can substitute a stub.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient builds the client used for upstream dispatch. No overall
// request timeout is set — streaming responses can legitimately run for
// minutes; per-connection dial/TLS handshake timeouts still bound
// unresponsive upstreams.
func NewHTTPClient() HTTPClient {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
