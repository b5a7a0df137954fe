package inference

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	sharedTransport *http.Transport
	transportOnce   sync.Once
)

// pooledTransport is shared by every engine in the process so generator and
// scorer calls against the same server reuse connections.
func pooledTransport() *http.Transport {
	transportOnce.Do(func() {
		sharedTransport = &http.Transport{
			MaxIdleConns:        200,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	})
	return sharedTransport
}

// newHTTPClient returns a client on the pooled transport. Generation can take
// minutes, so the timeout applies per request rather than to the transport.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: pooledTransport(),
		Timeout:   timeout,
	}
}
