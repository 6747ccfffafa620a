package firebolt

import (
	"net"
	"net/http"
	"time"
)

const (
	// connectTimeout bounds dialing and the TLS handshake. There is no
	// client-level timeout: reads stay open for as long as a query runs.
	connectTimeout = 5 * time.Second

	// keepaliveRate is the TCP keep-alive interval. Load balancers in
	// front of the engines drop connections idle for a few minutes, so
	// probes have to come well under that.
	keepaliveRate = 60 * time.Second
)

// newTransport returns the transport used for all API and engine traffic
// unless the caller injects one through Config.Transport.
func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: keepaliveRate,
	}).DialContext
	t.TLSHandshakeTimeout = connectTimeout
	return t
}

func newHTTPClient(rt http.RoundTripper) *http.Client {
	if rt == nil {
		rt = newTransport()
	}
	return &http.Client{Transport: rt}
}
