package polymarket

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// defaultTimeout bounds every Polymarket HTTP call unless configured.
const defaultTimeout = 30 * time.Second

// TransportFactory builds a fresh HTTP client. The CLOB client calls it once
// at construction and again on every ResetTransport.
type TransportFactory func() *http.Client

// DefaultTransportFactory builds clients that connect directly, honouring
// the standard proxy environment variables.
func DefaultTransportFactory(timeout time.Duration) TransportFactory {
	return func() *http.Client {
		return &http.Client{
			Timeout:   timeout,
			Transport: newTransport(http.ProxyFromEnvironment),
		}
	}
}

// ProxyTransportFactory builds clients that dial through proxyURL. Each
// client has its own connection pool, so a rotating proxy hands out a new
// exit IP per client.
func ProxyTransportFactory(proxyURL string, timeout time.Duration) (TransportFactory, error) {
	u, err := url.Parse(proxyURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("polymarket: invalid proxy url %q", proxyURL)
	}
	return func() *http.Client {
		return &http.Client{
			Timeout:   timeout,
			Transport: newTransport(http.ProxyURL(u)),
		}
	}, nil
}

func newTransport(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
