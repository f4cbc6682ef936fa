package client

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// DefaultDNSRefreshInterval is how often cached DNS answers are refreshed.
const DefaultDNSRefreshInterval = 5 * time.Minute

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			if len(ips) == 0 {
				return nil, &net.DNSError{Err: "no addresses found", Name: host, IsNotFound: true}
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// refreshDNS refreshes resolver every interval until stop is closed.
// Entries unused since the previous refresh are dropped.
func refreshDNS(resolver *dnscache.Resolver, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			resolver.Refresh(true)
		}
	}
}
