package llm

import (
	"context"
	"net"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const defaultDNSRefresh = 5 * time.Minute

// CachingDialer resolves hosts through an in-process DNS cache so repeated
// calls to the model API skip the resolver.
type CachingDialer struct {
	resolver *dnscache.Resolver
	dialer   *net.Dialer
}

// NewCachingDialer creates a dialer with an empty cache.
func NewCachingDialer() *CachingDialer {
	return &CachingDialer{
		resolver: &dnscache.Resolver{},
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// RunRefresh periodically refreshes cached entries until ctx is cancelled.
// Entries not used since the previous refresh are dropped.
func (d *CachingDialer) RunRefresh(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = defaultDNSRefresh
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.resolver.Refresh(true)
			log.Debug().Dur("ttl", every).Msg("DNS cache refreshed")
		}
	}
}

// DialContext resolves address through the cache and dials each IP in turn
// until one connects.
func (d *CachingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		return d.dialer.DialContext(ctx, network, address)
	}

	ips, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := d.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
