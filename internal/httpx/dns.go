// SPDX-License-Identifier: MIT

package httpx

import (
	"context"
	"net"
	"sync"
	"time"
)

// dnsCacheTTL bounds how long a successful lookup is reused. Failures are
// never cached; a transient resolver hiccup must not poison the next
// request.
const dnsCacheTTL = 60 * time.Second

type dnsEntry struct {
	ips     []string
	expires time.Time
}

type dnsCache struct {
	mu      sync.Mutex
	entries map[string]dnsEntry
	resolve func(ctx context.Context, host string) ([]string, error)
	now     func() time.Time
}

var sharedDNSCache = newDNSCache()

func newDNSCache() *dnsCache {
	return &dnsCache{
		entries: make(map[string]dnsEntry),
		resolve: func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		},
		now: time.Now,
	}
}

func (c *dnsCache) lookup(ctx context.Context, host string) ([]string, error) {
	c.mu.Lock()
	if e, ok := c.entries[host]; ok && c.now().Before(e.expires) {
		ips := e.ips
		c.mu.Unlock()
		return ips, nil
	}
	c.mu.Unlock()

	ips, err := c.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[host] = dnsEntry{ips: ips, expires: c.now().Add(dnsCacheTTL)}
	c.mu.Unlock()
	return ips, nil
}
