// SPDX-License-Identifier: MIT

// Package httpx builds the hardened, pooled HTTP clients used to talk to
// upstream subtitle providers and translation backends.
package httpx

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"

	"github.com/submaker/submaker/internal/version"
)

const (
	defaultDialTimeout           = 5 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 100
	defaultMaxIdleConnsPerHost   = 20
	defaultMaxConnsPerHost       = 100
)

// NewClient returns a pooled client for provider traffic. The per-request
// deadline comes from the caller's context, not a client timeout, so a
// single slow provider cannot stall unrelated requests sharing the pool.
func NewClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           cachingDialContext(defaultDialTimeout),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:       defaultMaxConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultDialTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
	// Ask for HTTP/2 settings tuned for many small concurrent requests.
	if h2, err := http2.ConfigureTransports(transport); err == nil {
		h2.ReadIdleTimeout = 30 * time.Second
		h2.PingTimeout = 10 * time.Second
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
	}
}

// cachingDialContext resolves through the process-wide DNS cache before
// dialing, so a provider burst does not hammer the resolver.
func cachingDialContext(timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		if ip := net.ParseIP(host); ip != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		ips, err := sharedDNSCache.lookup(ctx, host)
		if err != nil || len(ips) == 0 {
			// Resolution failures surface through the normal dial path.
			return dialer.DialContext(ctx, network, addr)
		}
		var firstErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return nil, firstErr
	}
}

// Do sends the request with the SubMaker user agent applied when the caller
// did not set one.
func Do(client *http.Client, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	return client.Do(req)
}
