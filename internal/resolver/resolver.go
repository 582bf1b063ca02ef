// Package resolver is the pluggable DNS collaborator spec.md names at
// the protocol engine's interface ("DNS resolution (a pluggable
// resolver returning an endpoint)"). It also hosts the peripheral
// in-memory TTL cache spec.md calls out separately, since memoising
// DNS lookups is the cache's natural home in this codebase: name
// resolution is the one lookup every dial performs, and it is safe to
// serve stale-but-recent for the handful of seconds a login sequence
// takes.
package resolver

import (
	"context"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Endpoint is a resolved network address: the dialable IP and the
// port the caller asked for.
type Endpoint struct {
	IP   net.IP
	Port int
}

// Resolver turns a host:port pair into a dialable Endpoint.
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) (Endpoint, error)
}

// cacheSize and defaultTTL are defaults for the TTL cache backing
// CachingResolver; both are independent of any [ftp.Config] field, so
// peripheral code using this package never needs to know about them.
const (
	cacheSize  = 256
	defaultTTL = 60 * time.Second
)

// CachingResolver wraps another Resolver with a TTL cache keyed by
// host (port is not part of the key: the same host resolves to the
// same address set regardless of which port is being dialed).
type CachingResolver struct {
	next  Resolver
	cache *lru.LRU[string, []net.IP]
	ttl   time.Duration
}

// NewCaching wraps next in a TTL cache of at most cacheSize entries,
// each valid for ttl (zero selects defaultTTL).
func NewCaching(next Resolver, ttl time.Duration) *CachingResolver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CachingResolver{
		next:  next,
		cache: lru.NewLRU[string, []net.IP](cacheSize, nil, ttl),
		ttl:   ttl,
	}
}

func (c *CachingResolver) Resolve(ctx context.Context, host string, port int) (Endpoint, error) {
	if ips, ok := c.cache.Get(host); ok && len(ips) > 0 {
		return Endpoint{IP: ips[0], Port: port}, nil
	}

	ep, err := c.next.Resolve(ctx, host, port)
	if err != nil {
		return Endpoint{}, err
	}
	c.cache.Add(host, []net.IP{ep.IP})
	return ep, nil
}

// Purge drops every cached entry, used by tests that need a clean slate.
func (c *CachingResolver) Purge() { c.cache.Purge() }

// stdResolver is the default Resolver, backed by net.DefaultResolver.
type stdResolver struct {
	preferIPv4, preferIPv6 bool
}

// Option configures the default Resolver's address-family preference.
type Option func(*stdResolver)

// PreferIPv4 restricts resolution to IPv4 addresses.
func PreferIPv4() Option { return func(r *stdResolver) { r.preferIPv4 = true } }

// PreferIPv6 restricts resolution to IPv6 addresses.
func PreferIPv6() Option { return func(r *stdResolver) { r.preferIPv6 = true } }

// Default returns the net.DefaultResolver-backed Resolver, optionally
// constrained to one address family.
func Default(opts ...Option) Resolver {
	r := &stdResolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *stdResolver) Resolve(ctx context.Context, host string, port int) (Endpoint, error) {
	if ip := net.ParseIP(host); ip != nil {
		return Endpoint{IP: ip, Port: port}, nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, r.network(), host)
	if err != nil {
		return Endpoint{}, err
	}
	if len(ips) == 0 {
		return Endpoint{}, &net.DNSError{Err: "no addresses found", Name: host}
	}
	return Endpoint{IP: ips[0], Port: port}, nil
}

func (r *stdResolver) network() string {
	switch {
	case r.preferIPv4:
		return "ip4"
	case r.preferIPv6:
		return "ip6"
	default:
		return "ip"
	}
}
