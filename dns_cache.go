package plogwatch

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"
)

const (
	minAddrTTL     = time.Second
	maxAddrTTL     = 5 * time.Minute
	defaultAddrTTL = 30 * time.Second
)

// addrCache resolves one host through a TTLResolver and keeps the answer until its TTL expires.
// A failed refresh falls back to the last good answer.
type addrCache struct {
	resolver TTLResolver
	now      func() time.Time

	mu        sync.Mutex
	host      string
	addrs     []netip.Addr
	expiresAt time.Time
}

func newAddrCache(resolver TTLResolver) *addrCache {
	if resolver == nil {
		resolver = newDefaultTTLResolver()
	}
	return &addrCache{resolver: resolver, now: time.Now}
}

// normalizeTTL clamps an observed TTL. Zero, as reported for literal addresses or the fallback
// resolver, maps to a fixed default.
func normalizeTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return defaultAddrTTL
	case ttl < minAddrTTL:
		return minAddrTTL
	case ttl > maxAddrTTL:
		return maxAddrTTL
	default:
		return ttl
	}
}

// resolve returns the address to poll for host:port.
func (c *addrCache) resolve(ctx context.Context, host string, port int) (netip.AddrPort, error) {
	if port < 1 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("port %d out of range", port)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(ip.Unmap(), uint16(port)), nil
	}

	now := c.now()
	c.mu.Lock()
	if c.host != host {
		c.host = host
		c.addrs = nil
		c.expiresAt = time.Time{}
	}
	cached := c.addrs
	fresh := len(cached) > 0 && now.Before(c.expiresAt)
	c.mu.Unlock()

	if fresh {
		return netip.AddrPortFrom(cached[0], uint16(port)), nil
	}

	addrs, ttl, err := c.resolver.Lookup(ctx, host)
	if err == nil && len(addrs) == 0 {
		err = errors.New("resolver returned no addresses")
	}
	if err != nil {
		if len(cached) > 0 {
			return netip.AddrPortFrom(cached[0], uint16(port)), nil
		}
		return netip.AddrPort{}, err
	}

	c.mu.Lock()
	c.addrs = append([]netip.Addr(nil), addrs...)
	c.expiresAt = now.Add(normalizeTTL(ttl))
	c.mu.Unlock()

	return netip.AddrPortFrom(addrs[0].Unmap(), uint16(port)), nil
}
