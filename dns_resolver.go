package plogwatch

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

const defaultResolvConf = "/etc/resolv.conf"

// TTLResolver looks up host records and returns associated TTL information.
type TTLResolver interface {
	Lookup(ctx context.Context, host string) ([]netip.Addr, time.Duration, error)
}

// defaultTTLResolver implements TTLResolver using the host system resolver configuration.
type defaultTTLResolver struct {
	once   sync.Once
	cfg    *dns.ClientConfig
	cfgErr error

	resolvConf  string
	client      *dns.Client
	stdResolver *net.Resolver
}

// newDefaultTTLResolver builds a resolver that can report record TTLs using the system configuration.
func newDefaultTTLResolver() *defaultTTLResolver {
	return &defaultTTLResolver{
		resolvConf:  defaultResolvConf,
		client:      &dns.Client{Net: "udp", Timeout: 2 * time.Second},
		stdResolver: net.DefaultResolver,
	}
}

// Lookup resolves A then AAAA records and reports the smallest TTL among the answers. Literal
// addresses are returned as-is, and the standard resolver is used without TTL when the raw queries
// yield nothing.
func (r *defaultTTLResolver) Lookup(ctx context.Context, host string) ([]netip.Addr, time.Duration, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, 0, nil
	}

	host = strings.TrimSuffix(host, ".")
	addrs, ttl, err := r.lookupWithTTL(ctx, host)
	if err == nil && len(addrs) > 0 {
		return addrs, ttl, nil
	}

	ips, fallbackErr := r.stdResolver.LookupNetIP(ctx, "ip", host)
	if fallbackErr != nil {
		if err != nil {
			return nil, 0, errors.Join(err, fallbackErr)
		}
		return nil, 0, fallbackErr
	}
	return ips, 0, nil
}

// lookupWithTTL queries the configured name servers directly so record TTLs are visible.
func (r *defaultTTLResolver) lookupWithTTL(ctx context.Context, host string) ([]netip.Addr, time.Duration, error) {
	r.once.Do(func() {
		r.cfg, r.cfgErr = dns.ClientConfigFromFile(r.resolvConf)
	})
	if r.cfgErr != nil {
		return nil, 0, r.cfgErr
	}

	var (
		addrs   []netip.Addr
		ttl     time.Duration
		ttlInit bool
	)

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)

		for _, server := range r.cfg.Servers {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}

			resp, _, err := r.client.ExchangeContext(ctx, msg, net.JoinHostPort(server, r.cfg.Port))
			if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
				continue
			}

			found := false
			for _, ans := range resp.Answer {
				var ip netip.Addr
				var ok bool
				switch rr := ans.(type) {
				case *dns.A:
					ip, ok = netip.AddrFromSlice(rr.A)
				case *dns.AAAA:
					ip, ok = netip.AddrFromSlice(rr.AAAA)
				}
				if !ok {
					continue
				}
				addrs = append(addrs, ip.Unmap())
				found = true

				recordTTL := time.Duration(ans.Header().Ttl) * time.Second
				if !ttlInit || (recordTTL > 0 && recordTTL < ttl) {
					ttl = recordTTL
					ttlInit = true
				}
			}
			if found {
				// One answering server per record type is enough.
				break
			}
		}
	}

	if len(addrs) == 0 {
		return nil, 0, errors.New("no DNS answers with TTL")
	}
	return addrs, ttl, nil
}
