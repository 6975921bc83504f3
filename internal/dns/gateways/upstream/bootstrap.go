package upstream

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// ResolveEndpoint turns a "host:port" upstream into "ip:port". Literal IPs
// are returned unchanged; hostnames are resolved once with an A query to
// bootstrap.
func ResolveEndpoint(ctx context.Context, hostport, bootstrap string, timeout time.Duration) (string, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("invalid upstream %q: %w", hostport, err)
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return hostport, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	c := &dns.Client{Net: "udp", Timeout: timeout}
	in, _, err := c.ExchangeContext(ctx, m, bootstrap)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s via %s: %v", ErrUpstreamUnavailable, host, bootstrap, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("%w: resolve %s via %s: %s", ErrUpstreamUnavailable, host, bootstrap, dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			return net.JoinHostPort(a.A.String(), port), nil
		}
	}
	return "", fmt.Errorf("%w: no address records for %s", ErrUpstreamUnavailable, host)
}
