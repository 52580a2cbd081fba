package adguard

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ProbeResult describes how the server's DNS listener answered one query
type ProbeResult struct {
	Server  string        `json:"server"`
	Domain  string        `json:"domain"`
	Rcode   string        `json:"rcode"`
	Answers []string      `json:"answers"`
	RTT     time.Duration `json:"rtt"`
	Blocked bool          `json:"blocked"`
}

// Probe resolves domain through the DNS listener at server (host or host:port).
// A blocked answer is NXDOMAIN or an unspecified address, which is how
// AdGuard Home answers filtered names with its default blocking mode.
func Probe(ctx context.Context, server, domain string, timeout time.Duration) (*ProbeResult, error) {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, strconv.Itoa(53))
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	c := &dns.Client{Timeout: timeout}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	m.RecursionDesired = true

	resp, rtt, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("DNS probe to %s failed: %w", server, err)
	}

	res := &ProbeResult{
		Server: server,
		Domain: domain,
		Rcode:  dns.RcodeToString[resp.Rcode],
		RTT:    rtt,
	}

	unspecified := false
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			res.Answers = append(res.Answers, v.A.String())
			unspecified = unspecified || v.A.IsUnspecified()
		case *dns.AAAA:
			res.Answers = append(res.Answers, v.AAAA.String())
			unspecified = unspecified || v.AAAA.IsUnspecified()
		case *dns.CNAME:
			res.Answers = append(res.Answers, v.Target)
		}
	}

	res.Blocked = resp.Rcode == dns.RcodeNameError || unspecified
	return res, nil
}

// DNSHost extracts the host of a control URL so the probe can target the
// same machine
func DNSHost(controlURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(controlURL))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("server URL %q has no host", controlURL)
	}
	return u.Hostname(), nil
}
