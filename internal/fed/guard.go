// Package fed connects this server to remote peers: validated backend
// addresses, one persistent WebSocket supervisor per backend, health
// tracking, and a sanitizing proxy for requests routed by hostname.
package fed

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/perchlabs/perch/internal/apierr"
)

// ValidateAddress parses [scheme://]host[:port][/path], resolves the host,
// and rejects addresses this server must never dial: loopback, unspecified,
// bare "localhost", anything in the blocklist. When an allowlist is set,
// only addresses resolving entirely inside it pass, including loopback.
// Returns the normalized base URL.
func ValidateAddress(ctx context.Context, addr string, blocklist, allowlist []string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", apierr.InvalidRequest("address is empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", apierr.InvalidRequestf("invalid address %q: %v", addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apierr.InvalidRequestf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", apierr.InvalidRequest("address has no host")
	}
	if strings.EqualFold(host, "localhost") {
		return "", apierr.InvalidRequestf("address %q resolves to this machine", host)
	}

	ips, err := resolveHost(ctx, host)
	if err != nil {
		return "", apierr.InvalidRequestf("cannot resolve %q: %v", host, err)
	}

	block, err := parseCIDRs(blocklist)
	if err != nil {
		return "", err
	}
	allow, err := parseCIDRs(allowlist)
	if err != nil {
		return "", err
	}

	for _, ip := range ips {
		if containsIP(block, ip) {
			return "", apierr.InvalidRequestf("address %q is blocked", host)
		}
		if len(allow) > 0 {
			if !containsIP(allow, ip) {
				return "", apierr.InvalidRequestf("address %q is outside the allowed networks", host)
			}
			continue
		}
		if ip.IsLoopback() || ip.IsUnspecified() {
			return "", apierr.InvalidRequestf("address %q resolves to a local address", host)
		}
	}

	base := u.Scheme + "://" + u.Host
	if path := strings.TrimRight(u.Path, "/"); path != "" {
		base += path
	}
	return base, nil
}

func resolveHost(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

func parseCIDRs(list []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			// Bare IPs get a host mask.
			if strings.Contains(entry, ":") {
				entry += "/128"
			} else {
				entry += "/32"
			}
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, apierr.InvalidRequestf("invalid CIDR %q: %v", entry, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
