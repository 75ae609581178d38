// Package target validates and resolves scan targets: input hygiene,
// hostname-to-IP resolution, and placeholder rejection. Loopback
// targets are accepted and classified as Loopback.
// Grounded on the teacher's IP-handling idioms in internal/scanner
// (net.ParseCIDR/net.DialTimeout style) and its scanner/cloud.go
// CloudDetector, adapted here from asset-inventory enrichment into a
// Target classification field.
package target

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Classification describes where a resolved target sits on the
// network, used by the cache's TTL policy and the pre-scan gate.
type Classification string

const (
	Internal    Classification = "internal"
	External    Classification = "external"
	Loopback    Classification = "loopback"
	Placeholder Classification = "placeholder"
)

// Target is the immutable result of resolving a user-supplied host.
type Target struct {
	Host           string
	ResolvedIP     string
	Classification Classification
	Cloud          CloudDetectionResult
}

// Error kinds returned by Resolve, matching spec.md §4.1 exactly.
var (
	ErrEmpty        = errors.New("target: host is empty")
	ErrPlaceholder  = errors.New("target: host is a placeholder domain")
	ErrUnresolvable = errors.New("target: host could not be resolved")
	ErrDisallowed   = errors.New("target: host is disallowed")
)

// ResolveError wraps one of the sentinel errors above with the
// original (possibly unresolved) hostname, so callers can report it
// back to the user without losing context.
type ResolveError struct {
	Host string
	Kind error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Host)
}

func (e *ResolveError) Unwrap() error { return e.Kind }

var placeholderHosts = map[string]bool{
	"example.com":       true,
	"example.org":       true,
	"example.net":       true,
	"test.com":          true,
	"localhost":         true,
	"placeholder.local": true,
	"demo.com":          true,
	"sample.com":        true,
}

// dnsTimeout bounds A-record resolution; spec.md §4.1 caps this at 5s
// wall clock and reserves DNS resolution to this package alone.
const dnsTimeout = 5 * time.Second

// Resolver resolves hostnames to targets. It is the only component
// permitted to perform DNS lookups.
type Resolver struct {
	// Nameserver, if set, is queried directly (host:port); otherwise
	// the resolver reads /etc/resolv.conf, matching miekg/dns's
	// ClientConfigFromFile convenience used across the retrieval pack.
	Nameserver string
	detector   *CloudDetector
}

// NewResolver creates a Resolver with an initialized cloud detector.
func NewResolver(nameserver string) *Resolver {
	return &Resolver{Nameserver: nameserver, detector: NewCloudDetector()}
}

// Resolve validates and resolves host per spec.md §4.1's ordered rules.
func (r *Resolver) Resolve(ctx context.Context, host string) (Target, error) {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return Target{}, &ResolveError{Host: host, Kind: ErrEmpty}
	}

	lower := strings.ToLower(trimmed)
	if placeholderHosts[lower] {
		return Target{}, &ResolveError{Host: host, Kind: ErrPlaceholder}
	}

	if ip := net.ParseIP(trimmed); ip != nil {
		return r.classify(trimmed, ip.String()), nil
	}

	ip, err := r.lookupA(ctx, trimmed)
	if err != nil {
		return Target{}, &ResolveError{Host: host, Kind: fmt.Errorf("%w: %v", ErrUnresolvable, err)}
	}

	return r.classify(trimmed, ip), nil
}

func (r *Resolver) classify(host, ip string) Target {
	parsed := net.ParseIP(ip)

	class := External
	switch {
	case parsed.IsLoopback():
		class = Loopback
	case isPrivateIP(parsed):
		class = Internal
	}

	return Target{
		Host:           host,
		ResolvedIP:     ip,
		Classification: class,
		Cloud:          r.detector.Detect(ip),
	}
}

func (r *Resolver) lookupA(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	nameserver := r.Nameserver
	if nameserver == "" {
		cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil || len(cfg.Servers) == 0 {
			nameserver = "127.0.0.1:53"
		} else {
			nameserver = net.JoinHostPort(cfg.Servers[0], cfg.Port)
		}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	client := new(dns.Client)
	client.Timeout = dnsTimeout

	resp, _, err := client.ExchangeContext(ctx, msg, nameserver)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("dns query failed with rcode %d", safeRcode(resp))
	}

	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record found for %s", host)
}

func safeRcode(resp *dns.Msg) int {
	if resp == nil {
		return -1
	}
	return resp.Rcode
}

// isPrivateIP reports whether ip falls in an RFC1918/link-local/
// loopback range. Grounded verbatim on scanner/cloud.go's isPrivateIP.
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
	}
	for _, cidr := range privateRanges {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
