// Package security provides SSRF protection for the HTTP Business Handler:
// a routing-table hot-patch or a misconfigured Rule Deployer entry could
// otherwise point a place's outbound call at an internal address. Adapted
// from cmd/http-worker/security's host/ip validator pair, trimmed to the
// single check this core needs (resolved destination host/IP), since the
// path/protocol/url validators guard an HTTP worker's free-form config
// fields this core's handler does not expose.
package security

import (
	"fmt"
	"net"
	"strings"
)

// HostValidator blocks loopback, private, link-local, multicast, and
// unspecified destinations so a resolved business-service host cannot be
// used to reach internal infrastructure.
type HostValidator struct {
	blockedHostnames []string
	// AllowLoopback permits loopback destinations, for a Place running in
	// the non-remote (loopback-bound, §4.2 "Socket binding") local mode
	// where business handlers legitimately target 127.0.0.1.
	AllowLoopback bool
}

// NewHostValidator creates a validator with the default blocked hostname
// list.
func NewHostValidator() *HostValidator {
	return &HostValidator{
		blockedHostnames: []string{
			"localhost", "127.0.0.1", "::1", "0.0.0.0", "::",
			"::ffff:127.0.0.1", "[::1]", "[::ffff:127.0.0.1]",
		},
	}
}

// Validate checks hostname against the blocklist and, if it resolves,
// validates every returned IP.
func (v *HostValidator) Validate(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("security: hostname is required")
	}
	normalized := strings.ToLower(strings.TrimSpace(hostname))
	for _, blocked := range v.blockedHostnames {
		if normalized == blocked && !v.AllowLoopback {
			return fmt.Errorf("security: hostname %q is blocked (SSRF protection: localhost)", hostname)
		}
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// DNS failure: let the subsequent dial fail on its own terms.
		return nil
	}
	for _, ip := range ips {
		if v.AllowLoopback && ip.IsLoopback() {
			continue
		}
		if err := ValidateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIP blocks loopback, private, link-local, multicast, and
// unspecified addresses.
func ValidateIP(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("security: IP address is nil")
	}
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("security: IP %s is blocked (loopback)", ip)
	case ip.IsPrivate():
		return fmt.Errorf("security: IP %s is blocked (private network)", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("security: IP %s is blocked (link-local)", ip)
	case ip.IsMulticast():
		return fmt.Errorf("security: IP %s is blocked (multicast)", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("security: IP %s is blocked (unspecified)", ip)
	}
	return nil
}
