package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	// TrustForwardedFor enables X-Forwarded-For / X-Real-IP handling
	TrustForwardedFor bool
	// TrustedProxies are CIDR ranges whose forwarded headers are believed.
	// Empty means any peer when TrustForwardedFor is set.
	TrustedProxies []string
}

// ExtractClientIP returns the caller's IP address, or "" if none can be
// determined.
//
// Flow:
// 1. If forwarded headers are trusted for this peer, take the first valid X-Forwarded-For entry
// 2. Then X-Real-IP
// 3. Fall back to RemoteAddr
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config != nil && config.TrustForwardedFor && trustsPeer(remoteIP, config.TrustedProxies) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, ip := range strings.Split(xff, ",") {
				ip = strings.TrimSpace(ip)
				if isValidIP(ip) {
					return ip
				}
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); isValidIP(xri) {
			return xri
		}
	}

	if isValidIP(remoteIP) {
		return remoteIP
	}
	return ""
}

// PeerIP returns the transport peer address only, ignoring forwarded headers
func PeerIP(r *http.Request) string {
	ip := getRemoteAddr(r)
	if isValidIP(ip) {
		return ip
	}
	return ""
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func trustsPeer(ip string, trustedProxies []string) bool {
	if len(trustedProxies) == 0 {
		return true
	}
	return isTrustedProxy(ip, trustedProxies)
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}

	return false
}

// isValidIP checks if a string is a valid IPv4 or IPv6 address
func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
