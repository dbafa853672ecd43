// Package origin implements browser Origin header normalization and the
// allowlist policy shared by the HTTP middleware and the WebSocket upgrade.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns the canonical
// origin (scheme://host[:port], default ports stripped) plus the host[:port]
// part for same-host comparisons.
//
// The special value "null" (sandboxed iframes, file://) is allowed as-is.
func Normalize(originHeader string) (normalized string, host string, ok bool) {
	raw := strings.TrimSpace(originHeader)
	if raw == "" {
		return "", "", false
	}
	if raw == "null" {
		return "null", "", true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether the normalized origin may access the given
// request host.
//
// With a non-empty allowlist, each entry must be "*" or a normalized origin.
// Otherwise the policy is same-host only; the scheme is deliberately not
// compared because a TLS-terminating proxy makes the relay see http while the
// browser Origin says https.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme := ""
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalizedOrigin, "https://"):
		scheme = "https"
	default:
		// "null" never matches a host-based request.
		return false
	}

	reqHost, ok := canonicalHost(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// canonicalHost lowercases the hostname, validates any port, and strips the
// scheme's default port so "https://example.com:443" and "https://example.com"
// compare equal. IPv6 literals keep their brackets.
func canonicalHost(rawHost, scheme string) (string, bool) {
	if rawHost == "" {
		return "", false
	}

	hostname, portStr, err := net.SplitHostPort(rawHost)
	if err != nil {
		// No port present. Reject malformed bracket/colon combinations that
		// SplitHostPort would also reject with a port attached.
		hostname = rawHost
		if strings.HasPrefix(hostname, "[") {
			if !strings.HasSuffix(hostname, "]") {
				return "", false
			}
			hostname = hostname[1 : len(hostname)-1]
		} else if strings.Contains(hostname, ":") {
			return "", false
		}
		portStr = ""
	}

	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	port := 0
	if portStr != "" {
		n, err := strconv.Atoi(portStr)
		if err != nil || n <= 0 || n > 65535 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.Itoa(port)
	}
	return host, true
}
