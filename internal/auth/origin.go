package auth

import (
	"net/url"
	"strings"

	"github.com/tetherchat/tether/internal/models"
)

// allowedOriginSchemes are the schemes an Origin header may carry.
// Widget embeds arrive over http(s); socket upgrades report ws(s).
var allowedOriginSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ws":    true,
	"wss":   true,
}

// secureOriginSchemes satisfy the production HTTPS requirement.
var secureOriginSchemes = map[string]bool{
	"https": true,
	"wss":   true,
}

// HasOriginPolicy reports whether a website has an origin policy to
// enforce. Keys with no associated website (internal/admin keys) and
// websites with an empty whitelist skip the origin gate entirely.
func HasOriginPolicy(website *models.Website) bool {
	return website != nil && len(website.Domains) > 0
}

// checkOrigin runs the origin/domain validation state machine for a
// public key. rawKey is needed to carve test keys out of the HTTPS and
// localhost checks.
func (e *Engine) checkOrigin(rawKey string, website *models.Website, origin string) *Error {
	if origin == "" {
		return errOriginRequired()
	}
	// Privacy-restricted contexts (sandboxed iframes, some redirects)
	// send the literal string "null".
	if origin == "null" {
		return errNullOrigin()
	}

	parsed, err := url.Parse(origin)
	if err != nil || !allowedOriginSchemes[parsed.Scheme] || parsed.Hostname() == "" {
		return errInvalidOriginFormat()
	}
	hostname := strings.ToLower(parsed.Hostname())

	// HTTPS enforcement applies only to production keys running in
	// production; local development never requires TLS or a tunnel.
	if e.production && !IsTestKey(rawKey) {
		if !secureOriginSchemes[parsed.Scheme] {
			return errHTTPSRequired()
		}
		if isPrivateHost(hostname) {
			return errLocalhostForbidden()
		}
	}

	for _, entry := range website.Domains {
		if matchDomain(entry, hostname) {
			return nil
		}
	}
	return errDomainNotWhitelisted(hostname)
}

// matchDomain evaluates one whitelist entry against a request hostname.
// Entries are compared as hostnames only: a full URL entry is reduced
// to its hostname, and "*.base" matches base itself plus any subdomain
// of it.
func matchDomain(entry, hostname string) bool {
	entry = strings.ToLower(strings.TrimSpace(entry))
	if entry == "" {
		return false
	}

	if strings.HasPrefix(entry, "*.") {
		base := strings.TrimPrefix(entry, "*.")
		return hostname == base || strings.HasSuffix(hostname, "."+base)
	}

	return hostname == entryHostname(entry)
}

// entryHostname reduces a whitelist entry to a bare hostname, stripping
// scheme, port and path if the entry was written as a URL.
func entryHostname(entry string) string {
	if strings.Contains(entry, "://") {
		if parsed, err := url.Parse(entry); err == nil && parsed.Hostname() != "" {
			return parsed.Hostname()
		}
		return entry
	}
	// Bare entries may still carry a port or a path.
	if host, _, ok := strings.Cut(entry, "/"); ok {
		entry = host
	}
	if host, _, ok := strings.Cut(entry, ":"); ok {
		entry = host
	}
	return entry
}

// isPrivateHost reports whether hostname is localhost or a private
// network address.
func isPrivateHost(hostname string) bool {
	switch hostname {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	for _, prefix := range []string{"192.168.", "10.", "172."} {
		if strings.HasPrefix(hostname, prefix) {
			return true
		}
	}
	return false
}
