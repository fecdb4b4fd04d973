// Package validate provides domain and subdomain validation helpers.
package validate

import (
	"net"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// labelRegexp validates a single DNS label under RFC 1035 rules:
// 1-63 characters, alphanumeric plus hyphen, no leading/trailing hyphen.
var labelRegexp = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// IsDomain reports whether s is a syntactically valid DNS name:
// at least two labels, each RFC 1035 compliant, total length <= 253.
func IsDomain(s string) bool {
	if len(s) == 0 || len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if !labelRegexp.MatchString(l) {
			return false
		}
	}
	return true
}

// Accepts reports whether name belongs to the reconnaissance scope rooted at
// apex. A leading "*." wildcard is stripped and the name lowercased before
// checking; anything that is not a valid DNS name, contains credentials,
// ports, or path components, or falls outside apex is rejected.
func Accepts(name, apex string) bool {
	name = strings.TrimPrefix(strings.TrimSpace(name), "*.")
	name = strings.ToLower(name)
	apex = strings.ToLower(strings.TrimSpace(apex))
	if name == "" || apex == "" {
		return false
	}
	if strings.ContainsAny(name, "@:/ ") {
		return false
	}
	if net.ParseIP(name) != nil {
		return false
	}
	if !IsDomain(name) {
		return false
	}
	return name == apex || strings.HasSuffix(name, "."+apex)
}

// IsApex reports whether domain is exactly a registrable domain: one label
// followed by a public suffix (which may itself span multiple labels, e.g.
// "example.co.uk"). URLs, credentials, ports, paths, bare IPs, and names
// with extra left-hand labels are rejected.
func IsApex(domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")
	if d == "" || strings.ContainsAny(d, "@:/ ") {
		return false
	}
	if net.ParseIP(d) != nil {
		return false
	}
	if !IsDomain(d) {
		return false
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil {
		return false
	}
	// A registrable apex is its own eTLD+1; any extra label makes it a
	// subdomain and the two differ.
	return etld1 == d
}

// Normalize lowercases and trims a user-supplied domain for storage and
// querying.
func Normalize(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
