// package models contains the database models for the bridge.
// Urgh, a package called models, I know, I know.
package models

import (
	"net/url"
	"strings"
)

// DomainOf returns the registrable host of a URL, lowercased with any port
// stripped. It returns "" when u is not a parseable absolute URL.
func DomainOf(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// MinimizeDomain strips a leading www. label, collapsing the common case
// where a site serves the same content on both forms.
func MinimizeDomain(domain string) string {
	return strings.TrimPrefix(domain, "www.")
}

// IsWeb reports whether u is a fully qualified http or https URL.
func IsWeb(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// blockedDomains are silo domains whose URLs are never delivery targets.
var blockedDomains = map[string]bool{
	"facebook.com":  true,
	"instagram.com": true,
	"twitter.com":   true,
	"x.com":         true,
	"t.co":          true,
}

// Blocklisted reports whether the URL's domain is on the target denylist.
func Blocklisted(u string) bool {
	domain := MinimizeDomain(DomainOf(u))
	return blockedDomains[domain]
}

// blockedTLDs are "domains" that are really file extensions, the residue
// of crawlers mangling paths into hostnames.
var blockedTLDs = map[string]bool{
	"gif":  true,
	"html": true,
	"ico":  true,
	"jpg":  true,
	"jpeg": true,
	"js":   true,
	"json": true,
	"php":  true,
	"png":  true,
	"svg":  true,
	"txt":  true,
	"xml":  true,
	"yaml": true,
	"zip":  true,
}

// BlockedTLD reports whether the domain's final label is a blocked
// pseudo-TLD.
func BlockedTLD(domain string) bool {
	i := strings.LastIndex(domain, ".")
	if i < 0 {
		return false
	}
	return blockedTLDs[domain[i+1:]]
}
