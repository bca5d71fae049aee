// Package route parses inbound request paths into proxy directives and
// an outbound target URL.
package route

import (
	"strings"
)

// DirectivePrefix marks path segments reserved for proxy directives.
// A dotted segment beginning with this prefix is never treated as a domain.
const DirectivePrefix = "proxy-"

// NoStreaming disables streaming for the request regardless of body content.
const NoStreaming = "proxy-no-streaming"

// Directives is the ordered set of directive tokens extracted from a path.
// Tokens are opaque; unrecognized ones are accepted and ignored so new
// directives can be introduced without changing the resolver.
type Directives []string

// Has reports whether the directive set contains the given token.
func (d Directives) Has(token string) bool {
	for _, t := range d {
		if t == token {
			return true
		}
	}
	return false
}

// Resolve splits a path like /proxy-no-streaming/api.example.com/v1/chat
// into its directives and the HTTPS target URL. Every segment before the
// first domain-shaped segment (contains a dot, does not start with the
// directive prefix) is a directive; the domain segment and everything
// after it become the target. The query string is not handled here.
//
// ok is false when no segment qualifies as a domain.
func Resolve(path string) (directives Directives, target string, ok bool) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	parts := strings.Split(path[1:], "/")

	domainIndex := -1
	for i, part := range parts {
		if strings.Contains(part, ".") && !strings.HasPrefix(part, DirectivePrefix) {
			domainIndex = i
			break
		}
	}
	if domainIndex < 0 {
		return nil, "", false
	}

	return Directives(parts[:domainIndex]), "https://" + strings.Join(parts[domainIndex:], "/"), true
}
