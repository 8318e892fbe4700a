// package redirect wraps and unwraps bridged object URLs behind the
// bridge's /r/ endpoint, so fediverse fetches of bridged objects pass
// through the bridge and can be answered with translated documents.
package redirect

import (
	"strings"
)

// Prefix is the path prefix of the redirect endpoint.
const Prefix = "/r/"

// Wrap rewrites u to pass through the bridge's redirect endpoint. Already
// wrapped URLs and URLs on the bridge itself are returned untouched, as
// are non-web identifiers.
func Wrap(host, u string) string {
	if u == "" || !isWeb(u) {
		return u
	}
	base := "https://" + host
	if u == base || strings.HasPrefix(u, base+"/") {
		return u
	}
	return base + Prefix + u
}

// WrapQuery is Wrap with an explicit query string appended to the wrapped
// form. The /r/ handler carries the query back onto the unwrapped URL.
func WrapQuery(host, u, query string) string {
	wrapped := Wrap(host, u)
	if query != "" {
		wrapped += "?" + query
	}
	return wrapped
}

// Unwrap reverses Wrap recursively. Wrapped URLs lose their /r/ prefix;
// bridge-rooted per-domain paths like https://<host>/<domain>/... become
// https://<domain>/.... Everything else passes through unchanged.
func Unwrap(host, u string) string {
	base := "https://" + host
	if strings.HasPrefix(u, base+Prefix) {
		return Unwrap(host, strings.TrimPrefix(u, base+Prefix))
	}
	if rest, ok := strings.CutPrefix(u, base+"/"); ok && rest != "" {
		domain, path, _ := strings.Cut(rest, "/")
		if strings.Contains(domain, ".") {
			unwrapped := "https://" + domain + "/"
			if path != "" {
				unwrapped += path
			}
			return unwrapped
		}
	}
	return u
}

// UnwrapDoc unwraps every id and url field in an AS2 document, recursing
// into nested objects.
func UnwrapDoc(host string, doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = unwrapValue(host, k, v)
	}
	return out
}

func unwrapValue(host, key string, v any) any {
	switch v := v.(type) {
	case string:
		if key == "id" || key == "url" || key == "inReplyTo" || key == "object" || key == "actor" || key == "href" {
			return Unwrap(host, v)
		}
		return v
	case map[string]any:
		return UnwrapDoc(host, v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = unwrapValue(host, key, item)
		}
		return out
	default:
		return v
	}
}

func isWeb(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
