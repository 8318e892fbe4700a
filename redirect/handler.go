package redirect

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/to"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
)

// Env carries the redirect endpoint's dependencies.
type Env struct {
	*models.Env
	Host       string
	Identities *models.Identities
	Items      *models.Items
	Translator translate.Translator
}

// Content types the endpoint negotiates between. HTML wins ties, so plain
// browsers always get the redirect.
var offeredTypes = []string{
	"text/html",
	"application/activity+json",
	`application/ld+json; profile="https://www.w3.org/ns/activitystreams"`,
}

// Proxies and URL normalisers routinely collapse the double slash after
// the scheme inside the /r/ path.
var collapsedScheme = regexp.MustCompile(`^(https?:/)([^/])`)

// Handler serves GET /r/*: a connegotiated view of a wrapped URL. AS2
// requests for a known, non-deleted bridged object get the translated
// document; everything else gets a permanent redirect to the real URL.
func Handler(env *Env, w http.ResponseWriter, r *http.Request) error {
	target := strings.TrimPrefix(r.URL.Path, Prefix)
	target = collapsedScheme.ReplaceAllString(target, "${1}/${2}")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return httpError(http.StatusBadRequest, "redirects require a fully qualified URL, got %q", target)
	}

	// Open redirect guard: only URLs on domains with a bridged identity
	// may pass through. The raw host form keeps any explicit port.
	domain := models.DomainOf(target)
	identity, err := env.Identities.FindAny(models.MinimizeDomain(domain), domain, rawHost(target))
	if err != nil {
		return err
	}
	if identity == nil {
		return httpError(http.StatusNotFound, "no bridged identity for domain %s", domain)
	}

	if wantsActivity(r.Header.Get("Accept")) {
		item, err := env.Items.Cached(target)
		if err != nil {
			return err
		}
		if item != nil && !item.Deleted {
			if doc := translated(env, item); doc != nil {
				env.Log().Info("serving bridged object",
					zap.String("url", target),
					zap.String("domain", domain),
				)
				w.Header().Set("Content-Type", "application/activity+json")
				w.Header().Set("Access-Control-Allow-Origin", "*")
				return to.JSON(w, doc)
			}
		}
	}

	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusMovedPermanently)
	return nil
}

func translated(env *Env, item *models.Item) map[string]any {
	unified, err := item.Unified(env.Translator)
	if err != nil || unified == nil {
		return nil
	}
	doc, err := env.Translator.Render(translate.EncodingActivity, unified)
	if err != nil {
		return nil
	}
	if _, ok := doc["@context"]; !ok {
		doc["@context"] = "https://www.w3.org/ns/activitystreams"
	}
	return doc
}

// wantsActivity reports whether the Accept header prefers an AS2 media
// type over HTML.
func wantsActivity(accept string) bool {
	if accept == "" {
		return false
	}
	type choice struct {
		mediaType string
		q         float64
		pos       int
	}
	var choices []choice
	for pos, part := range strings.Split(accept, ",") {
		mt, params, found := strings.Cut(strings.TrimSpace(part), ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
		q := 1.0
		if found {
			for _, p := range strings.Split(params, ";") {
				k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
				if strings.TrimSpace(k) == "q" {
					if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
						q = parsed
					}
				}
			}
		}
		choices = append(choices, choice{mt, q, pos})
	}
	sort.SliceStable(choices, func(i, j int) bool { return choices[i].q > choices[j].q })

	for _, c := range choices {
		for _, offered := range offeredTypes {
			base, _, _ := strings.Cut(offered, ";")
			base = strings.TrimSpace(base)
			if c.mediaType == base || matchesWildcard(c.mediaType, base) {
				return base != "text/html"
			}
		}
	}
	return false
}

func matchesWildcard(pattern, mediaType string) bool {
	if pattern == "*/*" {
		return true
	}
	if major, minor, ok := strings.Cut(pattern, "/"); ok && minor == "*" {
		return strings.HasPrefix(mediaType, major+"/")
	}
	return false
}

func rawHost(target string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Host)
	if host == strings.ToLower(parsed.Hostname()) {
		// No port; already covered by the domain forms.
		return ""
	}
	return host
}

func httpError(code int, format string, args ...any) error {
	return httpx.Error(code, fmt.Errorf(format, args...))
}
