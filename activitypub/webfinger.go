package activitypub

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/to"
	"github.com/fedilink/bridge/models"
)

// Webfinger serves GET /.well-known/webfinger for bridged identities.
// Both acct:domain@bridge and acct:domain@domain resolve; the latter is
// what sites redirecting their own webfinger here produce.
func Webfinger(env *Env, w http.ResponseWriter, r *http.Request) error {
	var params struct {
		Resource string `schema:"resource"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}

	domain := webfingerDomain(params.Resource, env.Host)
	if domain == "" {
		return httpx.Error(http.StatusBadRequest, fmt.Errorf("unresolvable resource %q", params.Resource))
	}
	if models.BlockedTLD(domain) {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("%s is not a bridgeable domain", domain))
	}
	identity, err := env.Identities.Find(models.MinimizeDomain(domain))
	if err != nil {
		return err
	}
	if identity == nil {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("no bridged identity for %s", domain))
	}

	id := fmt.Sprintf("https://%s/%s", env.Host, identity.Domain)
	w.Header().Set("Content-Type", "application/jrd+json")
	return to.JSON(w, map[string]any{
		"subject": fmt.Sprintf("acct:%s@%s", identity.Domain, env.Host),
		"aliases": []string{identity.Homepage(), id},
		"links": []map[string]any{
			{
				"rel":  "http://webfinger.net/rel/profile-page",
				"type": "text/html",
				"href": identity.Homepage(),
			},
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": id,
			},
		},
	})
}

// webfingerDomain extracts the bridged domain from an acct: or https:
// resource.
func webfingerDomain(resource, host string) string {
	if u := strings.TrimPrefix(resource, "https://"); u != resource {
		u, _, _ = strings.Cut(u, "/")
		return u
	}
	acct := strings.TrimPrefix(resource, "acct:")
	user, hostPart, ok := strings.Cut(acct, "@")
	if !ok {
		return ""
	}
	switch {
	case hostPart == host, hostPart == user:
		return user
	case strings.Contains(user, "."):
		return user
	default:
		return ""
	}
}
