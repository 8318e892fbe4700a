package activitypub

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/to"
	"github.com/fedilink/bridge/models"
)

// ActorDocument serves GET /{domain}: the AS2 actor the bridge publishes
// for a bridged site. Signature verifiers fetch this to find the key the
// bridge signs with.
func ActorDocument(env *Env, w http.ResponseWriter, r *http.Request) error {
	domain := chi.URLParam(r, "domain")
	if models.BlockedTLD(domain) {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("%s is not a bridgeable domain", domain))
	}
	identity, err := env.Identities.Find(domain)
	if err != nil {
		return err
	}
	if identity == nil {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("no bridged identity for %s", domain))
	}

	id := fmt.Sprintf("https://%s/%s", env.Host, identity.Domain)
	pem, err := identity.Keypair().PublicPEM()
	if err != nil {
		return err
	}

	actor := map[string]any{
		"@context":          "https://www.w3.org/ns/activitystreams",
		"type":              "Person",
		"id":                id,
		"url":               identity.Homepage(),
		"preferredUsername": identity.Domain,
		"inbox":             id + "/inbox",
		"outbox":            id + "/outbox",
		"following":         id + "/following",
		"followers":         id + "/followers",
		"endpoints": map[string]any{
			"sharedInbox": fmt.Sprintf("https://%s/inbox", env.Host),
		},
		"publicKey": map[string]any{
			"id":           id,
			"owner":        id,
			"publicKeyPem": string(pem),
		},
	}
	// Profile fields discovered during verification enrich the actor.
	for k, v := range identity.Actor {
		if _, taken := actor[k]; !taken {
			actor[k] = v
		}
	}

	w.Header().Set("Content-Type", "application/activity+json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	return to.JSON(w, actor)
}
