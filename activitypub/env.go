// package activitypub is the fediverse-facing side of the bridge: it
// accepts signed activities on per-domain and shared inboxes, serves
// follower collections, and pushes bridged activity back out as
// webmentions.
package activitypub

import (
	"fmt"
	"net/http"

	"github.com/fedilink/bridge/delivery"
	apclient "github.com/fedilink/bridge/internal/activitypub"
	"github.com/fedilink/bridge/internal/cache"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/internal/webmention"
	"github.com/fedilink/bridge/models"
)

const (
	actorCacheSize  = 256
	seenIDCacheSize = 4096
)

// Env carries the inbox's dependencies. One Env serves all requests; its
// caches are shared across them.
type Env struct {
	*models.Env
	Host       string
	Translator translate.Translator
	Identities *models.Identities
	Items      *models.Items
	Followers  *models.Followers
	Engine     *delivery.Engine

	// Transport underlies all outbound requests. Tests swap it out.
	Transport http.RoundTripper

	actors  *cache.Cache[string, map[string]any]
	seenIDs *cache.Cache[string, bool]
}

func NewEnv(base *models.Env, host string, translator translate.Translator) *Env {
	env := &Env{
		Env:        base,
		Host:       host,
		Translator: translator,
		Identities: models.NewIdentities(base.DB),
		Followers:  models.NewFollowers(base.DB),
		actors:     cache.New[string, map[string]any](actorCacheSize),
		seenIDs:    cache.New[string, bool](seenIDCacheSize),
	}
	env.Items = models.NewItems(base.DB, translator, nil, base.Log())
	env.Engine = delivery.NewEngine(env.Items, translator, base.Log())
	return env
}

// client returns a signed fediverse client for the given identity.
func (e *Env) client(identity *models.Identity) (*apclient.Client, error) {
	key, err := identity.Keypair().PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity %s has an unusable key: %w", identity.Domain, err)
	}
	keyID := fmt.Sprintf("https://%s/%s", e.Host, identity.Domain)
	return apclient.NewClient(keyID, key, e.Transport), nil
}

// systemClient returns a client signing as the bridge's own identity, for
// fetches not tied to a bridged domain.
func (e *Env) systemClient() (*apclient.Client, error) {
	identity, err := e.Identities.GetOrCreate(e.Host)
	if err != nil {
		return nil, err
	}
	return e.client(identity)
}

// webmentions returns the webmention client used for outbound mentions.
func (e *Env) webmentions() *webmention.Client {
	return webmention.NewClient(e.Transport)
}
