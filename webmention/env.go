// package webmention is the web-facing side of the bridge: it accepts
// webmentions from bridged sites and translates them into activities
// delivered to fediverse inboxes.
package webmention

import (
	"net/http"

	"github.com/fedilink/bridge/delivery"
	apclient "github.com/fedilink/bridge/internal/activitypub"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
)

// Env carries the webmention endpoint's dependencies.
type Env struct {
	*models.Env
	Host       string
	Translator translate.Translator
	Identities *models.Identities
	Items      *models.Items
	Followers  *models.Followers
	Engine     *delivery.Engine

	// Queue, when set, backs the asynchronous endpoint.
	Queue delivery.Enqueuer

	// Transport underlies all outbound requests. Tests swap it out.
	Transport http.RoundTripper
}

func NewEnv(base *models.Env, host string, translator translate.Translator) *Env {
	env := &Env{
		Env:        base,
		Host:       host,
		Translator: translator,
		Identities: models.NewIdentities(base.DB),
		Followers:  models.NewFollowers(base.DB),
	}
	env.Items = models.NewItems(base.DB, translator, nil, base.Log())
	env.Engine = delivery.NewEngine(env.Items, translator, base.Log())
	return env
}

// client returns a fediverse client signing as the identity.
func (e *Env) client(identity *models.Identity) (*apclient.Client, error) {
	key, err := identity.Keypair().PrivateKey()
	if err != nil {
		return nil, err
	}
	keyID := "https://" + e.Host + "/" + identity.Domain
	return apclient.NewClient(keyID, key, e.Transport), nil
}
