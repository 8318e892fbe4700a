package activitypub

import (
	"context"
	stdcrypto "crypto"
	"fmt"
	"strings"

	"github.com/fedilink/bridge/internal/crypto"
	"github.com/fedilink/bridge/redirect"
)

// Actor fetches the actor document at id, through the process-local cache.
func (e *Env) Actor(ctx context.Context, id string) (map[string]any, error) {
	id = redirect.Unwrap(e.Host, id)
	if actor, ok := e.actors.Get(id); ok {
		return actor, nil
	}
	client, err := e.systemClient()
	if err != nil {
		return nil, err
	}
	actor, err := client.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch actor %s: %w", id, err)
	}
	e.actors.Put(id, actor)
	return actor, nil
}

// publicKeyFor resolves a signature keyId to the RSA public key published
// in the owning actor's document. The fragment is dropped before fetching;
// most servers key their actors that way.
func (e *Env) publicKeyFor(ctx context.Context) func(keyID string) (stdcrypto.PublicKey, error) {
	return func(keyID string) (stdcrypto.PublicKey, error) {
		id, _, _ := strings.Cut(keyID, "#")
		actor, err := e.Actor(ctx, id)
		if err != nil {
			return nil, err
		}
		pem := publicKeyPEM(actor)
		if pem == "" {
			return nil, fmt.Errorf("actor %s publishes no public key", id)
		}
		return crypto.ParseRSAPublicKey([]byte(pem))
	}
}

func publicKeyPEM(actor map[string]any) string {
	switch pk := actor["publicKey"].(type) {
	case map[string]any:
		pem, _ := pk["publicKeyPem"].(string)
		return pem
	case []any:
		for _, v := range pk {
			if m, ok := v.(map[string]any); ok {
				if pem, _ := m["publicKeyPem"].(string); pem != "" {
					return pem
				}
			}
		}
	}
	return ""
}
