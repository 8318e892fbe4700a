package webmention

import (
	"context"

	"go.uber.org/zap"

	"github.com/fedilink/bridge/internal/algorithms"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
	"github.com/fedilink/bridge/redirect"
)

// fediverseTargets resolves the inboxes an outbound activity should reach:
// the inboxes of the actors behind every replied-to, mentioned, liked or
// followed fediverse resource, or the identity's followers when the page
// addresses no one in particular.
func (e *Env) fediverseTargets(ctx context.Context, identity *models.Identity, doc map[string]any) (map[models.Target]map[string]any, error) {
	candidates := translate.URLs(doc, "inReplyTo")
	candidates = append(candidates, translate.URLs(doc, "object")...)
	candidates = append(candidates, mentionedURLs(doc)...)
	candidates = algorithms.Map(candidates, func(u string) string {
		return redirect.Unwrap(e.Host, u)
	})
	candidates = algorithms.Dedupe(algorithms.Filter(candidates, models.IsWeb))

	targets := make(map[models.Target]map[string]any)
	for _, u := range candidates {
		// Mentions of the site's own pages resolve nowhere in the fediverse.
		if models.MinimizeDomain(models.DomainOf(u)) == identity.Domain {
			continue
		}
		inbox, obj := e.resolveInbox(ctx, identity, u)
		if inbox == "" {
			continue
		}
		targets[models.Target{URI: inbox, Protocol: models.ProtocolActivityPub}] = map[string]any{"object": obj}
	}
	if len(targets) > 0 {
		return targets, nil
	}

	// Nothing addressed directly; a plain post goes to the followers.
	switch translate.ObjectType(doc) {
	case "post", "update", "article", "note", "":
		edges, err := e.Followers.ActiveFollowers(identity.Domain)
		if err != nil {
			return nil, err
		}
		for _, inbox := range models.Inboxes(edges) {
			targets[models.Target{URI: inbox, Protocol: models.ProtocolActivityPub}] = nil
		}
	}
	return targets, nil
}

// resolveInbox fetches u as an activity document and finds the inbox that
// serves it: the resource's own inbox if it is an actor, otherwise its
// author's.
func (e *Env) resolveInbox(ctx context.Context, identity *models.Identity, u string) (string, map[string]any) {
	client, err := e.client(identity)
	if err != nil {
		e.Log().Warn("identity key unusable", zap.String("domain", identity.Domain), zap.Error(err))
		return "", nil
	}
	obj, err := client.Get(ctx, u)
	if err != nil {
		e.Log().Debug("target is not a fediverse resource", zap.String("url", u), zap.Error(err))
		return "", nil
	}
	if inbox, _ := obj["inbox"].(string); inbox != "" {
		return inbox, obj
	}
	author := translate.FirstURL(obj, "attributedTo")
	if author == "" {
		author = translate.FirstURL(obj, "actor")
	}
	if author == "" {
		return "", nil
	}
	actor, err := client.Get(ctx, author)
	if err != nil {
		e.Log().Debug("author fetch failed", zap.String("url", author), zap.Error(err))
		return "", nil
	}
	inbox, _ := actor["inbox"].(string)
	return inbox, obj
}

func mentionedURLs(doc map[string]any) []string {
	var urls []string
	for _, v := range translate.Values(doc, "tag") {
		tag, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if typ, _ := tag["objectType"].(string); typ == "mention" {
			if u := translate.FirstURL(tag, "url"); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}
