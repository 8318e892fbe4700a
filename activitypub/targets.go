package activitypub

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fedilink/bridge/internal/algorithms"
	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
	"github.com/fedilink/bridge/redirect"
)

// webTargets resolves the web pages an inbound activity should be mentioned
// on: the replied-to pages for content, the mentioned pages, and the liked
// or shared page for reactions.
func (e *Env) webTargets(activity, subject map[string]any, verb string) (map[models.Target]map[string]any, error) {
	var candidates []string
	switch verb {
	case "Like", "Announce":
		candidates = translate.URLs(activity, "object")
	default:
		candidates = translate.URLs(subject, "inReplyTo")
		candidates = append(candidates, mentionTargets(subject)...)
	}

	candidates = algorithms.Map(candidates, func(u string) string {
		return redirect.Unwrap(e.Host, u)
	})
	candidates = algorithms.Dedupe(algorithms.Filter(candidates, models.IsWeb))

	blocked := 0
	targets := make(map[models.Target]map[string]any)
	for _, u := range candidates {
		if models.Blocklisted(u) {
			blocked++
			continue
		}
		// Pages on the bridge itself are not mention targets.
		if models.DomainOf(u) == strings.ToLower(e.Host) {
			continue
		}
		targets[models.Target{URI: u, Protocol: models.ProtocolWebmention}] = nil
	}
	if len(targets) == 0 && blocked > 0 {
		return nil, httpx.Error(http.StatusNotImplemented,
			fmt.Errorf("bridging to silo domains is not yet supported"))
	}
	return targets, nil
}

// mentionTargets returns the hrefs of the subject's Mention tags.
func mentionTargets(subject map[string]any) []string {
	var urls []string
	for _, v := range translate.Values(subject, "tag") {
		tag, ok := v.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := tag["type"].(string)
		if typ == "" {
			typ, _ = tag["objectType"].(string)
		}
		if !strings.EqualFold(typ, "mention") {
			continue
		}
		if href, _ := tag["href"].(string); href != "" {
			urls = append(urls, href)
		}
	}
	return urls
}
