package activitypub

import (
	"github.com/fedilink/bridge/delivery"
	"github.com/fedilink/bridge/models"
	"github.com/fedilink/bridge/redirect"
)

// ResumeRequest rebuilds the delivery request for an unsettled inbound
// activity. The targets still owed are already persisted on the item, so
// the rebuilt request carries none of its own.
func (e *Env) ResumeRequest(item *models.Item) (*delivery.Request, delivery.Sender, error) {
	enc, payload := item.Encoding()
	req := &delivery.Request{
		ID:             item.URI,
		Encoding:       enc,
		Payload:        payload,
		Targets:        map[models.Target]map[string]any{},
		SourceProtocol: item.SourceProtocol,
		Domains:        item.Domains,
		Labels:         item.Labels,
		Deleted:        item.Deleted,
	}

	source := item.URI
	if unified, err := item.Unified(e.Translator); err == nil && unified != nil {
		subject := unified
		if inner, ok := unified["object"].(map[string]any); ok {
			subject = inner
		}
		if u := subjectURL(subject); u != "" {
			source = u
		}
	}
	return req, &webmentionSender{env: e, source: redirect.Wrap(e.Host, source)}, nil
}
