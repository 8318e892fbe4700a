package webmention

import (
	"fmt"

	"github.com/fedilink/bridge/delivery"
	"github.com/fedilink/bridge/models"
)

// ResumeRequest rebuilds the delivery request for an unsettled outbound
// mention from its persisted state.
func (e *Env) ResumeRequest(item *models.Item) (*delivery.Request, delivery.Sender, error) {
	if len(item.Domains) == 0 {
		return nil, nil, fmt.Errorf("item %s names no source domain", item.URI)
	}
	identity, err := e.Identities.Find(item.Domains[0])
	if err != nil {
		return nil, nil, err
	}
	if identity == nil {
		return nil, nil, fmt.Errorf("no bridged identity for %s", item.Domains[0])
	}
	unified, err := item.Unified(e.Translator)
	if err != nil {
		return nil, nil, err
	}

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
	sender := &activitySender{
		env:         e,
		identity:    identity,
		unified:     unified,
		forceUpdate: item.HasLabel(models.LabelUser),
	}
	return req, sender, nil
}
