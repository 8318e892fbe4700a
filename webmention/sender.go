package webmention

import (
	"context"
	"fmt"

	"github.com/fedilink/bridge/delivery"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
)

// activitySender delivers one unified document to fediverse inboxes as a
// signed AS2 activity.
type activitySender struct {
	env      *Env
	identity *models.Identity
	unified  map[string]any

	// forceUpdate renders every delivery as an Update, used for profile
	// pushes.
	forceUpdate bool
}

var _ delivery.Sender = (*activitySender)(nil)

func (s *activitySender) Send(ctx context.Context, target models.Target, _ map[string]any, update bool) (*delivery.Result, error) {
	doc, err := s.env.Translator.Render(translate.EncodingActivity, s.unified)
	if err != nil {
		// Rendering failures are permanent; no point retrying per target.
		return nil, fmt.Errorf("cannot render activity: %w", err)
	}
	activity := s.env.postprocess(s.identity, doc, update || s.forceUpdate)

	client, err := s.env.client(s.identity)
	if err != nil {
		return nil, err
	}
	code, body, err := client.Post(ctx, target.URI, activity)
	if err != nil {
		return nil, delivery.ClassifyErr(target.URI, code, err)
	}
	return &delivery.Result{StatusCode: code, Body: body}, nil
}
