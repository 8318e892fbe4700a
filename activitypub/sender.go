package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/carlmjohnson/requests"

	"github.com/fedilink/bridge/delivery"
	"github.com/fedilink/bridge/models"
)

// webmentionSender delivers one activity to web targets by discovering
// each target's webmention endpoint and posting source/target to it.
type webmentionSender struct {
	env    *Env
	source string
}

var _ delivery.Sender = (*webmentionSender)(nil)

func (s *webmentionSender) Send(ctx context.Context, target models.Target, _ map[string]any, _ bool) (*delivery.Result, error) {
	client := s.env.webmentions()

	endpoint, err := client.Discover(ctx, target.URI)
	if err != nil {
		if errors.Is(err, requests.ErrValidator) {
			// The page answered; its refusal is its own, not a gateway
			// failure.
			return nil, fmt.Errorf("cannot fetch %s: %w", target.URI, err)
		}
		return nil, &delivery.GatewayError{Target: target.URI, Timeout: delivery.IsTimeout(err), Err: err}
	}
	if endpoint == "" {
		// The page does not take webmentions; not a failure.
		return nil, nil
	}

	code, body, err := client.Send(ctx, endpoint, s.source, target.URI)
	if err != nil {
		return nil, delivery.ClassifyErr(target.URI, code, err)
	}
	return &delivery.Result{StatusCode: code, Body: body}, nil
}
