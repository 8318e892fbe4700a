package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fedilink/bridge/delivery"
	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/to"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
	"github.com/fedilink/bridge/redirect"
)

// handleFollow records the follower edge, sends the follower an Accept,
// and notifies the followed site's homepage with a webmention.
func (e *Env) handleFollow(w http.ResponseWriter, r *http.Request, activity map[string]any) error {
	ctx := r.Context()
	followee := translate.FirstURL(activity, "object")
	if followee == "" {
		return httpx.Error(http.StatusBadRequest, errors.New("follow has no object"))
	}
	domain := models.MinimizeDomain(models.DomainOf(followee))
	identity, err := e.Identities.Find(domain)
	if err != nil {
		return err
	}
	if identity == nil {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("no bridged identity for %s", domain))
	}

	src := actorID(activity)
	if src == "" {
		return httpx.Error(http.StatusBadRequest, errors.New("follow has no actor"))
	}
	// Store the full actor so the inbox survives in last_follow.
	actor, err := e.Actor(ctx, src)
	if err != nil {
		return gatewayStatus(err)
	}
	stored := make(map[string]any, len(activity))
	for k, v := range activity {
		stored[k] = v
	}
	stored["actor"] = actor

	if _, err := e.Followers.GetOrCreate(identity.Domain, src, models.FollowerActive, stored); err != nil {
		return err
	}
	e.Log().Info("recorded follower",
		zap.String("dest", identity.Domain),
		zap.String("src", src),
	)

	if err := e.sendAccept(ctx, identity, activity, actor); err != nil {
		e.Log().Warn("failed to send accept", zap.String("src", src), zap.Error(err))
	}

	// The site itself learns of the follow through a webmention on its
	// homepage.
	followID, _ := activity["id"].(string)
	target := models.Target{URI: identity.Homepage(), Protocol: models.ProtocolWebmention}
	req := &delivery.Request{
		ID:             followID,
		Encoding:       translate.EncodingActivity,
		Payload:        activity,
		Targets:        map[models.Target]map[string]any{target: nil},
		SourceProtocol: models.ProtocolActivityPub,
		Domains:        []string{identity.Domain},
		Labels:         []string{models.LabelActivity, models.LabelNotification},
	}
	source := redirect.Wrap(e.Host, followID)
	if _, err := e.Engine.Deliver(ctx, req, &webmentionSender{env: e, source: source}); err != nil {
		e.Log().Warn("homepage webmention failed",
			zap.String("dest", identity.Domain),
			zap.Error(err),
		)
	}
	return to.JSON(w, map[string]any{"status": "OK"})
}

// sendAccept posts the synthesized Accept back to the follower's inbox.
func (e *Env) sendAccept(ctx context.Context, identity *models.Identity, follow, actor map[string]any) error {
	inbox, _ := actor["inbox"].(string)
	if inbox == "" {
		return errors.New("actor publishes no inbox")
	}
	followID, _ := follow["id"].(string)
	accept := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("tag:%s:accept/%s/%s", e.Host, identity.Domain, followID),
		"type":     "Accept",
		"actor":    fmt.Sprintf("https://%s/%s", e.Host, identity.Domain),
		"object":   follow,
	}
	client, err := e.client(identity)
	if err != nil {
		return err
	}
	code, _, err := client.Post(ctx, inbox, accept)
	if err != nil {
		return fmt.Errorf("accept delivery to %s failed with status %d: %w", inbox, code, err)
	}
	return nil
}

// handleUndo deactivates the follower edge named by an undone Follow.
// Other undos are acknowledged without action.
func (e *Env) handleUndo(w http.ResponseWriter, r *http.Request, activity map[string]any) error {
	inner, ok := activity["object"].(map[string]any)
	if !ok {
		return to.JSON(w, map[string]any{"status": "ignored"})
	}
	if typ, _ := inner["type"].(string); typ != "Follow" {
		return to.JSON(w, map[string]any{"status": "ignored"})
	}
	followee := translate.FirstURL(inner, "object")
	domain := models.MinimizeDomain(models.DomainOf(followee))
	src := actorID(activity)
	if src == "" {
		src = actorID(inner)
	}
	if domain == "" || src == "" {
		return httpx.Error(http.StatusBadRequest, errors.New("undone follow names no edge"))
	}
	if err := e.Followers.Deactivate(domain, src); err != nil {
		return err
	}
	e.Log().Info("deactivated follower", zap.String("dest", domain), zap.String("src", src))
	return to.JSON(w, map[string]any{"status": "OK"})
}

// handleDelete handles actor deletions by deactivating every edge the
// actor touches, and object deletions by tombstoning the stored item.
func (e *Env) handleDelete(w http.ResponseWriter, r *http.Request, activity map[string]any) error {
	objectID := translate.FirstURL(activity, "object")
	if objectID == "" {
		return httpx.Error(http.StatusBadRequest, errors.New("delete has no object"))
	}

	if objectID == actorID(activity) {
		e.actors.Remove(objectID)
		if err := e.Followers.DeactivateActor(objectID); err != nil {
			return err
		}
		e.Log().Info("deactivated deleted actor", zap.String("actor", objectID))
		return to.JSON(w, map[string]any{"status": "OK"})
	}

	item, err := e.Items.Get(objectID)
	if err != nil {
		return err
	}
	if item != nil && !item.Deleted {
		item.Deleted = true
		if err := e.Items.Put(item); err != nil {
			return err
		}
	}
	return to.JSON(w, map[string]any{"status": "OK"})
}
