package webmention

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"
	"go.uber.org/zap"

	"github.com/fedilink/bridge/delivery"
	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/to"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
)

type mentionParams struct {
	Source string `schema:"source"`
	Target string `schema:"target"`
}

// Mention serves POST /webmention: hearing about new or changed content on
// a bridged site, and fanning it out to the fediverse synchronously.
func Mention(env *Env, w http.ResponseWriter, r *http.Request) error {
	req, sender, err := env.prepare(r)
	if err != nil {
		return err
	}
	if req == nil {
		return to.JSON(w, map[string]any{"status": "ignored", "reason": "no targets"})
	}
	result, err := env.Engine.Deliver(r.Context(), req, sender)
	if err != nil {
		return gatewayStatus(err)
	}
	if result == nil {
		return to.JSON(w, map[string]any{"status": "ignored"})
	}
	return to.JSON(w, map[string]any{"status": "complete"})
}

// MentionQueued serves POST /queue/webmention: the same work, accepted for
// asynchronous processing.
func MentionQueued(env *Env, w http.ResponseWriter, r *http.Request) error {
	if env.Queue == nil {
		return httpx.Error(http.StatusNotImplemented, errors.New("no queue configured"))
	}
	req, sender, err := env.prepare(r)
	if err != nil {
		return err
	}
	if req == nil {
		return to.JSON(w, map[string]any{"status": "ignored", "reason": "no targets"})
	}
	if err := env.Queue.Enqueue(r.Context(), req, sender); err != nil {
		return err
	}
	w.WriteHeader(http.StatusAccepted)
	return to.JSON(w, map[string]any{"status": "queued"})
}

// prepare validates the mention, translates the source page, and resolves
// fediverse targets. A nil request with nil error means there is nothing
// to deliver.
func (e *Env) prepare(r *http.Request) (*delivery.Request, delivery.Sender, error) {
	var params mentionParams
	if err := httpx.Params(r, &params); err != nil {
		return nil, nil, httpx.Error(http.StatusBadRequest, err)
	}
	if !models.IsWeb(params.Source) {
		return nil, nil, httpx.Error(http.StatusBadRequest, fmt.Errorf("source %q is not a fully qualified URL", params.Source))
	}

	domain := models.MinimizeDomain(models.DomainOf(params.Source))
	identity, err := e.Identities.GetOrCreate(domain)
	if err != nil {
		return nil, nil, err
	}

	ctx := r.Context()
	page, err := e.fetchPage(ctx, params.Source)
	if err != nil {
		return nil, nil, httpx.Error(http.StatusBadGateway,
			fmt.Errorf("failed to fetch source %s: %w", params.Source, err))
	}

	// A mention of the homepage announces a profile change.
	if identity.IsHomepage(params.Source) {
		return e.prepareProfileUpdate(ctx, identity, params.Source, page)
	}

	if params.Target != "" && !strings.Contains(page, params.Target) {
		return nil, nil, httpx.Error(http.StatusBadRequest,
			fmt.Errorf("source %s has no link to target %s", params.Source, params.Target))
	}

	doc := e.unifiedFromPage(params.Source, page)
	targets, err := e.fediverseTargets(ctx, identity, doc)
	if err != nil {
		return nil, nil, err
	}
	if len(targets) == 0 {
		e.Log().Info("webmention has no fediverse targets", zap.String("source", params.Source))
		return nil, nil, nil
	}

	e.recordFollow(identity, doc)

	req := &delivery.Request{
		ID:             params.Source,
		Encoding:       translate.EncodingMicroformat,
		Payload:        doc,
		Targets:        targets,
		Mutable:        true,
		SourceProtocol: models.ProtocolWebmention,
		Domains:        []string{identity.Domain},
		Labels:         labelsFor(doc),
	}
	return req, &activitySender{env: e, identity: identity, unified: doc}, nil
}

// prepareProfileUpdate renders the homepage's h-card as an actor Update to
// every follower.
func (e *Env) prepareProfileUpdate(ctx context.Context, identity *models.Identity, source, page string) (*delivery.Request, delivery.Sender, error) {
	doc := e.unifiedFromPage(source, page)
	doc["objectType"] = "person"
	delete(doc, "verb")

	if actor, err := e.Translator.Render(translate.EncodingActivity, doc); err == nil {
		identity.Actor = actor
		identity.HasProfile = true
		if err := e.Identities.Save(identity); err != nil {
			return nil, nil, err
		}
	}

	edges, err := e.Followers.ActiveFollowers(identity.Domain)
	if err != nil {
		return nil, nil, err
	}
	targets := make(map[models.Target]map[string]any)
	for _, inbox := range models.Inboxes(edges) {
		targets[models.Target{URI: inbox, Protocol: models.ProtocolActivityPub}] = nil
	}
	if len(targets) == 0 {
		return nil, nil, nil
	}

	req := &delivery.Request{
		ID:             source + "#update-" + identity.Domain,
		Encoding:       translate.EncodingMicroformat,
		Payload:        doc,
		Targets:        targets,
		Mutable:        true,
		SourceProtocol: models.ProtocolWebmention,
		Domains:        []string{identity.Domain},
		Labels:         []string{models.LabelUser},
	}
	return req, &activitySender{env: e, identity: identity, unified: doc, forceUpdate: true}, nil
}

// unifiedFromPage converts the fetched page to a unified document, falling
// back to a bare article when the translator cannot parse it.
func (e *Env) unifiedFromPage(source, page string) map[string]any {
	doc, err := e.Translator.FromHTML(source, []byte(page))
	if err == nil && doc != nil {
		if _, ok := doc["id"]; !ok {
			doc["id"] = source
		}
		return doc
	}
	if !errors.Is(err, translate.ErrUnsupported) {
		e.Log().Warn("source page did not parse", zap.String("source", source), zap.Error(err))
	}
	return map[string]any{
		"id":         source,
		"url":        source,
		"objectType": "article",
	}
}

// recordFollow keeps the follow graph in step when the mentioned page is a
// follow of a fediverse actor.
func (e *Env) recordFollow(identity *models.Identity, doc map[string]any) {
	if verb, _ := doc["verb"].(string); verb != "follow" {
		return
	}
	followee := translate.FirstURL(doc, "object")
	if followee == "" {
		return
	}
	// The bridged side of an edge is keyed by bare domain in both
	// directions, so the following collection can page on it.
	if _, err := e.Followers.GetOrCreate(followee, identity.Domain, models.FollowerActive, nil); err != nil {
		e.Log().Warn("failed to record follow", zap.String("followee", followee), zap.Error(err))
	}
}

func labelsFor(doc map[string]any) []string {
	typ := translate.ObjectType(doc)
	labels := []string{models.LabelActivity}
	switch typ {
	case "like", "share", "follow":
		labels = append(labels, models.LabelNotification)
	default:
		labels = append(labels, models.LabelFeed)
	}
	return labels
}

func (e *Env) fetchPage(ctx context.Context, u string) (string, error) {
	var body string
	err := requests.URL(u).
		Client(&http.Client{Transport: e.Transport}).
		CheckStatus(http.StatusOK).
		ToString(&body).
		Fetch(ctx)
	return body, err
}

func gatewayStatus(err error) error {
	var ge *delivery.GatewayError
	if errors.As(err, &ge) {
		if ge.Timeout {
			return httpx.Error(http.StatusGatewayTimeout, err)
		}
		return httpx.Error(http.StatusBadGateway, err)
	}
	var re *delivery.RemoteError
	if errors.As(err, &re) {
		return httpx.Error(re.StatusCode, err)
	}
	return err
}
