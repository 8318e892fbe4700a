package activitypub

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"go.uber.org/zap"

	"github.com/fedilink/bridge/delivery"
	"github.com/fedilink/bridge/internal/httpsig"
	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/to"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
	"github.com/fedilink/bridge/redirect"
)

// Inbox accepts one signed activity, POSTed to either the shared inbox or
// a per-domain inbox. Processing is synchronous; the response reports the
// delivery outcome.
func Inbox(env *Env, w http.ResponseWriter, r *http.Request) error {
	// Per-domain inboxes only exist for bridged identities.
	if domain := chi.URLParam(r, "domain"); domain != "" {
		identity, err := env.Identities.Find(models.MinimizeDomain(domain))
		if err != nil {
			return err
		}
		if identity == nil {
			return httpx.Error(http.StatusNotFound, fmt.Errorf("no bridged identity for %s", domain))
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	if err := httpsig.Verify(r, body, env.publicKeyFor(r.Context())); err != nil {
		var sigErr *httpsig.Error
		if errors.As(err, &sigErr) {
			return httpx.Error(http.StatusUnauthorized, sigErr)
		}
		return httpx.Error(http.StatusUnauthorized, err)
	}

	var activity map[string]any
	if err := json.Unmarshal(body, &activity); err != nil {
		return httpx.Error(http.StatusBadRequest, fmt.Errorf("request body is not a JSON object: %w", err))
	}
	id, _ := activity["id"].(string)
	if id == "" {
		return httpx.Error(http.StatusBadRequest, errors.New("activity has no id"))
	}

	// At-least-once senders retry; duplicates are acknowledged, not
	// reprocessed.
	if _, ok := env.seenIDs.Get(id); ok {
		return to.JSON(w, map[string]any{"status": "already seen"})
	}
	if item, err := env.Items.Get(id); err != nil {
		return err
	} else if item != nil && item.Status == models.StatusComplete {
		env.seenIDs.Put(id, true)
		return to.JSON(w, map[string]any{"status": "already handled"})
	}
	env.seenIDs.Put(id, true)

	activity = redirect.UnwrapDoc(env.Host, activity)
	verb, _ := activity["type"].(string)
	actor := actorID(activity)
	env.Log().Info("received activity",
		zap.String("id", id),
		zap.String("type", verb),
		zap.String("actor", actor),
	)

	switch verb {
	case "Follow":
		return env.handleFollow(w, r, activity)
	case "Undo":
		return env.handleUndo(w, r, activity)
	case "Delete":
		return env.handleDelete(w, r, activity)
	case "Accept":
		// Accepts of our own follows need no action; record and move on.
		env.Log().Info("follow accepted", zap.String("id", id), zap.String("actor", actor))
		return to.JSON(w, map[string]any{"status": "OK"})
	case "Create", "Update", "Like", "Announce":
		return env.handleContent(w, r, activity, verb)
	default:
		if bareObjectTypes[verb] {
			return env.handleContent(w, r, activity, verb)
		}
		return httpx.Error(http.StatusNotImplemented, fmt.Errorf("activity type %q is not supported", verb))
	}
}

// bareObjectTypes are content objects that arrive without an activity
// wrapper. The object is its own mention subject.
var bareObjectTypes = map[string]bool{
	"Note":     true,
	"Article":  true,
	"Page":     true,
	"Image":    true,
	"Video":    true,
	"Audio":    true,
	"Event":    true,
	"Question": true,
}

// handleContent bridges a content activity to its web targets as
// webmentions.
func (e *Env) handleContent(w http.ResponseWriter, r *http.Request, activity map[string]any, verb string) error {
	// Create and Update address the inner object's conversation; Like and
	// Announce address the liked or shared page, with the activity itself
	// as the mention source.
	subject := activity
	if verb == "Create" || verb == "Update" {
		if inner, ok := activity["object"].(map[string]any); ok {
			subject = inner
		}
	}

	targets, err := e.webTargets(activity, subject, verb)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		e.Log().Info("activity has no web targets", zap.String("id", activity["id"].(string)))
		return to.JSON(w, map[string]any{"status": "ignored", "reason": "no targets"})
	}

	source := redirect.Wrap(e.Host, subjectURL(subject))
	id, _ := activity["id"].(string)
	req := &delivery.Request{
		ID:             id,
		Encoding:       translate.EncodingActivity,
		Payload:        activity,
		Targets:        targets,
		Mutable:        verb == "Create" || verb == "Update" || bareObjectTypes[verb],
		SourceProtocol: models.ProtocolActivityPub,
		Domains:        targetDomains(targets),
		Labels:         contentLabels(verb),
	}
	result, err := e.Engine.Deliver(r.Context(), req, &webmentionSender{env: e, source: source})
	if err != nil {
		return gatewayStatus(err)
	}
	if result == nil {
		return to.JSON(w, map[string]any{"status": "ignored"})
	}
	return to.JSON(w, map[string]any{"status": "complete"})
}

// gatewayStatus maps a delivery failure to the response status: upstream
// timeouts are 504, unreachable upstreams 502, and a status the remote
// itself answered with passes through.
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

func contentLabels(verb string) []string {
	labels := []string{models.LabelActivity}
	switch verb {
	case "Like", "Announce":
		labels = append(labels, models.LabelNotification)
	default:
		labels = append(labels, models.LabelFeed)
	}
	return labels
}

func targetDomains(targets map[models.Target]map[string]any) []string {
	var domains []string
	seen := make(map[string]bool)
	for t := range targets {
		d := models.DomainOf(t.URI)
		if d != "" && !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}
	return domains
}

func actorID(activity map[string]any) string {
	switch actor := activity["actor"].(type) {
	case string:
		return actor
	case map[string]any:
		id, _ := actor["id"].(string)
		return id
	}
	return ""
}

// subjectURL prefers the subject's own url over its id; the id is often a
// fediverse-internal URI while the url is the page to cite.
func subjectURL(subject map[string]any) string {
	if u := translate.FirstURL(subject, "url"); u != "" {
		return u
	}
	id, _ := subject["id"].(string)
	return id
}
