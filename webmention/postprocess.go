package webmention

import (
	"time"

	"github.com/fedilink/bridge/models"
	"github.com/fedilink/bridge/redirect"
)

const publicAudience = "https://www.w3.org/ns/activitystreams#Public"

var activityVerbs = map[string]bool{
	"Create": true, "Update": true, "Delete": true, "Follow": true,
	"Accept": true, "Undo": true, "Like": true, "Announce": true,
}

// postprocess prepares a rendered AS2 document for delivery: ids and urls
// are wrapped through the redirect endpoint so fetches come back to the
// bridge, the bridged actor is filled in, the public audience is added,
// and bare objects are wrapped in a Create. With update set the activity
// is retyped to Update and the object stamped.
func (e *Env) postprocess(identity *models.Identity, doc map[string]any, update bool) map[string]any {
	actorID := "https://" + e.Host + "/" + identity.Domain

	doc = wrapIDs(e.Host, doc)
	if _, ok := doc["actor"]; !ok {
		doc["actor"] = actorID
	}

	typ, _ := doc["type"].(string)
	if !activityVerbs[typ] {
		id, _ := doc["id"].(string)
		doc = map[string]any{
			"type":   "Create",
			"id":     id + "#create",
			"actor":  actorID,
			"object": doc,
		}
	}

	if update {
		id, _ := doc["id"].(string)
		doc["type"] = "Update"
		doc["id"] = id + "#update-" + time.Now().UTC().Format(time.RFC3339)
		if obj, ok := doc["object"].(map[string]any); ok {
			obj["updated"] = time.Now().UTC().Format(time.RFC3339)
		}
	}

	doc["@context"] = "https://www.w3.org/ns/activitystreams"
	doc["cc"] = appendAudience(doc["cc"])
	return doc
}

// wrapIDs rewrites the document's own ids and urls through /r/ so remote
// fetches of them are answered by the bridge. References to other sites,
// inReplyTo in particular, stay untouched.
func wrapIDs(host string, doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		switch k {
		case "id", "url":
			if s, ok := v.(string); ok {
				out[k] = redirect.Wrap(host, s)
				continue
			}
		case "object", "attachment":
			if m, ok := v.(map[string]any); ok {
				out[k] = wrapIDs(host, m)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func appendAudience(cc any) any {
	switch cc := cc.(type) {
	case nil:
		return []any{publicAudience}
	case []any:
		for _, v := range cc {
			if v == publicAudience {
				return cc
			}
		}
		return append(cc, publicAudience)
	default:
		if cc == publicAudience {
			return cc
		}
		return []any{cc, publicAudience}
	}
}
