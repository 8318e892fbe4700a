package activitypub

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/to"
	"github.com/fedilink/bridge/models"
)

// actorItem renders one collection member: the actor document captured
// with the follow when it is the member's, otherwise the bare id.
func actorItem(lastFollow map[string]any, id string) any {
	if actor, ok := lastFollow["actor"].(map[string]any); ok {
		if aid, _ := actor["id"].(string); aid == id {
			return actor
		}
	}
	return id
}

type pageParams struct {
	Before string `schema:"before"`
	After  string `schema:"after"`
}

// FollowersCollection serves GET /{domain}/followers.
func FollowersCollection(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.collection(w, r, "followers")
}

// FollowingCollection serves GET /{domain}/following.
func FollowingCollection(env *Env, w http.ResponseWriter, r *http.Request) error {
	return env.collection(w, r, "following")
}

func (e *Env) collection(w http.ResponseWriter, r *http.Request, which string) error {
	domain := chi.URLParam(r, "domain")
	identity, err := e.Identities.Find(domain)
	if err != nil {
		return err
	}
	if identity == nil {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("no bridged identity for %s", domain))
	}

	var params pageParams
	if err := httpx.Params(r, &params); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if params.Before != "" && params.After != "" {
		return httpx.Error(http.StatusBadRequest, errors.New("before and after are mutually exclusive"))
	}

	var (
		page  *models.Page
		total int64
	)
	switch which {
	case "followers":
		page, err = e.Followers.PageFollowers(identity.Domain, params.Before, params.After)
	default:
		page, err = e.Followers.PageFollowing(identity.Domain, params.Before, params.After)
	}
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}

	collectionID := fmt.Sprintf("https://%s/%s/%s", e.Host, identity.Domain, which)
	items := make([]any, 0, len(page.Edges))
	for _, f := range page.Edges {
		if which == "followers" {
			items = append(items, actorItem(f.LastFollow, f.Src))
		} else {
			items = append(items, actorItem(f.LastFollow, f.Dest))
		}
	}

	pageDoc := map[string]any{
		"type":   "CollectionPage",
		"partOf": collectionID,
		"items":  items,
	}
	if page.Before != "" {
		pageDoc["next"] = fmt.Sprintf("%s?before=%s", collectionID, url.QueryEscape(page.Before))
	}
	if page.After != "" {
		pageDoc["prev"] = fmt.Sprintf("%s?after=%s", collectionID, url.QueryEscape(page.After))
	}

	w.Header().Set("Content-Type", "application/activity+json")

	// Cursored requests get the bare page; the collection summary with the
	// total is only on the first page.
	if params.Before != "" || params.After != "" {
		pageDoc["@context"] = "https://www.w3.org/ns/activitystreams"
		pageDoc["id"] = r.URL.String()
		return to.JSON(w, pageDoc)
	}

	switch which {
	case "followers":
		total, err = e.Followers.CountFollowers(identity.Domain)
	default:
		total, err = e.Followers.CountFollowing(identity.Domain)
	}
	if err != nil {
		return err
	}
	pageDoc["id"] = collectionID + "?page=first"
	return to.JSON(w, map[string]any{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         collectionID,
		"type":       "Collection",
		"summary":    fmt.Sprintf("%s's %s", identity.Domain, which),
		"totalItems": total,
		"first":      pageDoc,
	})
}
