package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/require"

	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/models"
)

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func getCollection(t *testing.T, env *Env, domain, target string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	req = withChiParam(req, "domain", domain)
	w := httptest.NewRecorder()
	httpx.HandlerFunc(func(*http.Request) *Env { return env }, FollowersCollection)(w, req)

	var doc map[string]any
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	}
	return w.Code, doc
}

func TestFollowersCollectionPaging(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)

	_, err := f.env.Identities.GetOrCreate("paged.example")
	require.NoError(err)

	const total = models.PageSize + 3
	for i := 0; i < total; i++ {
		_, err := f.env.Followers.GetOrCreate("paged.example",
			fmt.Sprintf("https://remote.example/user/%03d", i),
			models.FollowerActive,
			map[string]any{"actor": map[string]any{
				"inbox": fmt.Sprintf("https://remote.example/user/%03d/inbox", i),
			}})
		require.NoError(err)
	}

	code, doc := getCollection(t, f.env, "paged.example", "https://bridge.example/paged.example/followers")
	require.Equal(http.StatusOK, code)
	require.Equal("Collection", doc["type"])
	require.EqualValues(total, doc["totalItems"])

	first, ok := doc["first"].(map[string]any)
	require.True(ok)
	require.Equal("CollectionPage", first["type"])
	items, ok := first["items"].([]any)
	require.True(ok)
	require.Len(items, models.PageSize)

	// The first page links an older page but no newer one.
	next, ok := first["next"].(string)
	require.True(ok)
	_, hasPrev := first["prev"]
	require.False(hasPrev)

	code, page2 := getCollection(t, f.env, "paged.example", next)
	require.Equal(http.StatusOK, code)
	require.Equal("CollectionPage", page2["type"])
	rest, ok := page2["items"].([]any)
	require.True(ok)
	require.Len(rest, total-models.PageSize)

	// No overlap between pages, and the totals line up.
	seen := make(map[any]bool)
	for _, it := range append(items, rest...) {
		require.False(seen[it])
		seen[it] = true
	}
	require.Len(seen, total)

	// The second page has no further older page, but links back.
	_, hasNext := page2["next"]
	require.False(hasNext)
	_, hasPrev = page2["prev"]
	require.True(hasPrev)

	// Cursored pages carry no total.
	_, hasTotal := page2["totalItems"]
	require.False(hasTotal)
}

func TestFollowersCollectionActorItems(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)

	_, err := f.env.Identities.GetOrCreate("faces.example")
	require.NoError(err)
	_, err = f.env.Followers.GetOrCreate("faces.example", "https://remote.example/people/zoe",
		models.FollowerActive,
		map[string]any{"actor": map[string]any{
			"id":                "https://remote.example/people/zoe",
			"type":              "Person",
			"preferredUsername": "zoe",
			"inbox":             "https://remote.example/people/zoe/inbox",
		}})
	require.NoError(err)

	code, doc := getCollection(t, f.env, "faces.example", "https://bridge.example/faces.example/followers")
	require.Equal(http.StatusOK, code)
	require.EqualValues(1, doc["totalItems"])
	first, ok := doc["first"].(map[string]any)
	require.True(ok)
	items, ok := first["items"].([]any)
	require.True(ok)
	require.Len(items, 1)

	// The stored actor document is rendered, not just its id.
	actor, ok := items[0].(map[string]any)
	require.True(ok)
	require.Equal("zoe", actor["preferredUsername"])

	// An unfollow removes the member from both the page and the total.
	require.NoError(f.env.Followers.Deactivate("faces.example", "https://remote.example/people/zoe"))
	code, doc = getCollection(t, f.env, "faces.example", "https://bridge.example/faces.example/followers")
	require.Equal(http.StatusOK, code)
	require.EqualValues(0, doc["totalItems"])
	first, ok = doc["first"].(map[string]any)
	require.True(ok)
	require.Empty(first["items"])
}

func TestFollowersCollectionRefusals(t *testing.T) {
	f := setupFixture(t)

	t.Run("unknown domains are 404", func(t *testing.T) {
		require := require.New(t)

		req := httptest.NewRequest("GET", "https://bridge.example/nobody.example/followers", nil)
		req = withChiParam(req, "domain", "nobody.example")
		w := httptest.NewRecorder()
		httpx.HandlerFunc(func(*http.Request) *Env { return f.env }, FollowersCollection)(w, req)
		require.Equal(http.StatusNotFound, w.Code)
	})

	t.Run("both cursors at once is 400", func(t *testing.T) {
		require := require.New(t)

		_, err := f.env.Identities.GetOrCreate("cursors.example")
		require.NoError(err)

		code, _ := getCollection(t, f.env, "cursors.example",
			"https://bridge.example/cursors.example/followers?before=2026-01-01T00%3A00%3A00.000000%2B00%3A00&after=2026-01-02T00%3A00%3A00.000000%2B00%3A00")
		require.Equal(http.StatusBadRequest, code)
	})
}
