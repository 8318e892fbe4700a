package activitypub

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fedilink/bridge/internal/httpsig"
	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
)

const testHost = "bridge.example"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)
	require.NoError(db.AutoMigrate(models.AllTables()...))
	return db
}

// fakeTransport scripts the remote internet: actor documents, web pages,
// inboxes and webmention endpoints. POST bodies are recorded.
type fakeTransport struct {
	handlers map[string]func(req *http.Request) *http.Response
	posts    map[string][]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]func(req *http.Request) *http.Response),
		posts:    make(map[string][]string),
	}
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	if req.Method == "POST" {
		body, _ := io.ReadAll(req.Body)
		f.posts[u] = append(f.posts[u], string(body))
		req.Body = io.NopCloser(strings.NewReader(string(body)))
	}
	if h, ok := f.handlers[req.Method+" "+u]; ok {
		res := h(req)
		res.Request = req
		return res, nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("not found")),
		Request:    req,
	}, nil
}

func response(status int, contentType, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func jsonBody(t *testing.T, obj any) string {
	t.Helper()
	out, err := json.Marshal(obj)
	require.NoError(t, err)
	return string(out)
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

type fixture struct {
	env       *Env
	transport *fakeTransport
	remoteKey *rsa.PrivateKey
}

// setupFixture wires an Env against a scripted internet with one bridged
// site (site.example) and one remote actor (alice).
func setupFixture(t *testing.T) *fixture {
	t.Helper()
	require := require.New(t)

	db := setupTestDB(t)
	transport := newFakeTransport()
	env := NewEnv(&models.Env{DB: db}, testHost, translate.Basic{})
	env.Transport = transport

	remoteKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)

	transport.handlers["GET https://remote.example/alice"] = func(*http.Request) *http.Response {
		return response(200, "application/activity+json", jsonBody(t, map[string]any{
			"id":    "https://remote.example/alice",
			"type":  "Person",
			"inbox": "https://remote.example/alice/inbox",
			"publicKey": map[string]any{
				"id":           "https://remote.example/alice#key",
				"owner":        "https://remote.example/alice",
				"publicKeyPem": publicPEM(t, remoteKey),
			},
		}))
	}
	transport.handlers["POST https://remote.example/alice/inbox"] = func(*http.Request) *http.Response {
		return response(202, "application/json", "{}")
	}
	f := &fixture{env: env, transport: transport, remoteKey: remoteKey}
	f.addSite(t, "site.example")
	return f
}

// addSite bridges another site: an identity, a homepage with a webmention
// endpoint, and one post.
func (f *fixture) addSite(t *testing.T, domain string) {
	t.Helper()
	_, err := f.env.Identities.GetOrCreate(domain)
	require.NoError(t, err)

	f.transport.handlers["GET https://"+domain+"/"] = func(*http.Request) *http.Response {
		return response(200, "text/html",
			`<html><head><link rel="webmention" href="/webmention"></head><body class="h-card">site</body></html>`)
	}
	f.transport.handlers["POST https://"+domain+"/webmention"] = func(*http.Request) *http.Response {
		return response(201, "text/plain", "thanks")
	}
	f.transport.handlers["GET https://"+domain+"/post/1"] = func(*http.Request) *http.Response {
		return response(200, "text/html",
			`<html><head><link rel="webmention" href="/webmention"></head><body>a post</body></html>`)
	}
}

// post delivers a signed activity to the shared inbox.
func (f *fixture) post(t *testing.T, activity map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body := jsonBody(t, activity)
	req := httptest.NewRequest("POST", "https://"+testHost+"/inbox", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	require.NoError(t, httpsig.Sign(req, "https://remote.example/alice#key", f.remoteKey, []byte(body)))

	w := httptest.NewRecorder()
	httpx.HandlerFunc(func(*http.Request) *Env { return f.env }, Inbox)(w, req)
	return w
}

func TestInboxFollow(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)

	follow := map[string]any{
		"id":     "https://remote.example/follow/1",
		"type":   "Follow",
		"actor":  "https://remote.example/alice",
		"object": "https://site.example/",
	}
	w := f.post(t, follow)
	require.Equal(http.StatusOK, w.Code)

	// The edge is recorded with the actor embedded.
	edges, err := f.env.Followers.ActiveFollowers("site.example")
	require.NoError(err)
	require.Len(edges, 1)
	require.Equal("https://remote.example/alice", edges[0].Src)
	require.Equal([]string{"https://remote.example/alice/inbox"}, models.Inboxes(edges))

	// Alice got an Accept naming the follow.
	accepts := f.transport.posts["https://remote.example/alice/inbox"]
	require.Len(accepts, 1)
	require.Contains(accepts[0], `"Accept"`)
	require.Contains(accepts[0], "tag:bridge.example:accept/site.example/https://remote.example/follow/1")

	// The site's homepage got a webmention pointing back at the follow.
	mentions := f.transport.posts["https://site.example/webmention"]
	require.Len(mentions, 1)
	require.Contains(mentions[0], "source=https%3A%2F%2Fbridge.example%2Fr%2Fhttps%3A%2F%2Fremote.example%2Ffollow%2F1")

	// The follow settled as a completed item.
	item, err := f.env.Items.Get("https://remote.example/follow/1")
	require.NoError(err)
	require.NotNil(item)
	require.Equal(models.StatusComplete, item.Status)
}

func TestInboxUndoFollow(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)
	f.addSite(t, "undone.example")

	w := f.post(t, map[string]any{
		"id":     "https://remote.example/follow/undone",
		"type":   "Follow",
		"actor":  "https://remote.example/alice",
		"object": "https://undone.example/",
	})
	require.Equal(http.StatusOK, w.Code)

	edges, err := f.env.Followers.ActiveFollowers("undone.example")
	require.NoError(err)
	require.Len(edges, 1)

	w = f.post(t, map[string]any{
		"id":    "https://remote.example/undo/1",
		"type":  "Undo",
		"actor": "https://remote.example/alice",
		"object": map[string]any{
			"id":     "https://remote.example/follow/undone",
			"type":   "Follow",
			"actor":  "https://remote.example/alice",
			"object": "https://undone.example/",
		},
	})
	require.Equal(http.StatusOK, w.Code)

	edges, err = f.env.Followers.ActiveFollowers("undone.example")
	require.NoError(err)
	require.Empty(edges)
}

func TestInboxCreateReply(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)

	w := f.post(t, map[string]any{
		"id":    "https://remote.example/create/1",
		"type":  "Create",
		"actor": "https://remote.example/alice",
		"object": map[string]any{
			"id":        "https://remote.example/note/1",
			"type":      "Note",
			"url":       "https://remote.example/@alice/1",
			"content":   "nice post!",
			"inReplyTo": "https://site.example/post/1",
		},
	})
	require.Equal(http.StatusOK, w.Code)

	mentions := f.transport.posts["https://site.example/webmention"]
	require.Len(mentions, 1)
	require.Contains(mentions[0], "target=https%3A%2F%2Fsite.example%2Fpost%2F1")
	require.Contains(mentions[0], "source=https%3A%2F%2Fbridge.example%2Fr%2Fhttps%3A%2F%2Fremote.example%2F%40alice%2F1")

	item, err := f.env.Items.Get("https://remote.example/create/1")
	require.NoError(err)
	require.Equal(models.StatusComplete, item.Status)
	require.Equal([]string{"site.example"}, item.Domains)
	require.True(item.HasLabel(models.LabelActivity))
	require.True(item.HasLabel(models.LabelFeed))
}

func TestInboxBareNote(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)
	f.addSite(t, "bare.example")

	// Some servers deliver the object itself, without a Create wrapper.
	w := f.post(t, map[string]any{
		"id":        "https://remote.example/note/bare",
		"type":      "Note",
		"actor":     "https://remote.example/alice",
		"url":       "https://remote.example/@alice/bare",
		"content":   "unwrapped",
		"inReplyTo": "https://bare.example/post/1",
	})
	require.Equal(http.StatusOK, w.Code)

	mentions := f.transport.posts["https://bare.example/webmention"]
	require.Len(mentions, 1)
	require.Contains(mentions[0], "target=https%3A%2F%2Fbare.example%2Fpost%2F1")
	require.Contains(mentions[0], "source=https%3A%2F%2Fbridge.example%2Fr%2Fhttps%3A%2F%2Fremote.example%2F%40alice%2Fbare")

	item, err := f.env.Items.Get("https://remote.example/note/bare")
	require.NoError(err)
	require.Equal(models.StatusComplete, item.Status)
}

func TestInboxRemoteRefusal(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)
	f.addSite(t, "cranky.example")
	f.transport.handlers["POST https://cranky.example/webmention"] = func(*http.Request) *http.Response {
		return response(429, "text/plain", "slow down")
	}

	// The endpoint answered; its status is relayed rather than reported as
	// a gateway failure.
	w := f.post(t, map[string]any{
		"id":     "https://remote.example/like/cranky",
		"type":   "Like",
		"actor":  "https://remote.example/alice",
		"object": "https://cranky.example/post/1",
	})
	require.Equal(http.StatusTooManyRequests, w.Code)

	item, err := f.env.Items.Get("https://remote.example/like/cranky")
	require.NoError(err)
	require.Equal(models.StatusFailed, item.Status)
}

func TestInboxDuplicateDelivery(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)

	like := map[string]any{
		"id":     "https://remote.example/like/1",
		"type":   "Like",
		"actor":  "https://remote.example/alice",
		"object": "https://site.example/post/1",
	}
	w := f.post(t, like)
	require.Equal(http.StatusOK, w.Code)
	require.Len(f.transport.posts["https://site.example/webmention"], 1)

	// The retry is acknowledged without a second delivery.
	w = f.post(t, like)
	require.Equal(http.StatusOK, w.Code)
	require.Contains(w.Body.String(), "already seen")
	require.Len(f.transport.posts["https://site.example/webmention"], 1)
}

func TestInboxRefusals(t *testing.T) {
	f := setupFixture(t)

	t.Run("unsigned requests are 401 with the failure kind", func(t *testing.T) {
		require := require.New(t)

		req := httptest.NewRequest("POST", "https://"+testHost+"/inbox",
			strings.NewReader(`{"id":"https://remote.example/x","type":"Like"}`))
		w := httptest.NewRecorder()
		httpx.HandlerFunc(func(*http.Request) *Env { return f.env }, Inbox)(w, req)
		require.Equal(http.StatusUnauthorized, w.Code)
		require.Contains(w.Body.String(), "no HTTP Signature")
	})

	t.Run("activities without an id are 400", func(t *testing.T) {
		require := require.New(t)

		w := f.post(t, map[string]any{"type": "Like", "actor": "https://remote.example/alice"})
		require.Equal(http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported activity types are 501", func(t *testing.T) {
		require := require.New(t)

		w := f.post(t, map[string]any{
			"id":     "https://remote.example/block/1",
			"type":   "Block",
			"actor":  "https://remote.example/alice",
			"object": "https://elsewhere.example/bob",
		})
		require.Equal(http.StatusNotImplemented, w.Code)
	})

	t.Run("per-domain inboxes of unknown domains are 404", func(t *testing.T) {
		require := require.New(t)

		req := httptest.NewRequest("POST", "https://"+testHost+"/nobody.example/inbox",
			strings.NewReader(`{}`))
		req = withChiParam(req, "domain", "nobody.example")
		w := httptest.NewRecorder()
		httpx.HandlerFunc(func(*http.Request) *Env { return f.env }, Inbox)(w, req)
		require.Equal(http.StatusNotFound, w.Code)
	})

	t.Run("follows of unbridged domains are 404", func(t *testing.T) {
		require := require.New(t)

		w := f.post(t, map[string]any{
			"id":     "https://remote.example/follow/404",
			"type":   "Follow",
			"actor":  "https://remote.example/alice",
			"object": "https://unbridged.example/",
		})
		require.Equal(http.StatusNotFound, w.Code)
	})

	t.Run("silo targets are not yet supported", func(t *testing.T) {
		require := require.New(t)

		w := f.post(t, map[string]any{
			"id":     "https://remote.example/like/silo",
			"type":   "Like",
			"actor":  "https://remote.example/alice",
			"object": "https://twitter.com/someone/status/1",
		})
		require.Equal(http.StatusNotImplemented, w.Code)
		require.Contains(w.Body.String(), "not yet supported")
	})
}

func TestInboxDeleteActor(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)
	f.addSite(t, "bereft.example")

	w := f.post(t, map[string]any{
		"id":     "https://remote.example/follow/bereft",
		"type":   "Follow",
		"actor":  "https://remote.example/alice",
		"object": "https://bereft.example/",
	})
	require.Equal(http.StatusOK, w.Code)

	w = f.post(t, map[string]any{
		"id":     "https://remote.example/delete/alice",
		"type":   "Delete",
		"actor":  "https://remote.example/alice",
		"object": "https://remote.example/alice",
	})
	require.Equal(http.StatusOK, w.Code)

	edges, err := f.env.Followers.ActiveFollowers("bereft.example")
	require.NoError(err)
	require.Empty(edges)
}

func TestActorDocument(t *testing.T) {
	require := require.New(t)
	f := setupFixture(t)

	req := httptest.NewRequest("GET", "https://"+testHost+"/site.example", nil)
	req = withChiParam(req, "domain", "site.example")
	w := httptest.NewRecorder()
	httpx.HandlerFunc(func(*http.Request) *Env { return f.env }, ActorDocument)(w, req)

	require.Equal(http.StatusOK, w.Code)
	require.Equal("application/activity+json", w.Header().Get("Content-Type"))
	body := w.Body.String()
	require.Contains(body, fmt.Sprintf("https://%s/site.example", testHost))
	require.Contains(body, "PUBLIC KEY")
	require.Contains(body, "sharedInbox")
}
