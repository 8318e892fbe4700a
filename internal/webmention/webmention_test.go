package webmention

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	status  int
	header  http.Header
	body    string
	lastReq *http.Request
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.lastReq = req
	header := s.header
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Request:    req,
	}, nil
}

func TestDiscover(t *testing.T) {
	t.Run("link header wins", func(t *testing.T) {
		require := require.New(t)

		stub := &stubTransport{
			status: 200,
			header: http.Header{"Link": []string{`</wm>; rel="webmention"`}},
			body:   `<html><link rel="webmention" href="/other"></html>`,
		}
		endpoint, err := NewClient(stub).Discover(context.Background(), "https://site.example/post/1")
		require.NoError(err)
		require.Equal("https://site.example/wm", endpoint)
	})

	t.Run("html link element", func(t *testing.T) {
		require := require.New(t)

		stub := &stubTransport{
			status: 200,
			body:   `<html><head><link rel="webmention" href="https://site.example/webmention"></head></html>`,
		}
		endpoint, err := NewClient(stub).Discover(context.Background(), "https://site.example/post/1")
		require.NoError(err)
		require.Equal("https://site.example/webmention", endpoint)
	})

	t.Run("anchor with multiple rels", func(t *testing.T) {
		require := require.New(t)

		stub := &stubTransport{
			status: 200,
			body:   `<html><body><a rel="nofollow webmention" href="wm.php">mention me</a></body></html>`,
		}
		endpoint, err := NewClient(stub).Discover(context.Background(), "https://site.example/post/1")
		require.NoError(err)
		// Relative to the page's directory, per RFC 3986.
		require.Equal("https://site.example/post/wm.php", endpoint)
	})

	t.Run("empty href means the page itself", func(t *testing.T) {
		require := require.New(t)

		stub := &stubTransport{
			status: 200,
			body:   `<html><link rel="webmention" href=""></html>`,
		}
		endpoint, err := NewClient(stub).Discover(context.Background(), "https://site.example/post/1")
		require.NoError(err)
		require.Equal("https://site.example/post/1", endpoint)
	})

	t.Run("no endpoint is not an error", func(t *testing.T) {
		require := require.New(t)

		stub := &stubTransport{status: 200, body: `<html><p>plain page</p></html>`}
		endpoint, err := NewClient(stub).Discover(context.Background(), "https://site.example/post/1")
		require.NoError(err)
		require.Empty(endpoint)
	})
}

func TestSend(t *testing.T) {
	t.Run("posts the form and returns status and body", func(t *testing.T) {
		require := require.New(t)

		stub := &stubTransport{status: 201, body: "created"}
		code, body, err := NewClient(stub).Send(context.Background(),
			"https://site.example/wm",
			"https://bridge.example/r/https://remote.example/note/1",
			"https://site.example/post/1")
		require.NoError(err)
		require.Equal(201, code)
		require.Equal("created", body)

		sent, err := io.ReadAll(stub.lastReq.Body)
		require.NoError(err)
		form, err := url.ParseQuery(string(sent))
		require.NoError(err)
		require.Equal("https://site.example/post/1", form.Get("target"))
		require.Equal("https://bridge.example/r/https://remote.example/note/1", form.Get("source"))
	})

	t.Run("5xx responses are errors", func(t *testing.T) {
		require := require.New(t)

		stub := &stubTransport{status: 503, body: "overloaded"}
		code, _, err := NewClient(stub).Send(context.Background(),
			"https://site.example/wm", "https://a/", "https://b/")
		require.Error(err)
		require.Equal(503, code)
	})
}

func TestLinkHeaderEndpoint(t *testing.T) {
	require := require.New(t)

	href, ok := linkHeaderEndpoint(`<https://a.example/wm>; rel="webmention"`)
	require.True(ok)
	require.Equal("https://a.example/wm", href)

	// Multiple links in one header value.
	href, ok = linkHeaderEndpoint(`</style.css>; rel="stylesheet", </wm>; rel="webmention"`)
	require.True(ok)
	require.Equal("/wm", href)

	_, ok = linkHeaderEndpoint(`</feed>; rel="alternate"`)
	require.False(ok)
}
