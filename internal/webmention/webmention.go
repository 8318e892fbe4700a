// package webmention implements the sending half of the Webmention
// protocol: endpoint discovery on a target page, then a form POST asserting
// that source links to target.
package webmention

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"golang.org/x/net/html"
)

const defaultTimeout = 15 * time.Second

// Client discovers webmention endpoints and sends webmentions.
type Client struct {
	base    http.RoundTripper
	timeout time.Duration
}

// NewClient returns a client. transport may be nil, in which case
// http.DefaultTransport is used.
func NewClient(transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{base: transport, timeout: defaultTimeout}
}

// Discover fetches target and returns its advertised webmention endpoint,
// resolved against the page URL. It returns "" with a nil error when the
// page has no endpoint; a non-nil error means the page itself was
// unreachable.
func (c *Client) Discover(ctx context.Context, target string) (string, error) {
	var endpoint string
	err := requests.URL(target).
		Accept("*/*").
		Client(&http.Client{Timeout: c.timeout, Transport: c.base}).
		Handle(func(res *http.Response) error {
			defer res.Body.Close()
			endpoint = endpointFromResponse(res)
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		return "", err
	}
	return endpoint, nil
}

// Send posts a webmention to endpoint asserting that source links to
// target. Redirects are not followed; the endpoint's immediate response is
// returned as status and body.
func (c *Client) Send(ctx context.Context, endpoint, source, target string) (int, string, error) {
	var (
		code int
		body string
	)
	cl := &http.Client{
		Timeout:   c.timeout,
		Transport: c.base,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	err := requests.URL(endpoint).
		Accept("*/*").
		BodyForm(url.Values{
			"source": []string{source},
			"target": []string{target},
		}).
		Client(cl).
		AddValidator(func(res *http.Response) error {
			code = res.StatusCode
			return nil
		}).
		CheckStatus(
			http.StatusOK,
			http.StatusCreated,
			http.StatusAccepted,
			http.StatusNoContent,
		).
		ToString(&body).
		Fetch(ctx)
	return code, body, err
}

// endpointFromResponse finds the webmention endpoint advertised by a
// response: a Link header takes precedence, then the first <link> or <a>
// element with rel~=webmention in the body.
func endpointFromResponse(res *http.Response) string {
	pageURL := res.Request.URL

	for _, value := range res.Header.Values("Link") {
		if href, ok := linkHeaderEndpoint(value); ok {
			return resolve(pageURL, href)
		}
	}

	doc, err := html.Parse(res.Body)
	if err != nil {
		return ""
	}
	if href, ok := htmlEndpoint(doc); ok {
		return resolve(pageURL, href)
	}
	return ""
}

// linkHeaderEndpoint parses one Link header value, which may contain
// multiple comma separated links, eg `<https://a/wm>; rel="webmention"`.
func linkHeaderEndpoint(value string) (string, bool) {
	for _, link := range strings.Split(value, ",") {
		parts := strings.Split(link, ";")
		if len(parts) < 2 {
			continue
		}
		uri := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(uri, "<") || !strings.HasSuffix(uri, ">") {
			continue
		}
		for _, param := range parts[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || strings.TrimSpace(k) != "rel" {
				continue
			}
			for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(v), `"'`)) {
				if rel == "webmention" {
					return strings.Trim(uri, "<>"), true
				}
			}
		}
	}
	return "", false
}

// htmlEndpoint walks the document for the first link or a element with
// rel~=webmention. An empty href is valid and means the page itself.
func htmlEndpoint(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && (n.Data == "link" || n.Data == "a") {
		var href string
		var hasHref, isWebmention bool
		for _, attr := range n.Attr {
			switch attr.Key {
			case "href":
				href = attr.Val
				hasHref = true
			case "rel":
				for _, rel := range strings.Fields(attr.Val) {
					if rel == "webmention" {
						isWebmention = true
					}
				}
			}
		}
		if isWebmention && hasHref {
			return href, true
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if href, ok := htmlEndpoint(child); ok {
			return href, ok
		}
	}
	return "", false
}

func resolve(page *url.URL, href string) string {
	if page == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return page.ResolveReference(ref).String()
}
