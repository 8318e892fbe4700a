// package activitypub provides a client for fetching and delivering
// fediverse activities with signed requests.
package activitypub

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"

	"github.com/fedilink/bridge/internal/httpsig"
)

const (
	// ContentType is the activity content type used on outbound posts.
	ContentType = `application/activity+json`
	// ContentTypeLD is the JSON-LD flavoured activity content type.
	ContentTypeLD = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	defaultTimeout = 15 * time.Second
)

// Client is a fediverse client which fetches remote resources and posts
// activities to inboxes, signing every request as the given key.
type Client struct {
	keyID      string
	privateKey crypto.PrivateKey
	base       http.RoundTripper
	timeout    time.Duration
}

// NewClient returns a client signing as keyID with privateKey. transport may
// be nil, in which case http.DefaultTransport is used.
func NewClient(keyID string, privateKey crypto.PrivateKey, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		keyID:      keyID,
		privateKey: privateKey,
		base:       transport,
		timeout:    defaultTimeout,
	}
}

// RoundTrip signs the request, then delegates to the underlying transport.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	if err := httpsig.Sign(req, c.keyID, c.privateKey, body); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return c.base.RoundTrip(req)
}

func (c *Client) client() *http.Client {
	return &http.Client{
		Timeout:   c.timeout,
		Transport: c,
	}
}

// Get fetches the resource at uri as an activity document.
func (c *Client) Get(ctx context.Context, uri string) (map[string]any, error) {
	var obj map[string]any
	err := requests.URL(uri).
		Accept(fmt.Sprintf("%s; q=0.9, %s; q=0.8", ContentType, ContentTypeLD)).
		Client(c.client()).
		CheckContentType("application/activity+json", "application/ld+json", "application/json").
		CheckStatus(http.StatusOK).
		ToJSON(&obj).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Post delivers the given activity document to an inbox. It returns the
// response status and body; err is non-nil unless the status was 2xx.
func (c *Client) Post(ctx context.Context, inbox string, obj map[string]any) (int, string, error) {
	var (
		code int
		body string
	)
	err := requests.URL(inbox).
		Header("Content-Type", ContentTypeLD).
		BodyJSON(obj).
		Client(c.client()).
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
