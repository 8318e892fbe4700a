package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/fedilink/bridge/models"
)

// VerifyIdentity probes a bridged identity's site and records what it
// found: whether webfinger lookups redirect to the bridge, and whether the
// homepage carries an h-card profile. A www. domain whose bare domain
// serves the same site is collapsed onto the bare domain via UseInstead.
func (e *Env) VerifyIdentity(ctx context.Context, identity *models.Identity) error {
	if bare, ok := strings.CutPrefix(identity.Domain, "www."); ok {
		if e.reachable(ctx, "https://"+bare+"/") {
			identity.UseInstead = bare
			if err := e.Identities.Save(identity); err != nil {
				return err
			}
			var err error
			identity, err = e.Identities.GetOrCreate(bare)
			if err != nil {
				return err
			}
		}
	}

	identity.HasRedirects, identity.RedirectsError = e.checkRedirects(ctx, identity.Domain)
	identity.HasProfile = e.checkProfile(ctx, identity.Homepage())

	e.Log().Info("verified identity",
		zap.String("domain", identity.Domain),
		zap.Bool("redirects", identity.HasRedirects),
		zap.Bool("profile", identity.HasProfile),
	)
	return e.Identities.Save(identity)
}

// checkRedirects verifies the site forwards webfinger lookups to the
// bridge.
func (e *Env) checkRedirects(ctx context.Context, domain string) (bool, string) {
	u := fmt.Sprintf("https://%s/.well-known/webfinger?resource=acct:%s@%s", domain, domain, domain)
	var location string
	err := requests.URL(u).
		Client(&http.Client{
			Transport: e.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}).
		AddValidator(func(res *http.Response) error {
			location = res.Header.Get("Location")
			if res.StatusCode < 300 || res.StatusCode > 399 {
				return fmt.Errorf("expected redirect, got %d", res.StatusCode)
			}
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		return false, err.Error()
	}
	if !strings.HasPrefix(location, "https://"+e.Host+"/") {
		return false, fmt.Sprintf("webfinger redirects to %s, not the bridge", location)
	}
	return true, ""
}

// checkProfile reports whether the homepage carries an h-card.
func (e *Env) checkProfile(ctx context.Context, homepage string) bool {
	var body string
	err := requests.URL(homepage).
		Client(&http.Client{Transport: e.Transport}).
		CheckStatus(http.StatusOK).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return false
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return false
	}
	return hasHCard(doc)
}

func hasHCard(n *html.Node) bool {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key != "class" {
				continue
			}
			for _, c := range strings.Fields(attr.Val) {
				if c == "h-card" {
					return true
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasHCard(c) {
			return true
		}
	}
	return false
}

func (e *Env) reachable(ctx context.Context, u string) bool {
	err := requests.URL(u).
		Client(&http.Client{Transport: e.Transport}).
		CheckStatus(http.StatusOK).
		Fetch(ctx)
	return err == nil
}
