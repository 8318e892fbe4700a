// Package httpsig implements the HTTP Signature scheme as defined in draft-cavage-http-signatures-10.
package httpsig

import (
	"crypto"
	"net/http"
	"time"

	"github.com/go-fed/httpsig"
)

const (
	// RequestTarget is the pseudo-header used to sign the request target.
	RequestTarget = "(request-target)"
)

// Sign signs the request using the given keyID and privateKey. POST requests
// additionally carry a SHA-256 Digest header covering body.
func Sign(req *http.Request, keyID string, privateKey crypto.PrivateKey, body []byte) error {
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	if req.Host == "" {
		req.Host = req.URL.Host
	}
	// go-fed reads signed headers from req.Header, so mirror the host there.
	req.Header.Set("Host", req.Host)

	headersToSign := []string{RequestTarget, "host", "date"}
	digestAlgo := httpsig.DigestSha256
	switch req.Method {
	case http.MethodPost:
		headersToSign = append(headersToSign, "digest")
	default:
		body = nil
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		digestAlgo,
		headersToSign,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return err
	}
	return signer.SignRequest(privateKey, keyID, req, body)
}
