package httpsig

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies why verification of a request was refused. Each kind maps
// to a distinct error body at the HTTP boundary; peers use them to tell a
// misconfigured key from a mangled payload.
type Kind int

const (
	// NoSignature: the request carried no Signature or Authorization header.
	NoSignature Kind = iota + 1
	// MissingKeyID: a signature was present but had no keyId parameter.
	MissingKeyID
	// InvalidDigest: the Digest header was absent or did not match the body.
	InvalidDigest
	// VerificationFailed: the canonical signing string did not verify
	// against the resolved public key, or the key could not be resolved.
	VerificationFailed
)

// Error is a classified signature verification failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case NoSignature:
		return "no HTTP Signature"
	case MissingKeyID:
		return "HTTP Signature missing keyId"
	case InvalidDigest:
		return "invalid Digest header, required for HTTP Signature"
	default:
		return "HTTP Signature verification failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }

func failed(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Verify checks the HTTP Signature of req against the public key resolved by
// keyFn from the signature's keyId. body is the raw request body, already
// read; if non empty it must match the Digest header. A nil return means the
// request verified; every other outcome is an *Error.
func Verify(req *http.Request, body []byte, keyFn func(keyID string) (crypto.PublicKey, error)) error {
	sigHeader := req.Header.Get("Signature")
	if sigHeader == "" {
		sigHeader = strings.TrimPrefix(req.Header.Get("Authorization"), "Signature ")
	}
	if sigHeader == "" {
		return failed(NoSignature, nil)
	}

	params := parseSignature(sigHeader)
	keyID := params["keyId"]
	if keyID == "" {
		return failed(MissingKeyID, nil)
	}

	if len(body) > 0 {
		sum := sha256.Sum256(body)
		want := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
		if req.Header.Get("Digest") != want {
			return failed(InvalidDigest, nil)
		}
	}

	sig, err := base64.StdEncoding.DecodeString(params["signature"])
	if err != nil {
		return failed(VerificationFailed, err)
	}

	headers := strings.Fields(params["headers"])
	if len(headers) == 0 {
		// draft-cavage defaults to Date when the headers parameter is absent.
		headers = []string{"date"}
	}
	signed := signingString(req, headers)

	pubKey, err := keyFn(keyID)
	if err != nil {
		return failed(VerificationFailed, err)
	}
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return failed(VerificationFailed, fmt.Errorf("expected *rsa.PublicKey, got %T", pubKey))
	}

	digest := sha256.Sum256([]byte(signed))
	if err := rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, digest[:], sig); err != nil {
		return failed(VerificationFailed, err)
	}
	return nil
}

// parseSignature splits a Signature header into its key="value" parameters.
// Unknown parameters are kept; signature values may contain '=' padding.
func parseSignature(header string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[k] = strings.Trim(v, `"`)
	}
	return params
}

// signingString reconstructs the canonical string the peer signed: each named
// header as "name: value", joined by newlines, in the order declared by the
// signature's headers parameter.
func signingString(req *http.Request, headers []string) string {
	var sb strings.Builder
	for i, header := range headers {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch strings.ToLower(header) {
		case RequestTarget:
			sb.WriteString("(request-target): ")
			sb.WriteString(strings.ToLower(req.Method))
			sb.WriteString(" ")
			sb.WriteString(req.URL.Path)
			if req.URL.RawQuery != "" {
				sb.WriteString("?")
				sb.WriteString(req.URL.RawQuery)
			}
		case "host":
			sb.WriteString("host: ")
			sb.WriteString(req.Host)
		default:
			name := strings.ToLower(header)
			value := req.Header.Get(header)
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
		}
	}
	return sb.String()
}
