// package crypto manages the RSA keypairs used to sign federated requests.
//
// Keypairs are stored as their modulus and exponent components, each encoded
// as URL-safe base64 per RFC 4648, so they survive round trips through any
// string-typed storage column.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
)

const keyBits = 2048

// Keypair is an RSA keypair in component form.
type Keypair struct {
	Mod             string
	PublicExponent  string
	PrivateExponent string
}

// GenerateKeypair creates a fresh RSA keypair. This reads from the system
// entropy pool and does nontrivial math, so it can take a while.
func GenerateKeypair() (*Keypair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, err
	}
	return &Keypair{
		Mod:             bigToBase64(key.N),
		PublicExponent:  bigToBase64(big.NewInt(int64(key.E))),
		PrivateExponent: bigToBase64(key.D),
	}, nil
}

// PublicKey reconstructs the public half of the keypair.
func (k *Keypair) PublicKey() (*rsa.PublicKey, error) {
	n, err := base64ToBig(k.Mod)
	if err != nil {
		return nil, err
	}
	e, err := base64ToBig(k.PublicExponent)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// PrivateKey reconstructs the private key. The prime factors are not stored,
// so the returned key signs via plain modular exponentiation rather than CRT.
func (k *Keypair) PrivateKey() (*rsa.PrivateKey, error) {
	pub, err := k.PublicKey()
	if err != nil {
		return nil, err
	}
	d, err := base64ToBig(k.PrivateExponent)
	if err != nil {
		return nil, err
	}
	return &rsa.PrivateKey{PublicKey: *pub, D: d}, nil
}

// PublicPEM returns the public key as a PEM encoded PKIX block, the format
// peers expect in an actor's publicKeyPem field.
func (k *Keypair) PublicPEM() ([]byte, error) {
	pub, err := k.PublicKey()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParseRSAPublicKey parses a PEM encoded public key, eg the publicKeyPem
// value of a fetched actor document.
func ParseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("expected PEM block")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("expected *rsa.PublicKey")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, errors.New("expected PUBLIC KEY pem block, got " + block.Type)
	}
}

func bigToBase64(v *big.Int) string {
	return base64.URLEncoding.EncodeToString(v.Bytes())
}

func base64ToBig(s string) (*big.Int, error) {
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
