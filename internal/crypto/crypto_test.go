package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeypair(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	t.Run("components reconstruct a working key", func(t *testing.T) {
		require := require.New(t)

		pub, err := kp.PublicKey()
		require.NoError(err)
		priv, err := kp.PrivateKey()
		require.NoError(err)

		digest := sha256.Sum256([]byte("hello"))
		sig, err := rsa.SignPKCS1v15(rand.Reader, priv, 0, digest[:])
		require.NoError(err)
		// rsa falls back to plain modular exponentiation for keys
		// without primes, so signatures verify against the public half.
		require.NoError(rsa.VerifyPKCS1v15(pub, 0, digest[:], sig))
	})

	t.Run("public pem parses back", func(t *testing.T) {
		require := require.New(t)

		pemBytes, err := kp.PublicPEM()
		require.NoError(err)

		parsed, err := ParseRSAPublicKey(pemBytes)
		require.NoError(err)

		pub, err := kp.PublicKey()
		require.NoError(err)
		require.Equal(pub.N, parsed.N)
		require.Equal(pub.E, parsed.E)
	})

	t.Run("components are url safe base64", func(t *testing.T) {
		require := require.New(t)
		require.NotContains(kp.Mod, "+")
		require.NotContains(kp.Mod, "/")
		require.NotEmpty(kp.PublicExponent)
		require.NotEmpty(kp.PrivateExponent)
	})
}
