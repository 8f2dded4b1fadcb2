package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// decodePEMPublicKey is shared by the round-trip subtests below.
func decodePEMPublicKey(t *testing.T, pemStr string) any {
	t.Helper()

	require.True(t, strings.HasPrefix(pemStr, "-----BEGIN PUBLIC KEY-----"))
	require.True(t, strings.HasSuffix(strings.TrimSpace(pemStr), "-----END PUBLIC KEY-----"))

	block, _ := pem.Decode([]byte(pemStr))
	require.NotNil(t, block)
	require.Equal(t, "PUBLIC KEY", block.Type)

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
	return parsed
}

func TestJWK_PEM_RoundTrip(t *testing.T) {
	t.Run("RSA", func(t *testing.T) {
		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		jwk := NewRSAJWK("test-key-id", "sig", "RS256", &privateKey.PublicKey)

		pemStr, err := jwk.PEM()
		require.NoError(t, err)

		parsed, ok := decodePEMPublicKey(t, pemStr).(*rsa.PublicKey)
		require.True(t, ok, "parsed key should be an RSA public key")
		require.Equal(t, privateKey.PublicKey.N, parsed.N)
		require.Equal(t, privateKey.PublicKey.E, parsed.E)
	})

	t.Run("Ed25519", func(t *testing.T) {
		publicKey, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		jwk := NewEd25519JWK("test-key-id", "sig", "EdDSA", publicKey)

		pemStr, err := jwk.PEM()
		require.NoError(t, err)

		parsed, ok := decodePEMPublicKey(t, pemStr).(ed25519.PublicKey)
		require.True(t, ok, "parsed key should be an Ed25519 public key")
		require.Equal(t, publicKey, parsed)
	})

	t.Run("ES256", func(t *testing.T) {
		privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		jwk := NewES256JWK("test-key-id", "sig", "ES256", &privateKey.PublicKey)

		pemStr, err := jwk.PEM()
		require.NoError(t, err)

		parsed, ok := decodePEMPublicKey(t, pemStr).(*ecdsa.PublicKey)
		require.True(t, ok, "parsed key should be an ECDSA public key")
		require.Equal(t, privateKey.PublicKey.X, parsed.X)
		require.Equal(t, privateKey.PublicKey.Y, parsed.Y)
		require.Equal(t, privateKey.PublicKey.Curve, parsed.Curve)
	})
}

func TestJWK_PEM_UnsupportedKeyType(t *testing.T) {
	jwk := JWK{
		Kty: "UNSUPPORTED",
		Kid: "test-key",
	}

	_, err := jwk.PEM()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported kty")
}

func TestJWK_PEM_InvalidBase64(t *testing.T) {
	jwk := JWK{
		Kty: "RSA",
		Kid: "test-key",
		N:   "!!!invalid-base64!!!",
		E:   "AQAB",
	}

	_, err := jwk.PEM()
	require.Error(t, err)
}

func TestES256JWKCoordinatesArePadded(t *testing.T) {
	// Regenerate until we hit a key whose X or Y has a leading zero byte
	// would take forever; instead just assert the fixed encoded length,
	// which is what RFC 7518 requires for P-256 (32-byte coordinates).
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	jwk := NewES256JWK("pad-check", "sig", "ES256", &privateKey.PublicKey)

	// 32 bytes base64url-encode to 43 characters without padding
	require.Len(t, jwk.X, 43)
	require.Len(t, jwk.Y, 43)
}
