package jwtx_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const exampleIssuer = "lockplane-auth"

var exampleSecret = []byte("0123456789abcdef0123456789abcdef")

func TestHS256SignAndVerify(t *testing.T) {
	signer, err := jwtx.NewSignerHS256("hmac-1", exampleSecret)
	require.NoError(t, err)
	require.NoError(t, signer.Validate())
	require.Equal(t, "HS256", signer.Alg())
	require.Equal(t, "hmac-1", signer.KID())

	now := time.Now().UTC()
	claims := jwtx.NewAccessClaims(
		"user-123",              // subject
		"client-abc",            // client
		"at-01HXYZ",             // token row ID, becomes jti
		[]string{"read", "pay"}, // scopes
		2*time.Minute,           // TTL
		exampleIssuer,           // issuer
		[]string{"client-abc"},  // audience
		now,                     // issued at
	)
	claims.Confirmation = &jwtx.Confirmation{JKT: "thumb-1234"}
	claims.AuthorizationDetails = json.RawMessage(`[{"type":"payment_initiation"}]`)

	token, err := signer.Sign(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	verifier := jwtx.NewVerifierHS256(exampleSecret, exampleIssuer, nil)

	parsed, err := verifier.Verify(token)
	require.NoError(t, err)
	require.NotNil(t, parsed)

	require.Equal(t, claims.Subject, parsed.Subject)
	require.Equal(t, claims.ClientID, parsed.ClientID)
	require.Equal(t, "at-01HXYZ", parsed.ID)
	require.Equal(t, jwtx.TokenTypeAccess, parsed.Type)
	require.ElementsMatch(t, claims.Scopes, parsed.Scopes)
	require.NotNil(t, parsed.Confirmation)
	require.Equal(t, "thumb-1234", parsed.Confirmation.JKT)
	require.JSONEq(t, string(claims.AuthorizationDetails), string(parsed.AuthorizationDetails))
}

func TestHS256RejectsShortSecret(t *testing.T) {
	_, err := jwtx.NewSignerHS256("hmac-1", []byte("too-short"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least 32 bytes")
}

func TestHS256VerifyFailsForWrongSecret(t *testing.T) {
	signer, err := jwtx.NewSignerHS256("hmac-1", exampleSecret)
	require.NoError(t, err)

	now := time.Now().UTC()
	claims := jwtx.NewAccessClaims(
		"user-123", "client-abc", "at-1", nil,
		1*time.Minute, exampleIssuer, nil, now,
	)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	otherSecret := []byte("ffffffffffffffffffffffffffffffff")
	verifier := jwtx.NewVerifierHS256(otherSecret, exampleIssuer, nil)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
}

func TestHS256VerifyFailsForExpiredToken(t *testing.T) {
	signer, err := jwtx.NewSignerHS256("hmac-1", exampleSecret)
	require.NoError(t, err)

	issued := time.Now().UTC().Add(-10 * time.Minute)
	claims := jwtx.NewAccessClaims(
		"user-123", "client-abc", "at-1", nil,
		1*time.Minute, exampleIssuer, nil, issued,
	)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	verifier := jwtx.NewVerifierHS256(exampleSecret, exampleIssuer, nil)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrExpired)
}

func TestHS256VerifyFailsForMalformedToken(t *testing.T) {
	verifier := jwtx.NewVerifierHS256(exampleSecret, exampleIssuer, nil)

	for _, garbage := range []string{"", "not-a-jwt", "a.b", "a.b.c.d"} {
		_, err := verifier.Verify(garbage)
		require.ErrorIs(t, err, jwtx.ErrMalformed, "input %q", garbage)
	}
}

func TestHS256VerifyFailsForWrongIssuer(t *testing.T) {
	signer, err := jwtx.NewSignerHS256("hmac-1", exampleSecret)
	require.NoError(t, err)

	now := time.Now().UTC()
	claims := jwtx.NewAccessClaims(
		"user-123", "client-abc", "at-1", nil,
		1*time.Minute, exampleIssuer, nil, now,
	)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	verifier := jwtx.NewVerifierHS256(exampleSecret, "someone-else", nil)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrIssuer)
}

func TestHS256VerifyRejectsAsymmetricToken(t *testing.T) {
	// A token signed RS256 must never pass an HS256 verifier, even though
	// both produce three dot-separated segments.
	pemKey, err := cryptox.GenerateRSAKey(2048)
	require.NoError(t, err)

	rsaSigner, err := jwtx.NewSignerRS256("rsa-key", pemKey)
	require.NoError(t, err)

	now := time.Now().UTC()
	claims := jwtx.NewAccessClaims(
		"user-123", "client-abc", "at-1", nil,
		1*time.Minute, exampleIssuer, nil, now,
	)
	token, err := rsaSigner.Sign(claims)
	require.NoError(t, err)

	verifier := jwtx.NewVerifierHS256(exampleSecret, exampleIssuer, nil)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
}

func TestHS256CommonVerifierAdapter(t *testing.T) {
	signer, err := jwtx.NewSignerHS256("hmac-1", exampleSecret)
	require.NoError(t, err)

	now := time.Now().UTC()
	claims := jwtx.NewAccessClaims(
		"user-123", "client-abc", "at-1", []string{"read"},
		1*time.Minute, exampleIssuer, nil, now,
	)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	verifier := jwtx.NewCommonHS256(exampleSecret, exampleIssuer, nil)

	parsed, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, claims.Subject, parsed.Subject)
	require.ElementsMatch(t, claims.Scopes, parsed.Scopes)
}
