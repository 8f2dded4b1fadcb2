// Package dpopx implements DPoP proof JWTs (RFC 9449). A proof is a short
// lived JWT signed with the client's own key; the public half travels in the
// proof's jwk header and its RFC 7638 thumbprint (jkt) is what the server
// stores on the access token. Replay protection on jti is the caller's job
// since it needs shared state.
package dpopx

import (
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	// HeaderName is the HTTP request header carrying the proof.
	HeaderName = "DPoP"

	// ProofType is the required JOSE typ header of a proof JWT.
	ProofType = "dpop+jwt"

	// TokenType is the token_type returned for proof-bound access tokens
	// in place of Bearer.
	TokenType = "DPoP"

	// DefaultMaxAge is the acceptance window around a proof's iat claim.
	DefaultMaxAge = 60 * time.Second

	// ProofTTL is the exp horizon stamped on proofs built by this package.
	ProofTTL = 30 * time.Second
)

// Verification failures callers branch on. The token endpoint maps every one
// of these to the invalid_dpop_proof error code.
var (
	ErrMalformed      = errors.New("dpopx: malformed proof")
	ErrHeaderTyp      = errors.New("dpopx: proof typ header must be dpop+jwt")
	ErrAlgorithm      = errors.New("dpopx: proof alg must be an allowed asymmetric algorithm")
	ErrMissingJWK     = errors.New("dpopx: proof jwk header missing")
	ErrPrivateJWK     = errors.New("dpopx: proof jwk header must not carry a private key")
	ErrSignature      = errors.New("dpopx: proof signature invalid")
	ErrMissingClaim   = errors.New("dpopx: proof claims incomplete")
	ErrMethodMismatch = errors.New("dpopx: proof htm does not match request method")
	ErrURIMismatch    = errors.New("dpopx: proof htu does not match request url")
	ErrStale          = errors.New("dpopx: proof iat outside acceptance window")
)

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of the key's public
// half, base64url encoded without padding. This is the jkt value stored on
// bound access tokens and echoed in the cnf confirmation claim.
func Thumbprint(key jwk.Key) (string, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return "", err
	}
	sum, err := pub.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// AccessTokenHash computes the ath claim value for an access token string:
// base64url(SHA-256(token)), no padding. Proofs sent to resource endpoints
// carry it so a stolen proof cannot be replayed with a different token.
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
