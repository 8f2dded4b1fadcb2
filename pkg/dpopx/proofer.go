package dpopx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Proofer builds proofs for outbound requests. It holds the client's private
// key; the matching public JWK is embedded in every proof it signs. Safe for
// concurrent use.
type Proofer struct {
	raw    any
	method jwt.SigningMethod
	pubJWK map[string]any
	jkt    string
}

// GenerateKey returns a fresh P-256 private key as a jwk.Key, the usual
// choice for proof keys. The key never leaves the client; only thumbprints
// and public halves do.
func GenerateKey() (jwk.Key, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return jwk.FromRaw(priv)
}

// NewProofer wraps a private jwk.Key for proof signing. EC (P-256/384/521),
// RSA and Ed25519 keys are accepted.
func NewProofer(key jwk.Key) (*Proofer, error) {
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("dpopx: extracting raw key: %w", err)
	}

	method, err := signingMethodFor(raw)
	if err != nil {
		return nil, err
	}

	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("dpopx: deriving public key: %w", err)
	}

	// Round-trip through JSON so the header holds a plain map instead of a
	// jwk.Key implementation type.
	buf, err := json.Marshal(pub)
	if err != nil {
		return nil, fmt.Errorf("dpopx: encoding public jwk: %w", err)
	}
	var pubMap map[string]any
	if err := json.Unmarshal(buf, &pubMap); err != nil {
		return nil, fmt.Errorf("dpopx: decoding public jwk: %w", err)
	}

	jkt, err := Thumbprint(key)
	if err != nil {
		return nil, fmt.Errorf("dpopx: computing thumbprint: %w", err)
	}

	return &Proofer{raw: raw, method: method, pubJWK: pubMap, jkt: jkt}, nil
}

// Thumbprint returns the jkt of the proofer's key.
func (p *Proofer) Thumbprint() string {
	return p.jkt
}

// Sign builds a proof for an HTTP request. The nonce is included when the
// server demanded one; pass "" otherwise.
func (p *Proofer) Sign(method, uri, nonce string) (string, error) {
	return p.sign(method, uri, nonce, "")
}

// SignForResource builds a proof for a protected-resource request, binding
// it to the presented access token via the ath claim.
func (p *Proofer) SignForResource(method, uri, nonce, accessToken string) (string, error) {
	return p.sign(method, uri, nonce, AccessTokenHash(accessToken))
}

func (p *Proofer) sign(method, uri, nonce, ath string) (string, error) {
	now := time.Now().Unix()
	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"htm": method,
		"htu": uri,
		"iat": now,
		"exp": now + int64(ProofTTL/time.Second),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	if ath != "" {
		claims["ath"] = ath
	}

	token := jwt.NewWithClaims(p.method, claims)
	token.Header["typ"] = ProofType
	token.Header["jwk"] = p.pubJWK

	return token.SignedString(p.raw)
}

func signingMethodFor(raw any) (jwt.SigningMethod, error) {
	switch k := raw.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, nil
		}
		return nil, fmt.Errorf("dpopx: unsupported EC curve %s", k.Curve.Params().Name)
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("dpopx: unsupported key type %T", raw)
	}
}
