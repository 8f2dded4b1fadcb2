package dpopx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// allowedAlgs are the proof signature algorithms the server accepts.
// Symmetric algorithms are excluded because the proof key must be the
// client's own keypair, never a shared secret.
var allowedAlgs = map[string]bool{
	"ES256": true,
	"ES384": true,
	"ES512": true,
	"RS256": true,
	"PS256": true,
	"EdDSA": true,
}

// Algorithms returns the accepted proof algorithms in sorted order, for
// server discovery metadata.
func Algorithms() []string {
	algs := make([]string, 0, len(allowedAlgs))
	for alg := range allowedAlgs {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	return algs
}

// Proof is the validated content of a proof JWT.
type Proof struct {
	// JKT is the RFC 7638 thumbprint of the embedded public key. Compared
	// against the dpop_jkt stored on bound access tokens.
	JKT string

	// JTI is the proof's unique identifier. Callers record it in a replay
	// cache; a second sighting within the acceptance window is an attack.
	JTI string

	// IssuedAt is the proof's iat claim.
	IssuedAt time.Time

	// Nonce echoes the proof's nonce claim when present.
	Nonce string

	// AccessTokenHash echoes the ath claim when present. Resource endpoints
	// compare it against AccessTokenHash of the presented token.
	AccessTokenHash string
}

// VerifierOptions configures proof verification.
type VerifierOptions struct {
	// MaxAge is the acceptance window around iat. Zero means DefaultMaxAge.
	MaxAge time.Duration

	// Now overrides the clock, for tests. Zero means time.Now.
	Now func() time.Time
}

// Verifier checks proof JWTs against the request they claim to cover. It is
// stateless; jti replay tracking lives with the caller.
type Verifier struct {
	maxAge time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewVerifier returns a Verifier with the given options.
func NewVerifier(opts VerifierOptions) *Verifier {
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Verifier{
		maxAge: opts.MaxAge,
		now:    opts.Now,
		parser: jwt.NewParser(jwt.WithTimeFunc(opts.Now)),
	}
}

type proofClaims struct {
	jwt.RegisteredClaims
	Method          string `json:"htm,omitempty"`
	TargetURI       string `json:"htu,omitempty"`
	Nonce           string `json:"nonce,omitempty"`
	AccessTokenHash string `json:"ath,omitempty"`
}

// Verify checks a proof against the method and URL of the current request
// and returns its validated content. The signature is verified with the key
// embedded in the proof itself; binding that key to a token is done by the
// caller via Proof.JKT.
func (v *Verifier) Verify(proof, method, uri string) (*Proof, error) {
	var proofKey jwk.Key

	claims := &proofClaims{}
	_, err := v.parser.ParseWithClaims(proof, claims, func(t *jwt.Token) (any, error) {
		if typ, _ := t.Header["typ"].(string); typ != ProofType {
			return nil, fmt.Errorf("%w: got %q", ErrHeaderTyp, typ)
		}
		if !allowedAlgs[t.Method.Alg()] {
			return nil, fmt.Errorf("%w: got %q", ErrAlgorithm, t.Method.Alg())
		}

		key, err := embeddedKey(t)
		if err != nil {
			return nil, err
		}
		proofKey = key

		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("%w: extracting jwk header key: %v", ErrMalformed, err)
		}
		switch raw.(type) {
		case *ecdsa.PublicKey, *rsa.PublicKey, ed25519.PublicKey:
			return raw, nil
		case *ecdsa.PrivateKey, *rsa.PrivateKey, ed25519.PrivateKey:
			return nil, ErrPrivateJWK
		default:
			return nil, fmt.Errorf("%w: jwk header key type %T", ErrAlgorithm, raw)
		}
	})
	if err != nil {
		return nil, mapError(err)
	}

	if claims.ID == "" || claims.Method == "" || claims.TargetURI == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: jti, htm, htu and iat are all required", ErrMissingClaim)
	}

	if claims.Method != method {
		return nil, fmt.Errorf("%w: proof covers %s, request is %s", ErrMethodMismatch, claims.Method, method)
	}

	wantHTU, err := normalizeHTU(uri)
	if err != nil {
		return nil, fmt.Errorf("dpopx: request url %q: %w", uri, err)
	}
	gotHTU, err := normalizeHTU(claims.TargetURI)
	if err != nil || gotHTU != wantHTU {
		return nil, fmt.Errorf("%w: proof covers %q, request is %q", ErrURIMismatch, claims.TargetURI, uri)
	}

	now := v.now()
	iat := claims.IssuedAt.Time
	if iat.Before(now.Add(-v.maxAge)) || iat.After(now.Add(v.maxAge)) {
		return nil, fmt.Errorf("%w: issued %s, window is %s", ErrStale, iat.UTC().Format(time.RFC3339), v.maxAge)
	}

	jkt, err := Thumbprint(proofKey)
	if err != nil {
		return nil, fmt.Errorf("dpopx: computing thumbprint: %w", err)
	}

	return &Proof{
		JKT:             jkt,
		JTI:             claims.ID,
		IssuedAt:        iat,
		Nonce:           claims.Nonce,
		AccessTokenHash: claims.AccessTokenHash,
	}, nil
}

// embeddedKey parses the public key carried in the proof's jwk header.
func embeddedKey(t *jwt.Token) (jwk.Key, error) {
	raw, ok := t.Header["jwk"]
	if !ok {
		return nil, ErrMissingJWK
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encoding jwk header: %v", ErrMalformed, err)
	}
	key, err := jwk.ParseKey(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing jwk header: %v", ErrMalformed, err)
	}
	return key, nil
}

// normalizeHTU prepares a URL for htu comparison: query and fragment are
// dropped per RFC 9449, scheme and host are lowercased. Ports must match as
// written.
func normalizeHTU(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute url")
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

// mapError folds golang-jwt parser failures into the package sentinels.
// Keyfunc errors travel wrapped under ErrTokenUnverifiable with the chain
// preserved, so the package's own sentinels are checked first.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrHeaderTyp),
		errors.Is(err, ErrAlgorithm),
		errors.Is(err, ErrMissingJWK),
		errors.Is(err, ErrPrivateJWK),
		errors.Is(err, ErrMalformed):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: proof expired", ErrStale)
	default:
		return fmt.Errorf("dpopx: verify proof: %w", err)
	}
}
