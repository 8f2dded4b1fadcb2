package authsdk

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lockplane/authd/pkg/cryptox"
)

const authorizeEndpoint = "/oauth/authorize"

// PKCEChallenge holds the PKCE verifier and challenge pair.
// The verifier is kept secret by the client, and the challenge is sent to the authorization endpoint.
type PKCEChallenge struct {
	// Verifier is the high-entropy cryptographic random string (kept secret)
	Verifier string

	// Challenge is the base64url-encoded SHA256 hash of the verifier (sent to server)
	Challenge string

	// Method is always "S256" for SHA256
	Method string
}

// GeneratePKCEChallenge creates a new PKCE code verifier and challenge pair.
// Uses cryptox.TokenSize256 (256 bits of entropy) and SHA256 hashing per RFC 7636.
func GeneratePKCEChallenge() (*PKCEChallenge, error) {
	verifier, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	// Compute S256 challenge: BASE64URL(SHA256(verifier))
	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])

	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: challenge,
		Method:    "S256",
	}, nil
}

// BuildAuthorizeURL constructs an OAuth2 authorization URL for the authorization code flow.
// This URL should be used to redirect the user's browser to begin the authorization flow.
//
// Parameters:
//   - redirectURI: The URI to redirect back to after authorization (must match a registered redirect URI)
//   - state: Opaque value echoed back on the redirect (recommended for CSRF protection)
//   - scopes: List of scopes to request (optional)
//   - pkce: PKCE challenge (required for public clients, recommended for all)
//
// Example:
//
//	pkce, _ := authsdk.GeneratePKCEChallenge()
//	url := client.BuildAuthorizeURL("cli-app", "https://localhost/callback", "random-state", []string{"openid"}, pkce)
//	// Store pkce.Verifier for the later ExchangeAuthorizationCode call
//	// Redirect the user's browser to url
func (c *SDKClient) BuildAuthorizeURL(
	clientID, redirectURI, state string,
	scopes []string,
	pkce *PKCEChallenge,
) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)

	if state != "" {
		params.Set("state", state)
	}

	if len(scopes) > 0 {
		params.Set("scope", strings.Join(scopes, " "))
	}

	if pkce != nil {
		params.Set("code_challenge", pkce.Challenge)
		params.Set("code_challenge_method", pkce.Method)
	}

	return fmt.Sprintf("%s%s?%s", c.BaseURL, authorizeEndpoint, params.Encode())
}

// GetAuthorizeContext validates an authorization request server-side and
// returns what a login or consent page needs to render: the client's name
// and the effective scope list. No code is issued here.
func (c *SDKClient) GetAuthorizeContext(
	ctx context.Context,
	clientID, redirectURI, state string,
	scopes []string,
	pkce *PKCEChallenge,
) (*AuthorizeContext, error) {
	target := c.BuildAuthorizeURL(clientID, redirectURI, state, scopes, pkce)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var authCtx AuthorizeContext
	if err := decodeJSON(resp, &authCtx, http.StatusOK); err != nil {
		return nil, err
	}

	return &authCtx, nil
}

// AuthorizeWithPassword performs an interactive authorization using username and password.
// This is for server-side flows where credentials are collected directly.
//
// The method submits credentials via POST to the authorize endpoint and
// captures the authorization code from the 302 redirect. If the user has
// MFA enrolled it returns *MFARequiredError; complete with AuthorizeWithMFA.
//
// Returns the authorization code on success.
func (c *SDKClient) AuthorizeWithPassword(
	ctx context.Context,
	clientID, redirectURI, username, password string,
	scopes []string,
	pkce *PKCEChallenge,
) (string, error) {
	data := authorizeForm(clientID, redirectURI, scopes, pkce)
	data.Set("username", username)
	data.Set("password", password)

	return c.submitAuthorize(ctx, data, nil)
}

// AuthorizeWithMFA completes an authorization that was parked on a second
// factor. mfaError is the *MFARequiredError from AuthorizeWithPassword and
// code is the 6-digit TOTP code.
//
// Returns the authorization code on success.
func (c *SDKClient) AuthorizeWithMFA(
	ctx context.Context,
	clientID, redirectURI string,
	mfaError MFARequiredError,
	code string,
	scopes []string,
	pkce *PKCEChallenge,
) (string, error) {
	data := authorizeForm(clientID, redirectURI, scopes, pkce)
	data.Set("mfa_token", mfaError.MFAToken)
	data.Set("mfa_code", code)

	return c.submitAuthorize(ctx, data, nil)
}

// AuthorizeWithBearerToken performs authorization using an existing access token.
// This is useful when a user already has a valid session and wants to authorize
// a new client or request different scopes without re-entering credentials.
//
// Returns the authorization code on success.
func (c *SDKClient) AuthorizeWithBearerToken(
	ctx context.Context,
	accessToken string,
	clientID, redirectURI string,
	scopes []string,
	pkce *PKCEChallenge,
) (string, error) {
	data := authorizeForm(clientID, redirectURI, scopes, pkce)
	headers := map[string]string{"Authorization": "Bearer " + accessToken}

	return c.submitAuthorize(ctx, data, headers)
}

// AuthorizeAndExchange runs the whole authorization code flow in one call:
// generates a PKCE pair, authenticates the resource owner, captures the
// code from the redirect and exchanges it for tokens. clientSecret is empty
// for public clients (PKCE alone carries the proof).
func (c *SDKClient) AuthorizeAndExchange(
	ctx context.Context,
	clientID, clientSecret, redirectURI, username, password string,
	scopes []string,
) (*Session, error) {
	pkce, err := GeneratePKCEChallenge()
	if err != nil {
		return nil, err
	}

	code, err := c.AuthorizeWithPassword(ctx, clientID, redirectURI, username, password, scopes, pkce)
	if err != nil {
		return nil, err
	}

	tokenResp, err := c.ExchangeAuthorizationCode(ctx, clientID, clientSecret, code, redirectURI, pkce.Verifier)
	if err != nil {
		return nil, err
	}

	return newSession(c, clientID, clientSecret, tokenResp), nil
}

// authorizeForm assembles the protocol parameters common to every POST on
// the authorize endpoint.
func authorizeForm(clientID, redirectURI string, scopes []string, pkce *PKCEChallenge) url.Values {
	data := url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
	}

	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	if pkce != nil {
		data.Set("code_challenge", pkce.Challenge)
		data.Set("code_challenge_method", pkce.Method)
	}

	return data
}

// submitAuthorize posts the form without following redirects and pulls the
// code (or protocol error) out of the response. A 409 is an MFA challenge,
// a 302 carries either code or error parameters on the redirect target, and
// anything else is parsed as a JSON error body.
func (c *SDKClient) submitAuthorize(
	ctx context.Context,
	data url.Values,
	headers map[string]string,
) (string, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.url(authorizeEndpoint),
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.noRedirectClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusConflict {
		var mfaResp struct {
			Error            string   `json:"error"`
			ErrorDescription string   `json:"error_description"`
			MFAToken         string   `json:"mfa_token"`
			MFAMethods       []string `json:"mfa_methods"`
		}
		if err := json.Unmarshal(bodyBytes, &mfaResp); err != nil {
			return "", fmt.Errorf("failed to decode MFA response: %w", err)
		}

		return "", &MFARequiredError{
			MFAToken: mfaResp.MFAToken,
			Methods:  mfaResp.MFAMethods,
		}
	}

	if resp.StatusCode == http.StatusFound {
		return codeFromRedirect(resp.Header.Get("Location"))
	}

	return "", parseErrorResponse(resp, bodyBytes)
}

// codeFromRedirect extracts the authorization code from the Location header
// of a 302, or surfaces the error parameters the server redirected with.
func codeFromRedirect(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("redirect response missing Location header")
	}

	redirectURL, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect URL: %w", err)
	}

	query := redirectURL.Query()
	if code := query.Get("code"); code != "" {
		return code, nil
	}

	if errorCode := query.Get("error"); errorCode != "" {
		return "", &OAuth2Error{
			StatusCode:  http.StatusFound,
			Code:        errorCode,
			Description: query.Get("error_description"),
			State:       query.Get("state"),
		}
	}

	return "", fmt.Errorf("redirect missing authorization code")
}
