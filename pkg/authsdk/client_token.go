package authsdk

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// tokenEndpoint is where every grant except the device poll is redeemed.
const tokenEndpoint = "/oauth/token"

// ExchangeAuthorizationCode redeems an authorization code for tokens.
// The redirect URI must exactly match the one used on the authorize request,
// and the PKCE verifier must hash to the challenge the code was issued with.
// clientSecret is empty for public clients.
func (c *SDKClient) ExchangeAuthorizationCode(
	ctx context.Context,
	clientID, clientSecret, code, redirectURI, codeVerifier string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {clientID},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if clientSecret != "" {
		data.Set("client_secret", clientSecret)
	}
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	return c.requestToken(ctx, data)
}

// ClientCredentialsGrant requests an access token using the OAuth2 client_credentials grant.
// This grant is used for machine-to-machine (M2M) authentication where a client authenticates
// as itself (not on behalf of a user). The client must be confidential (have a secret).
//
// Note: This grant does NOT return a refresh token; clients can re-authenticate anytime, and
// the idea is the client only does short-lived work with the access token.
func (c *SDKClient) ClientCredentialsGrant(
	ctx context.Context,
	clientID, clientSecret string,
	scopes []string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	return c.requestToken(ctx, data)
}

// RefreshGrant requests new tokens using a refresh token. The server
// rotates on use: the presented token is revoked and the response carries
// its replacement. clientSecret is empty for public clients.
func (c *SDKClient) RefreshGrant(
	ctx context.Context,
	clientID, clientSecret, refreshToken string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}
	if clientSecret != "" {
		data.Set("client_secret", clientSecret)
	}

	return c.requestToken(ctx, data)
}

// DeviceCodeGrant polls the device token endpoint (RFC 8628 section 3.4).
// While the user has not decided, the returned error is an *OAuth2Error
// with code authorization_pending; slow_down means back off, access_denied
// and expired_token are terminal.
func (c *SDKClient) DeviceCodeGrant(
	ctx context.Context,
	clientID, clientSecret, deviceCode string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode},
		"client_id":   {clientID},
	}
	if clientSecret != "" {
		data.Set("client_secret", clientSecret)
	}

	return c.requestTokenAt(ctx, "/oauth/device/token", data)
}

// JWTBearerGrant exchanges a signed JWT assertion for tokens
// (RFC 7523). The assertion must be signed with a key from the client's
// registered JWKS; clientID may be empty when the assertion's iss claim
// identifies the client.
func (c *SDKClient) JWTBearerGrant(
	ctx context.Context,
	clientID, assertion string,
	scopes []string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	if clientID != "" {
		data.Set("client_id", clientID)
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	return c.requestToken(ctx, data)
}

func (c *SDKClient) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	return c.requestTokenAt(ctx, tokenEndpoint, data)
}

// requestTokenAt posts a token request and decodes the response. A DPoP
// proofer on the client signs the request so the issued token comes back
// sender-constrained (token_type "DPoP").
func (c *SDKClient) requestTokenAt(
	ctx context.Context,
	path string,
	data url.Values,
) (*TokenResponse, error) {
	var headers map[string]string
	if c.DPoP != nil {
		proof, err := c.DPoP.Sign("POST", c.url(path), "")
		if err != nil {
			return nil, fmt.Errorf("failed to sign DPoP proof: %w", err)
		}
		headers = map[string]string{"DPoP": proof}
	}

	resp, err := c.postForm(ctx, path, data, headers)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, 200); err != nil {
		return nil, err
	}

	return &tokenResp, nil
}
