package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// IntrospectToken queries the RFC 7662 introspection endpoint. The caller
// authenticates as a registered client; the response is {"active": false}
// for any token that is unknown, expired, revoked or malformed, with no
// indication of which.
func (c *SDKClient) IntrospectToken(
	ctx context.Context,
	clientID, clientSecret, token, tokenTypeHint string,
) (*IntrospectionResponse, error) {
	data := url.Values{
		"token":     {token},
		"client_id": {clientID},
	}
	if clientSecret != "" {
		data.Set("client_secret", clientSecret)
	}
	if tokenTypeHint != "" {
		data.Set("token_type_hint", tokenTypeHint)
	}

	resp, err := c.postForm(ctx, "/oauth/introspect", data, nil)
	if err != nil {
		return nil, err
	}

	var introspectResp IntrospectionResponse
	if err := decodeJSON(resp, &introspectResp, http.StatusOK); err != nil {
		return nil, err
	}

	return &introspectResp, nil
}

// RevokeToken revokes a token via the RFC 7009 endpoint. Revoking an access
// token also revokes its refresh token and vice versa. The server returns
// success even for unknown or already-dead tokens, so a nil error only
// means the request was accepted, not that anything changed.
func (c *SDKClient) RevokeToken(
	ctx context.Context,
	clientID, clientSecret, token, tokenTypeHint string,
) error {
	data := url.Values{
		"token":     {token},
		"client_id": {clientID},
	}
	if clientSecret != "" {
		data.Set("client_secret", clientSecret)
	}
	if tokenTypeHint != "" {
		data.Set("token_type_hint", tokenTypeHint)
	}

	resp, err := c.postForm(ctx, "/oauth/revoke", data, nil)
	if err != nil {
		return err
	}

	var body map[string]any
	return decodeJSON(resp, &body, http.StatusOK)
}
