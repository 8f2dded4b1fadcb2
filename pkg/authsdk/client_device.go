package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// StartDeviceAuthorization begins an RFC 8628 device flow. The returned
// UserCode is shown to the user together with VerificationURI; the
// DeviceCode is what the device polls DeviceCodeGrant with. clientSecret is
// empty for public clients, which is the normal case for devices.
func (c *SDKClient) StartDeviceAuthorization(
	ctx context.Context,
	clientID, clientSecret string,
	scopes []string,
) (*DeviceAuthorizationResponse, error) {
	data := url.Values{
		"client_id": {clientID},
	}
	if clientSecret != "" {
		data.Set("client_secret", clientSecret)
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	resp, err := c.postForm(ctx, "/oauth/device/authorize", data, nil)
	if err != nil {
		return nil, err
	}

	var deviceResp DeviceAuthorizationResponse
	if err := decodeJSON(resp, &deviceResp, http.StatusOK); err != nil {
		return nil, err
	}

	return &deviceResp, nil
}
