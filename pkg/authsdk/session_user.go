package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GetUserInfo retrieves the OpenID Connect claims for the session's user
// from GET /oauth/userinfo. The claims present depend on the token's
// scopes: sub always, the profile family with the profile scope, the email
// family with the email scope.
//
// Requires: openid scope
func (s *Session) GetUserInfo(ctx context.Context) (*UserInfoResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/oauth/userinfo", nil, nil, "openid")
	if err != nil {
		return nil, err
	}

	var userInfo UserInfoResponse
	if err := decodeJSON(resp, &userInfo, http.StatusOK); err != nil {
		return nil, err
	}

	return &userInfo, nil
}

// ApproveDevice records the session user's verdict on a pending device
// authorization (POST /oauth/device/approve). userCode is the short code
// shown on the device; approve false denies the request. An approved
// device receives tokens on its next poll.
func (s *Session) ApproveDevice(ctx context.Context, userCode string, approve bool) error {
	body, err := json.Marshal(DeviceApproveRequest{
		UserCode: userCode,
		Approve:  approve,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.doAuthRequest(
		ctx,
		http.MethodPost,
		"/oauth/device/approve",
		bytes.NewReader(body),
		map[string]string{"Content-Type": "application/json"},
	)
	if err != nil {
		return err
	}

	var result map[string]string
	return decodeJSON(resp, &result, http.StatusOK)
}
