package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// EnrollTOTP starts TOTP enrollment for the session's user
// (POST /v1/mfa/enroll). The response carries the shared secret and an
// otpauth:// provisioning URL for QR rendering. MFA is not active until
// the first code is confirmed with VerifyTOTP.
func (s *Session) EnrollTOTP(ctx context.Context) (*TOTPEnrollResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/mfa/enroll", nil, nil)
	if err != nil {
		return nil, err
	}

	var enrollResp TOTPEnrollResponse
	if err := decodeJSON(resp, &enrollResp, http.StatusOK); err != nil {
		return nil, err
	}

	return &enrollResp, nil
}

// VerifyTOTP confirms the first code from the authenticator app and
// switches MFA on for the user (POST /v1/mfa/verify). Subsequent logins on
// the authorize endpoint will require the second factor.
func (s *Session) VerifyTOTP(ctx context.Context, code string) error {
	body, err := json.Marshal(TOTPVerifyRequest{Code: code})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.doAuthRequest(
		ctx,
		http.MethodPost,
		"/v1/mfa/verify",
		bytes.NewReader(body),
		map[string]string{"Content-Type": "application/json"},
	)
	if err != nil {
		return err
	}

	var result map[string]string
	return decodeJSON(resp, &result, http.StatusOK)
}

// RemoveTOTP disables MFA for the session's user (DELETE /v1/mfa/totp).
// A current TOTP code is required as confirmation.
func (s *Session) RemoveTOTP(ctx context.Context, code string) error {
	body, err := json.Marshal(TOTPRemoveRequest{Code: code})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.doAuthRequest(
		ctx,
		http.MethodDelete,
		"/v1/mfa/totp",
		bytes.NewReader(body),
		map[string]string{"Content-Type": "application/json"},
	)
	if err != nil {
		return err
	}

	var result map[string]string
	return decodeJSON(resp, &result, http.StatusOK)
}

// DescribeMFAChallenge looks up a pending MFA challenge by the mfa_token
// from a 409 authorize response (POST /v1/mfa/challenge). No session is
// needed; the mfa_token is the credential, so this lives on SDKClient.
func (c *SDKClient) DescribeMFAChallenge(ctx context.Context, mfaToken string) (*MFAChallengeResponse, error) {
	body, err := json.Marshal(MFAChallengeRequest{MFAToken: mfaToken})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/mfa/challenge", bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return nil, err
	}

	var challenge MFAChallengeResponse
	if err := decodeJSON(resp, &challenge, http.StatusOK); err != nil {
		return nil, err
	}

	return &challenge, nil
}
