package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RotateKey mints a new signing key (POST /v1/keys/rotate). With
// RetireExisting set, the current active keys are retired in the same
// operation; retired keys stay in the JWKS for the configured grace period
// so already-issued ID tokens remain verifiable.
//
// Requires: admin scope
func (s *Session) RotateKey(ctx context.Context, req RotateKeyRequest) (*RotateKeyResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.doAuthRequest(
		ctx,
		http.MethodPost,
		"/v1/keys/rotate",
		bytes.NewReader(body),
		map[string]string{"Content-Type": "application/json"},
		"admin",
	)
	if err != nil {
		return nil, err
	}

	var rotateResp RotateKeyResponse
	if err := decodeJSON(resp, &rotateResp, http.StatusOK); err != nil {
		return nil, err
	}

	return &rotateResp, nil
}

// ListKeys lists the signing keys with their status (GET /v1/keys).
//
// Requires: admin scope
func (s *Session) ListKeys(ctx context.Context) ([]SigningKeyInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/keys", nil, nil, "admin")
	if err != nil {
		return nil, err
	}

	var keys []SigningKeyInfo
	if err := decodeJSON(resp, &keys, http.StatusOK); err != nil {
		return nil, err
	}

	return keys, nil
}

// RetireKey retires a single signing key by kid (POST /v1/keys/{kid}/retire).
//
// Requires: admin scope
func (s *Session) RetireKey(ctx context.Context, kid string) error {
	resp, err := s.doAuthRequest(
		ctx,
		http.MethodPost,
		fmt.Sprintf("/v1/keys/%s/retire", kid),
		nil,
		nil,
		"admin",
	)
	if err != nil {
		return err
	}

	return checkStatusNoContent(resp)
}
