package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// CreateClient registers a new OAuth2 client (POST /v1/clients). For
// confidential clients the generated secret is returned exactly once.
//
// Requires: admin scope
func (s *Session) CreateClient(ctx context.Context, req CreateClientRequest) (*CreateClientResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.doAuthRequest(
		ctx,
		http.MethodPost,
		"/v1/clients",
		bytes.NewReader(body),
		map[string]string{"Content-Type": "application/json"},
		"admin",
	)
	if err != nil {
		return nil, err
	}

	var created CreateClientResponse
	if err := decodeJSON(resp, &created, http.StatusCreated); err != nil {
		return nil, err
	}

	return &created, nil
}

// ListClients lists all registered OAuth2 clients (GET /v1/clients).
//
// Requires: admin scope
func (s *Session) ListClients(ctx context.Context) (*ListClientsResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/clients", nil, nil, "admin")
	if err != nil {
		return nil, err
	}

	var list ListClientsResponse
	if err := decodeJSON(resp, &list, http.StatusOK); err != nil {
		return nil, err
	}

	return &list, nil
}

// GetClient fetches a single registered client by ID (GET /v1/clients/{id}).
//
// Requires: admin scope
func (s *Session) GetClient(ctx context.Context, clientID string) (*ClientInfo, error) {
	resp, err := s.doAuthRequest(
		ctx,
		http.MethodGet,
		fmt.Sprintf("/v1/clients/%s", clientID),
		nil,
		nil,
		"admin",
	)
	if err != nil {
		return nil, err
	}

	var info ClientInfo
	if err := decodeJSON(resp, &info, http.StatusOK); err != nil {
		return nil, err
	}

	return &info, nil
}

// DeleteClient removes a registered client (DELETE /v1/clients/{id}).
// Protected clients (the bootstrap client) refuse deletion.
//
// Requires: admin scope
func (s *Session) DeleteClient(ctx context.Context, clientID string) error {
	resp, err := s.doAuthRequest(
		ctx,
		http.MethodDelete,
		fmt.Sprintf("/v1/clients/%s", clientID),
		nil,
		nil,
		"admin",
	)
	if err != nil {
		return err
	}

	return checkStatusNoContent(resp)
}
