package authsdk

import (
	"context"
	"net/http"
)

// GetLiveness checks whether the service process is up (GET /livez).
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/livez", nil, nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}

	return &health, nil
}

// GetReadiness checks whether the service can serve traffic (GET /readyz).
// The response includes per-dependency checks for the database and signer.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/readyz", nil, nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}

	return &health, nil
}

// GetVersion returns the server build version (GET /version).
func (c *SDKClient) GetVersion(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/version", nil, nil)
	if err != nil {
		return "", err
	}

	var body struct {
		Version string `json:"version"`
	}
	if err := decodeJSON(resp, &body, http.StatusOK); err != nil {
		return "", err
	}

	return body.Version, nil
}
