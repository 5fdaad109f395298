// Package oidc talks to the external OIDC client registry.
package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Registry is the HTTP client for the external OIDC client registry. It
// satisfies the client-registry contract the OpenID Connect hook depends
// on.
type Registry struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

func NewRegistry(baseURL, user, password string, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		baseURL:  baseURL,
		user:     user,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

func (r *Registry) clientURL(clientID string) string {
	return r.baseURL + "/client/" + url.PathEscape(clientID)
}

// Get fetches the client by id. A missing client returns an empty map.
func (r *Registry) Get(ctx context.Context, clientID string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.clientURL(clientID), nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	req.SetBasicAuth(r.user, r.password)
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get oidc client %s: %w", clientID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return map[string]any{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get oidc client %s: unexpected status %d", clientID, resp.StatusCode)
	}
	var client map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&client); err != nil {
		return nil, fmt.Errorf("decode oidc client %s: %w", clientID, err)
	}
	return client, nil
}

// CreateOrUpdate upserts the client in the registry.
func (r *Registry) CreateOrUpdate(ctx context.Context, client map[string]any) error {
	body, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("encode oidc client: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/client", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.user, r.password)
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("upsert oidc client: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upsert oidc client: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Delete removes the client. Deleting an unknown client is not an error.
func (r *Registry) Delete(ctx context.Context, clientID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.clientURL(clientID), nil)
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	req.SetBasicAuth(r.user, r.password)
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete oidc client %s: %w", clientID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete oidc client %s: unexpected status %d", clientID, resp.StatusCode)
	}
	return nil
}
