// Package profile resolves user and business display profiles through a
// TTL cache backed by an external identity service. Profile data is
// non-authoritative; the cache degrades to stale or placeholder values
// when the external service is unavailable.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/chirino/chat-service/internal/config"
)

// ExternalDependencyError wraps a failure of the external identity
// service. It is logged and absorbed by the cache, never surfaced to
// API callers.
type ExternalDependencyError struct {
	Cause error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("profile service unavailable: %v", e.Cause)
}

func (e *ExternalDependencyError) Unwrap() error {
	return e.Cause
}

// Client fetches profiles from the external identity service. Profiles
// are returned keyed by uuid; uuids absent from the result were not
// found upstream.
type Client interface {
	BatchFetch(ctx context.Context, userUUIDs, businessUUIDs []string) (map[string]json.RawMessage, error)
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a Client that posts batch lookups to the
// identity service configured in cfg. The fetch timeout is a hard
// deadline covering the whole request.
func NewHTTPClient(cfg *config.Config) Client {
	return &httpClient{
		baseURL: strings.TrimSuffix(cfg.ProfileServiceURL, "/"),
		client:  &http.Client{Timeout: cfg.ProfileFetchTimeout},
	}
}

type batchRequest struct {
	UserUUIDs     []string `json:"user_uuids"`
	BusinessUUIDs []string `json:"business_uuids"`
}

// batchResponse carries one array per kind; every profile object is
// keyed by its "uuid" field. UUIDs absent from both arrays were not
// found upstream.
type batchResponse struct {
	Users      []json.RawMessage `json:"users"`
	Businesses []json.RawMessage `json:"businesses"`
}

func (c *httpClient) BatchFetch(ctx context.Context, userUUIDs, businessUUIDs []string) (map[string]json.RawMessage, error) {
	breq := batchRequest{UserUUIDs: userUUIDs, BusinessUUIDs: businessUUIDs}
	if breq.UserUUIDs == nil {
		breq.UserUUIDs = []string{}
	}
	if breq.BusinessUUIDs == nil {
		breq.BusinessUUIDs = []string{}
	}
	body, err := json.Marshal(breq)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/batch/profiles", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ExternalDependencyError{Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ExternalDependencyError{Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ExternalDependencyError{Cause: err}
	}

	profiles := make(map[string]json.RawMessage, len(out.Users)+len(out.Businesses))
	for _, kind := range [][]json.RawMessage{out.Users, out.Businesses} {
		for _, p := range kind {
			var key struct {
				UUID string `json:"uuid"`
			}
			// A profile without a uuid cannot be keyed; it falls through
			// to the not-found handling of its requested uuid.
			if err := json.Unmarshal(p, &key); err != nil || key.UUID == "" {
				continue
			}
			profiles[key.UUID] = p
		}
	}
	return profiles, nil
}
