package profile

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) Client {
	cfg := config.DefaultConfig()
	cfg.ProfileServiceURL = url
	cfg.ProfileFetchTimeout = 5 * time.Second
	return NewHTTPClient(&cfg)
}

func TestBatchFetch_WireContract(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/batch/profiles", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"users": [{"uuid": "u1", "displayName": "Alice"}],
			"businesses": [{"uuid": "b1", "displayName": "Acme Corp"}]
		}`))
	}))
	defer srv.Close()

	profiles, err := newTestClient(srv.URL).BatchFetch(context.Background(), []string{"u1", "u2"}, []string{"b1"})
	require.NoError(t, err)

	assert.Equal(t, []any{"u1", "u2"}, gotBody["user_uuids"])
	assert.Equal(t, []any{"b1"}, gotBody["business_uuids"])

	require.Contains(t, profiles, "u1")
	require.Contains(t, profiles, "b1")
	assert.JSONEq(t, `{"uuid":"u1","displayName":"Alice"}`, string(profiles["u1"]))
	assert.JSONEq(t, `{"uuid":"b1","displayName":"Acme Corp"}`, string(profiles["b1"]))

	// u2 was not served upstream; it stays absent so the cache layer
	// falls back to a placeholder.
	assert.NotContains(t, profiles, "u2")
}

func TestBatchFetch_EmptyKindsSentAsArrays(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw = string(b)
		_, _ = w.Write([]byte(`{"users": [], "businesses": []}`))
	}))
	defer srv.Close()

	profiles, err := newTestClient(srv.URL).BatchFetch(context.Background(), []string{"u1"}, nil)
	require.NoError(t, err)
	assert.Empty(t, profiles)
	assert.Contains(t, raw, `"business_uuids":[]`)
}

func TestBatchFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).BatchFetch(context.Background(), []string{"u1"}, nil)
	var depErr *ExternalDependencyError
	require.ErrorAs(t, err, &depErr)
}
