package common

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Sunwise/"+Version(), r.Header.Get("User-Agent"), "User-Agent should match expected format")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	timeout := 5 * time.Second
	client := HTTPClient(timeout)

	assert.Equal(t, timeout, client.Timeout, "Timeout should be set correctly")
	assert.NotNil(t, client.Transport, "Transport should not be nil")

	req, err := http.NewRequest("GET", server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NoError(t, CheckStatus(resp))
}

func TestCheckStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quota":
			http.Error(w, "too many", http.StatusTooManyRequests)
		case "/auth":
			http.Error(w, "nope", http.StatusUnauthorized)
		default:
			http.Error(w, "broken", http.StatusBadGateway)
		}
	}))
	defer server.Close()

	get := func(path string) error {
		resp, err := HTTPClient(time.Second).Get(server.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		return CheckStatus(resp)
	}

	err := get("/quota")
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
	assert.False(t, IsUnauthorized(err))
	assert.Equal(t, "status 429: too many", err.Error())

	err = get("/auth")
	assert.True(t, IsUnauthorized(err))

	err = get("/other")
	assert.False(t, IsQuotaExceeded(err))
	assert.False(t, IsUnauthorized(err))

	wrapped := fmt.Errorf("systems: %w", &StatusError{Code: http.StatusTooManyRequests})
	assert.True(t, IsQuotaExceeded(wrapped))
}
