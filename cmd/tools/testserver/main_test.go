package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthToggles(t *testing.T) {
	ts := httptest.NewServer(newServer(0).mux())
	defer ts.Close()

	get := func() int {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	post := func(path string) {
		resp, err := http.Post(ts.URL+path, "text/plain", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, http.StatusOK, get())
	post("/health/down")
	assert.Equal(t, http.StatusServiceUnavailable, get())
	post("/health/up")
	assert.Equal(t, http.StatusOK, get())
}
