package httphc

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/hoststated/pkg/healthcheck"
)

func serve(t *testing.T, code int, body string) healthcheck.Target {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, userAgent, r.UserAgent())
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return healthcheck.Target{Name: "web", Addr: netip.MustParseAddrPort(ts.Listener.Addr().String())}
}

func check(t *testing.T, settings HTTPStrategySettings, target healthcheck.Target) (bool, error) {
	t.Helper()

	settings.Timeout = time.Second
	s, err := NewHTTPStrategy(&settings, target)
	require.NoError(t, err)
	return s.DoHealthCheck(context.Background())
}

func sum(body string) string {
	h := sha1.Sum([]byte(body))
	return hex.EncodeToString(h[:])
}

func TestStatusCode(t *testing.T) {
	target := serve(t, http.StatusNoContent, "")

	up, err := check(t, HTTPStrategySettings{Path: "/health"}, target)
	require.NoError(t, err)
	assert.True(t, up)

	up, err = check(t, HTTPStrategySettings{Path: "/health", Code: http.StatusOK}, target)
	require.NoError(t, err)
	assert.False(t, up)

	up, err = check(t, HTTPStrategySettings{Path: "/missing"}, target)
	require.NoError(t, err)
	assert.False(t, up)
}

func TestDigest(t *testing.T) {
	target := serve(t, http.StatusOK, "all good\n")

	up, err := check(t, HTTPStrategySettings{Path: "/health", Digest: sum("all good\n")}, target)
	require.NoError(t, err)
	assert.True(t, up)

	up, err = check(t, HTTPStrategySettings{Path: "/health", Digest: sum("something else")}, target)
	require.NoError(t, err)
	assert.False(t, up)
}

func TestInvalidSettings(t *testing.T) {
	target := healthcheck.Target{Addr: netip.MustParseAddrPort("127.0.0.1:80")}

	_, err := NewHTTPStrategy(&HTTPStrategySettings{Digest: "xyz"}, target)
	assert.Error(t, err)

	_, err = NewHTTPStrategy(&HTTPStrategySettings{}, healthcheck.Target{})
	assert.Error(t, err)
}

func TestConnectionRefusedIsDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := netip.MustParseAddrPort(ts.Listener.Addr().String())
	ts.Close()

	up, err := check(t, HTTPStrategySettings{}, healthcheck.Target{Addr: addr})

	assert.False(t, up)
	require.Error(t, err)
	assert.False(t, healthcheck.IsLocal(err))
}
