package scripthc

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/hoststated/pkg/healthcheck"
)

var target = healthcheck.Target{Name: "a", Addr: netip.MustParseAddrPort("10.0.0.1:80")}

func script(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "check.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func run(t *testing.T, path string, timeout time.Duration) (bool, error) {
	t.Helper()

	s, err := NewScriptStrategy(&ScriptSettings{Path: path, Timeout: timeout}, target)
	require.NoError(t, err)
	return s.DoHealthCheck(context.Background())
}

func TestExitStatus(t *testing.T) {
	up, err := run(t, script(t, `[ "$1" = "10.0.0.1" ]`), time.Second)
	require.NoError(t, err)
	assert.True(t, up)

	up, err = run(t, script(t, "exit 1"), time.Second)
	require.NoError(t, err)
	assert.False(t, up)
}

func TestTimeoutIsDown(t *testing.T) {
	up, err := run(t, script(t, "sleep 5"), 50*time.Millisecond)

	assert.False(t, up)
	assert.False(t, healthcheck.IsLocal(err))
}

func TestMissingScriptIsLocal(t *testing.T) {
	up, err := run(t, filepath.Join(t.TempDir(), "missing"), time.Second)

	assert.False(t, up)
	assert.True(t, healthcheck.IsLocal(err))
}

func TestPathRequired(t *testing.T) {
	_, err := NewScriptStrategy(&ScriptSettings{}, target)
	assert.Error(t, err)
}
