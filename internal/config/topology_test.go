package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/hoststated/internal/models"
	"github.com/Sh00ty/hoststated/pkg/healthcheck"
)

const sampleTopology = `
interval: 5s
tables:
  - name: T1
    port: 8080
    check:
      type: http
      timeout: 1s
      retry: 2
      params:
        path: /health
        code: 200
    hosts:
      - name: A
        addr: 10.0.0.1
      - name: B
        addr: 10.0.0.2:9090
  - name: fallback
    check:
      type: tcp
    hosts:
      - addr: 10.0.1.1:80
        disabled: true
services:
  - name: S1
    table: T1
    backup: fallback
    virtual: ["192.0.2.10:80"]
`

func TestParseTopology(t *testing.T) {
	reg, err := ParseTopology(strings.NewReader(sampleTopology))
	require.NoError(t, err)

	hosts, tables, services := reg.Len()
	assert.Equal(t, 3, hosts)
	assert.Equal(t, 2, tables)
	assert.Equal(t, 1, services)

	t1, ok := reg.TableByName("T1")
	require.True(t, ok)
	assert.Equal(t, models.TableID(1), t1.ID)
	assert.Equal(t, healthcheck.HTTPStrategy, t1.Check.Strategy)
	assert.Equal(t, 5*time.Second, t1.Check.Interval)
	assert.Equal(t, time.Second, t1.Check.Timeout)
	assert.Equal(t, uint8(2), t1.Check.Retry)
	assert.JSONEq(t, `{"path":"/health","code":200}`, string(t1.Check.Params))
	assert.Equal(t, []models.HostID{1, 2}, t1.Hosts)

	a, ok := reg.HostByName("A")
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.1:8080"), a.Addr)
	assert.Equal(t, models.HostUnknown, a.Status)

	unnamed, ok := reg.HostByID(3)
	require.True(t, ok)
	assert.Equal(t, "10.0.1.1", unnamed.Name)
	assert.True(t, unnamed.Disabled)

	fallback, _ := reg.TableByName("fallback")
	assert.Equal(t, defaultTimeout, fallback.Check.Timeout)

	svc, ok := reg.ServiceByName("S1")
	require.True(t, ok)
	assert.Equal(t, t1.ID, svc.TableID)
	assert.Equal(t, fallback.ID, svc.BackupTableID)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("192.0.2.10:80")}, svc.Virtual)
}

func TestParseTopologyRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty", doc: ""},
		{name: "unknown field", doc: "tabels: []"},
		{name: "table without name", doc: "tables: [{hosts: []}]"},
		{name: "duplicate table", doc: "tables: [{name: a}, {name: a}]"},
		{name: "bad address", doc: "tables: [{name: a, hosts: [{addr: nope}]}]"},
		{name: "address without port", doc: "tables: [{name: a, hosts: [{addr: 10.0.0.1}]}]"},
		{name: "timeout above interval", doc: "tables: [{name: a, check: {interval: 1s, timeout: 2s}}]"},
		{name: "unknown strategy", doc: "tables: [{name: a, check: {type: icmp6}, hosts: [{addr: '10.0.0.1:1'}]}]"},
		{name: "bad params", doc: "tables: [{name: a, check: {type: http, params: {code: x}}, hosts: [{addr: '10.0.0.1:1'}]}]"},
		{name: "service without table", doc: "services: [{name: s, table: nope}]"},
		{name: "backup equals primary", doc: "tables: [{name: a}]\nservices: [{name: s, table: a, backup: a}]"},
		{name: "bad virtual", doc: "tables: [{name: a}]\nservices: [{name: s, table: a, virtual: [x]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopology(strings.NewReader(tt.doc))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadTopologyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hoststated.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTopology), 0o600))

	reg, err := LoadTopology(path)
	require.NoError(t, err)
	_, ok := reg.ServiceByName("S1")
	assert.True(t, ok)

	_, err = LoadTopology(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("PF_BACKEND", "kafka")
	t.Setenv("SHUTDOWN_GRACE", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "kafka", cfg.PFBackend)
	assert.Equal(t, 2*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, "info", cfg.LoggerLevel)
	assert.Equal(t, uint16(16), cfg.ExecutorConcurrency)
	assert.Empty(t, cfg.StatsdAddr)
}

func TestLoadRejectsBadDurations(t *testing.T) {
	for _, tc := range []struct{ name, value string }{
		{"RESEND_INTERVAL", "0s"},
		{"RESEND_INTERVAL", "-1s"},
		{"SHUTDOWN_GRACE", "-5s"},
	} {
		t.Run(tc.name+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.name, tc.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.name)
		})
	}
}
