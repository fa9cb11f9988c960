package models

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry()
	require.NoError(t, r.AddTable(Table{ID: 1, Name: "T1"}))
	require.NoError(t, r.AddTable(Table{ID: 2, Name: "fallback"}))
	require.NoError(t, r.AddHost(Host{ID: 1, Name: "A", Addr: netip.MustParseAddrPort("10.0.0.1:80"), TableID: 1}))
	require.NoError(t, r.AddHost(Host{ID: 2, Name: "B", Addr: netip.MustParseAddrPort("10.0.0.2:80"), TableID: 1}))
	require.NoError(t, r.AddHost(Host{ID: 3, Name: "C", Addr: netip.MustParseAddrPort("10.0.1.1:80"), TableID: 2}))
	require.NoError(t, r.AddService(Service{ID: 1, Name: "S1", TableID: 1, BackupTableID: 2}))
	return r
}

func TestRegistryLookups(t *testing.T) {
	r := newTestRegistry(t)

	host, ok := r.HostByID(2)
	require.True(t, ok)
	assert.Equal(t, "B", host.Name)

	_, ok = r.HostByID(42)
	assert.False(t, ok)

	table, ok := r.TableByName("T1")
	require.True(t, ok)
	assert.Equal(t, []HostID{1, 2}, table.Hosts)

	_, ok = r.TableByName("nope")
	assert.False(t, ok)

	svc, ok := r.ServiceByName("S1")
	require.True(t, ok)
	assert.Equal(t, TableID(1), svc.TableID)

	_, ok = r.ServiceByID(9)
	assert.False(t, ok)

	host, ok = r.HostByName("C")
	require.True(t, ok)
	assert.Equal(t, TableID(2), host.TableID)
}

func TestRegistryRejectsBrokenTopology(t *testing.T) {
	r := newTestRegistry(t)

	require.ErrorIs(t, r.AddTable(Table{ID: 1, Name: "other"}), ErrDuplicate)
	require.ErrorIs(t, r.AddTable(Table{ID: 7, Name: "T1"}), ErrDuplicate)
	require.ErrorIs(t, r.AddHost(Host{ID: 1, TableID: 1}), ErrDuplicate)
	require.ErrorIs(t, r.AddHost(Host{ID: 9, TableID: 5}), ErrTableNotFound)
	require.ErrorIs(t, r.AddService(Service{ID: 5, Name: "x", TableID: 5}), ErrTableNotFound)
	require.ErrorIs(t, r.AddService(Service{ID: 5, Name: "x", TableID: 1, BackupTableID: 8}), ErrTableNotFound)
}

func TestApplyHostStatusIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	table, _ := r.TableByID(1)

	changed, err := r.ApplyHostStatus(1, 1, HostUp)
	require.NoError(t, err)
	assert.True(t, changed)
	first := r.EnabledHostCount(table)

	changed, err = r.ApplyHostStatus(1, 1, HostUp)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, r.EnabledHostCount(table))
	assert.Equal(t, 1, first)
}

func TestApplyHostStatusErrors(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.ApplyHostStatus(1, 3, HostUp)
	require.ErrorIs(t, err, ErrHostNotInTable)

	_, err = r.ApplyHostStatus(1, 99, HostUp)
	require.ErrorIs(t, err, ErrHostNotFound)

	_, err = r.ApplyHostStatus(99, 1, HostUp)
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestUnknownToDownKeepsEnabledCount(t *testing.T) {
	r := newTestRegistry(t)
	table, _ := r.TableByID(1)

	_, err := r.ApplyHostStatus(1, 1, HostUp)
	require.NoError(t, err)
	changed, err := r.ApplyHostStatus(1, 2, HostDown)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, 1, r.EnabledHostCount(table))
	members := r.EnabledHosts(table)
	require.Len(t, members, 1)
	assert.Equal(t, "A", members[0].Name)
}

func TestDisableHostAndTable(t *testing.T) {
	r := newTestRegistry(t)
	table, _ := r.TableByID(1)
	_, _ = r.ApplyHostStatus(1, 1, HostUp)
	_, _ = r.ApplyHostStatus(1, 2, HostUp)
	require.Equal(t, 2, r.EnabledHostCount(table))

	host, changed, err := r.SetHostDisabled(1, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, HostUnknown, host.Status)
	assert.Equal(t, 1, r.EnabledHostCount(table))

	_, changed, err = r.SetHostDisabled(1, true)
	require.NoError(t, err)
	assert.False(t, changed)

	_, changed, err = r.SetTableDisabled(1, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, r.EnabledHostCount(table))
	assert.Empty(t, r.EnabledHosts(table))

	host, _ = r.HostByID(2)
	assert.Equal(t, HostUnknown, host.Status)
}

func TestActiveTableFallsBackToBackup(t *testing.T) {
	r := newTestRegistry(t)
	svc, _ := r.ServiceByName("S1")

	active, ok := r.ActiveTable(svc)
	require.True(t, ok)
	assert.Equal(t, "fallback", active.Name)

	_, _ = r.ApplyHostStatus(1, 2, HostUp)
	active, ok = r.ActiveTable(svc)
	require.True(t, ok)
	assert.Equal(t, "T1", active.Name)

	var names []string
	for s := range r.ServicesOf(2) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"S1"}, names)
}

func TestHostStatusString(t *testing.T) {
	assert.Equal(t, "up", HostUp.String())
	assert.Equal(t, "down", HostDown.String())
	assert.Equal(t, "unknown", HostUnknown.String())
	assert.False(t, HostStatus(5).Valid())
	assert.Equal(t, HostDown, StatusFromProbe(false))
}
