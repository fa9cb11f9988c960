package models

import (
	"net/netip"
	"time"

	"github.com/Sh00ty/hoststated/pkg/healthcheck"
)

type (
	HostID    uint32
	TableID   uint32
	ServiceID uint32
)

type Host struct {
	ID       HostID         `cbor:"id"`
	Name     string         `cbor:"name"`
	Addr     netip.AddrPort `cbor:"addr"`
	TableID  TableID        `cbor:"table"`
	Status   HostStatus     `cbor:"status"`
	Disabled bool           `cbor:"disabled,omitempty"`

	// counters of the last transition, reported by hce
	CheckCount uint64 `cbor:"checks,omitempty"`
	UpCount    uint64 `cbor:"up_checks,omitempty"`
}

func (h *Host) Enabled() bool {
	return !h.Disabled && h.Status == HostUp
}

type CheckSettings struct {
	Strategy healthcheck.StrategyName `cbor:"strategy"`
	Interval time.Duration            `cbor:"interval"`
	Timeout  time.Duration            `cbor:"timeout"`
	// Retry is the number of extra failed probes tolerated before a host
	// that is up goes down.
	Retry  uint8  `cbor:"retry,omitempty"`
	Params []byte `cbor:"params,omitempty"`
}

type Table struct {
	ID       TableID       `cbor:"id"`
	Name     string        `cbor:"name"`
	Check    CheckSettings `cbor:"check"`
	Disabled bool          `cbor:"disabled,omitempty"`

	// Hosts is filled by Registry.AddHost and is not sent over the wire.
	Hosts []HostID `cbor:"-"`
}

type Service struct {
	ID            ServiceID        `cbor:"id"`
	Name          string           `cbor:"name"`
	TableID       TableID          `cbor:"table"`
	BackupTableID TableID          `cbor:"backup,omitempty"`
	Virtual       []netip.AddrPort `cbor:"virtual,omitempty"`
	Disabled      bool             `cbor:"disabled,omitempty"`
}
