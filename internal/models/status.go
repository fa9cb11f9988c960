package models

import "fmt"

type HostStatus int8

const (
	HostDown    HostStatus = -1
	HostUnknown HostStatus = 0
	HostUp      HostStatus = 1
)

func (s HostStatus) String() string {
	switch s {
	case HostDown:
		return "down"
	case HostUnknown:
		return "unknown"
	case HostUp:
		return "up"
	}
	return fmt.Sprintf("status(%d)", int8(s))
}

func (s HostStatus) Valid() bool {
	return s >= HostDown && s <= HostUp
}

// StatusFromProbe maps a finished probe to a host status. A probe that
// could not complete is a DOWN outcome.
func StatusFromProbe(healthy bool) HostStatus {
	if healthy {
		return HostUp
	}
	return HostDown
}
