package imsg

import (
	"encoding/binary"
	"fmt"
)

const (
	HeaderSize = 16
	// MaxSize bounds a whole frame, header included.
	MaxSize    = 16384
	MaxPayload = MaxSize - HeaderSize
)

type Type uint32

const (
	TypeNone Type = iota
	TypeCfgTable
	TypeCfgHost
	TypeCfgService
	TypeCfgDone
	TypeHostStatus
	TypeHostEnable
	TypeHostDisable
	TypeTableEnable
	TypeTableDisable
	TypeCtlLogVerbose
	TypeCtlReload
	TypeCtlSummary
	TypeCtlGetTable
	TypeCtlGetService
	TypeCtlHostEnable
	TypeCtlHostDisable
	TypeCtlTableEnable
	TypeCtlTableDisable
	TypeCtlService
	TypeCtlTable
	TypeCtlHost
	TypeCtlOK
	TypeCtlFail
	TypeCtlEnd

	typeCount
)

var typeNames = [...]string{
	TypeNone:            "NONE",
	TypeCfgTable:        "CFG_TABLE",
	TypeCfgHost:         "CFG_HOST",
	TypeCfgService:      "CFG_SERVICE",
	TypeCfgDone:         "CFG_DONE",
	TypeHostStatus:      "HOST_STATUS",
	TypeHostEnable:      "HOST_ENABLE",
	TypeHostDisable:     "HOST_DISABLE",
	TypeTableEnable:     "TABLE_ENABLE",
	TypeTableDisable:    "TABLE_DISABLE",
	TypeCtlLogVerbose:   "CTL_LOG_VERBOSE",
	TypeCtlReload:       "CTL_RELOAD",
	TypeCtlSummary:      "CTL_SUMMARY",
	TypeCtlGetTable:     "CTL_GET_TABLE",
	TypeCtlGetService:   "CTL_GET_SERVICE",
	TypeCtlHostEnable:   "CTL_HOST_ENABLE",
	TypeCtlHostDisable:  "CTL_HOST_DISABLE",
	TypeCtlTableEnable:  "CTL_TABLE_ENABLE",
	TypeCtlTableDisable: "CTL_TABLE_DISABLE",
	TypeCtlService:      "CTL_SERVICE",
	TypeCtlTable:        "CTL_TABLE",
	TypeCtlHost:         "CTL_HOST",
	TypeCtlOK:           "CTL_OK",
	TypeCtlFail:         "CTL_FAIL",
	TypeCtlEnd:          "CTL_END",
}

func (t Type) Known() bool {
	return t > TypeNone && t < typeCount
}

func (t Type) String() string {
	if t < typeCount {
		return typeNames[t]
	}
	return fmt.Sprintf("IMSG_%d", uint32(t))
}

// Header prefixes every frame on the wire. Len counts the header too.
type Header struct {
	Type   Type
	Len    uint16
	Flags  uint16
	PeerID uint32
	PID    uint32
}

func (h Header) PayloadLen() int {
	return int(h.Len) - HeaderSize
}

func (h Header) put(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], uint32(h.Type))
	binary.BigEndian.PutUint16(b[4:6], h.Len)
	binary.BigEndian.PutUint16(b[6:8], h.Flags)
	binary.BigEndian.PutUint32(b[8:12], h.PeerID)
	binary.BigEndian.PutUint32(b[12:16], h.PID)
}

func parseHeader(b []byte) Header {
	return Header{
		Type:   Type(binary.BigEndian.Uint32(b[0:4])),
		Len:    binary.BigEndian.Uint16(b[4:6]),
		Flags:  binary.BigEndian.Uint16(b[6:8]),
		PeerID: binary.BigEndian.Uint32(b[8:12]),
		PID:    binary.BigEndian.Uint32(b[12:16]),
	}
}

func (h Header) validate() error {
	if h.Len < HeaderSize || int(h.Len) > MaxSize {
		return fmt.Errorf("%w: frame length %d", ErrProtocol, h.Len)
	}
	if !h.Type.Known() {
		return fmt.Errorf("%w: unknown message type %d", ErrProtocol, uint32(h.Type))
	}
	return nil
}
