package imsg

import (
	"fmt"

	"github.com/Sh00ty/hoststated/internal/models"
)

// Payload is the closed set of message bodies. Every frame type has
// exactly one payload struct.
type Payload interface {
	Type() Type
	payload()
}

type CfgTable struct {
	Table models.Table `cbor:"table"`
}

type CfgHost struct {
	Host models.Host `cbor:"host"`
}

type CfgService struct {
	Service models.Service `cbor:"service"`
}

type CfgDone struct{}

// HostStatus is the delta hce publishes when a host changes state.
type HostStatus struct {
	HostID     models.HostID     `cbor:"host"`
	TableID    models.TableID    `cbor:"table"`
	Status     models.HostStatus `cbor:"status"`
	CheckCount uint64            `cbor:"checks"`
	UpCount    uint64            `cbor:"up_checks"`
	Error      string            `cbor:"error,omitempty"`
}

type HostEnable struct {
	HostID models.HostID `cbor:"host"`
}

type HostDisable struct {
	HostID models.HostID `cbor:"host"`
}

type TableEnable struct {
	TableID models.TableID `cbor:"table"`
}

type TableDisable struct {
	TableID models.TableID `cbor:"table"`
}

type LogVerbose struct {
	Verbose bool `cbor:"verbose"`
}

type Reload struct{}

// Control socket requests. Objects are addressed by Name, or by ID when
// Name is empty.

type CtlSummary struct{}

type CtlGetTable struct {
	Name string `cbor:"name,omitempty"`
	ID   uint32 `cbor:"id,omitempty"`
}

type CtlGetService struct {
	Name string `cbor:"name,omitempty"`
	ID   uint32 `cbor:"id,omitempty"`
}

type CtlHostEnable struct {
	Name string `cbor:"name,omitempty"`
	ID   uint32 `cbor:"id,omitempty"`
}

type CtlHostDisable struct {
	Name string `cbor:"name,omitempty"`
	ID   uint32 `cbor:"id,omitempty"`
}

type CtlTableEnable struct {
	Name string `cbor:"name,omitempty"`
	ID   uint32 `cbor:"id,omitempty"`
}

type CtlTableDisable struct {
	Name string `cbor:"name,omitempty"`
	ID   uint32 `cbor:"id,omitempty"`
}

// Control socket replies.

type CtlService struct {
	Service     models.Service `cbor:"service"`
	TableName   string         `cbor:"table_name"`
	BackupName  string         `cbor:"backup_name,omitempty"`
	ActiveTable string         `cbor:"active_table"`
}

type CtlTable struct {
	Table models.Table `cbor:"table"`
	Hosts int          `cbor:"hosts"`
	Up    int          `cbor:"up"`
}

type CtlHost struct {
	Host models.Host `cbor:"host"`
}

type CtlOK struct{}

type CtlFail struct {
	Reason string `cbor:"reason"`
}

type CtlEnd struct{}

func (CfgTable) Type() Type        { return TypeCfgTable }
func (CfgHost) Type() Type         { return TypeCfgHost }
func (CfgService) Type() Type      { return TypeCfgService }
func (CfgDone) Type() Type         { return TypeCfgDone }
func (HostStatus) Type() Type      { return TypeHostStatus }
func (HostEnable) Type() Type      { return TypeHostEnable }
func (HostDisable) Type() Type     { return TypeHostDisable }
func (TableEnable) Type() Type     { return TypeTableEnable }
func (TableDisable) Type() Type    { return TypeTableDisable }
func (LogVerbose) Type() Type      { return TypeCtlLogVerbose }
func (Reload) Type() Type          { return TypeCtlReload }
func (CtlSummary) Type() Type      { return TypeCtlSummary }
func (CtlGetTable) Type() Type     { return TypeCtlGetTable }
func (CtlGetService) Type() Type   { return TypeCtlGetService }
func (CtlHostEnable) Type() Type   { return TypeCtlHostEnable }
func (CtlHostDisable) Type() Type  { return TypeCtlHostDisable }
func (CtlTableEnable) Type() Type  { return TypeCtlTableEnable }
func (CtlTableDisable) Type() Type { return TypeCtlTableDisable }
func (CtlService) Type() Type      { return TypeCtlService }
func (CtlTable) Type() Type        { return TypeCtlTable }
func (CtlHost) Type() Type         { return TypeCtlHost }
func (CtlOK) Type() Type           { return TypeCtlOK }
func (CtlFail) Type() Type         { return TypeCtlFail }
func (CtlEnd) Type() Type          { return TypeCtlEnd }

func (CfgTable) payload()        {}
func (CfgHost) payload()         {}
func (CfgService) payload()      {}
func (CfgDone) payload()         {}
func (HostStatus) payload()      {}
func (HostEnable) payload()      {}
func (HostDisable) payload()     {}
func (TableEnable) payload()     {}
func (TableDisable) payload()    {}
func (LogVerbose) payload()      {}
func (Reload) payload()          {}
func (CtlSummary) payload()      {}
func (CtlGetTable) payload()     {}
func (CtlGetService) payload()   {}
func (CtlHostEnable) payload()   {}
func (CtlHostDisable) payload()  {}
func (CtlTableEnable) payload()  {}
func (CtlTableDisable) payload() {}
func (CtlService) payload()      {}
func (CtlTable) payload()        {}
func (CtlHost) payload()         {}
func (CtlOK) payload()           {}
func (CtlFail) payload()         {}
func (CtlEnd) payload()          {}

func encodePayload(p Payload) ([]byte, error) {
	return encMode.Marshal(p)
}

func decodeInto[T Payload](data []byte) (Payload, error) {
	var p T
	if len(data) == 0 {
		return p, nil
	}
	if err := decMode.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrProtocol, p.Type(), err)
	}
	return p, nil
}

func decodePayload(typ Type, data []byte) (Payload, error) {
	switch typ {
	case TypeCfgTable:
		return decodeInto[CfgTable](data)
	case TypeCfgHost:
		return decodeInto[CfgHost](data)
	case TypeCfgService:
		return decodeInto[CfgService](data)
	case TypeCfgDone:
		return decodeInto[CfgDone](data)
	case TypeHostStatus:
		return decodeInto[HostStatus](data)
	case TypeHostEnable:
		return decodeInto[HostEnable](data)
	case TypeHostDisable:
		return decodeInto[HostDisable](data)
	case TypeTableEnable:
		return decodeInto[TableEnable](data)
	case TypeTableDisable:
		return decodeInto[TableDisable](data)
	case TypeCtlLogVerbose:
		return decodeInto[LogVerbose](data)
	case TypeCtlReload:
		return decodeInto[Reload](data)
	case TypeCtlSummary:
		return decodeInto[CtlSummary](data)
	case TypeCtlGetTable:
		return decodeInto[CtlGetTable](data)
	case TypeCtlGetService:
		return decodeInto[CtlGetService](data)
	case TypeCtlHostEnable:
		return decodeInto[CtlHostEnable](data)
	case TypeCtlHostDisable:
		return decodeInto[CtlHostDisable](data)
	case TypeCtlTableEnable:
		return decodeInto[CtlTableEnable](data)
	case TypeCtlTableDisable:
		return decodeInto[CtlTableDisable](data)
	case TypeCtlService:
		return decodeInto[CtlService](data)
	case TypeCtlTable:
		return decodeInto[CtlTable](data)
	case TypeCtlHost:
		return decodeInto[CtlHost](data)
	case TypeCtlOK:
		return decodeInto[CtlOK](data)
	case TypeCtlFail:
		return decodeInto[CtlFail](data)
	case TypeCtlEnd:
		return decodeInto[CtlEnd](data)
	}
	return nil, fmt.Errorf("%w: unknown message type %d", ErrProtocol, uint32(typ))
}
