package kafka

type MemberDto struct {
	HostID uint32 `json:"host_id"`
	Name   string `json:"name"`
	RealIP string `json:"real_ip"`
	Port   uint16 `json:"port"`
}

// TableDto is the value of one table update event. The message key is
// the table name, so all updates of a table land in one partition in
// order.
type TableDto struct {
	TableID uint32      `json:"table_id"`
	Table   string      `json:"table"`
	Members []MemberDto `json:"members"`
	TsMs    int64       `json:"ts_ms"`
}
