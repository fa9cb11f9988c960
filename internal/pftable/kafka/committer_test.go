package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/hoststated/internal/pftable"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestCommitPublishesTable(t *testing.T) {
	w := &fakeWriter{}
	c := &Committer{writer: w}

	created := time.UnixMilli(1700000000123)
	err := c.Commit(context.Background(), pftable.Update{
		TableID: 2,
		Table:   "T1",
		Members: []pftable.Member{
			{HostID: 1, Name: "A", Addr: netip.MustParseAddrPort("10.0.0.1:80")},
		},
		CreatedAt: created,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "T1", string(w.msgs[0].Key))

	var dto TableDto
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &dto))
	assert.Equal(t, TableDto{
		TableID: 2,
		Table:   "T1",
		Members: []MemberDto{{HostID: 1, Name: "A", RealIP: "10.0.0.1", Port: 80}},
		TsMs:    1700000000123,
	}, dto)

	require.NoError(t, c.Close())
	assert.True(t, w.closed)
}

func TestCommitEmptyTableAndErrors(t *testing.T) {
	w := &fakeWriter{}
	c := &Committer{writer: w}

	require.NoError(t, c.Commit(context.Background(), pftable.Update{TableID: 1, Table: "empty"}))
	assert.JSONEq(t, `{"table_id":1,"table":"empty","members":[],"ts_ms":-62135596800000}`, string(w.msgs[0].Value))

	w.err = errors.New("leader not available")
	err := c.Commit(context.Background(), pftable.Update{TableID: 1, Table: "empty"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, pftable.ErrRejected))
}
