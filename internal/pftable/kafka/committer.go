package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/Sh00ty/hoststated/internal/pftable"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Committer publishes table member lists to a kafka topic, for packet
// filter agents that consume them.
type Committer struct {
	writer messageWriter
}

func New(addr string, topic string) *Committer {
	return &Committer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(addr),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func encode(u pftable.Update) (kafka.Message, error) {
	dto := TableDto{
		TableID: uint32(u.TableID),
		Table:   u.Table,
		Members: make([]MemberDto, 0, len(u.Members)),
		TsMs:    u.CreatedAt.UnixMilli(),
	}
	for _, m := range u.Members {
		dto.Members = append(dto.Members, MemberDto{
			HostID: uint32(m.HostID),
			Name:   m.Name,
			RealIP: m.Addr.Addr().String(),
			Port:   m.Addr.Port(),
		})
	}
	value, err := json.Marshal(dto)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(u.Table),
		Value: value,
		Time:  u.CreatedAt,
	}, nil
}

func (c *Committer) Commit(ctx context.Context, u pftable.Update) error {
	msg, err := encode(u)
	if err != nil {
		return fmt.Errorf("%w: failed to encode table %s: %v", pftable.ErrRejected, u.Table, err)
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish table %s: %w", u.Table, err)
	}
	return nil
}

func (c *Committer) Close() error {
	return c.writer.Close()
}
