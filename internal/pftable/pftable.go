package pftable

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/internal/models"
)

// ErrRejected marks a commit the backend refused for good. Such updates
// are not retried.
var ErrRejected = errors.New("pf table update rejected")

type Member struct {
	HostID models.HostID
	Name   string
	Addr   netip.AddrPort
}

// Update is the complete member list of one table. Each update replaces
// the previous one, so only the latest per table matters.
type Update struct {
	TableID   models.TableID
	Table     string
	Members   []Member
	CreatedAt time.Time
}

func NewUpdate(t *models.Table, hosts []models.Host) Update {
	members := make([]Member, 0, len(hosts))
	for _, h := range hosts {
		members = append(members, Member{HostID: h.ID, Name: h.Name, Addr: h.Addr})
	}
	return Update{
		TableID:   t.ID,
		Table:     t.Name,
		Members:   members,
		CreatedAt: time.Now(),
	}
}

type Committer interface {
	Commit(ctx context.Context, u Update) error
}

// LogCommitter only logs the new member list.
type LogCommitter struct{}

func (LogCommitter) Commit(_ context.Context, u Update) error {
	addrs := make([]string, 0, len(u.Members))
	for _, m := range u.Members {
		addrs = append(addrs, m.Addr.String())
	}
	log.Info().Msgf("pf table %s: %d members [%s]", u.Table, len(u.Members), strings.Join(addrs, " "))
	return nil
}
