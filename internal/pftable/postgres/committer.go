package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/internal/pftable"
	"github.com/Sh00ty/hoststated/internal/pgerror"
)

const (
	tablesTable  = "pf_tables"
	membersTable = "pf_table_members"
)

// Committer stores the member list of every table in PostgreSQL, for a
// packet filter agent that reads it from there.
type Committer struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, user, password, addr string, port uint16, dbname string) (*Committer, error) {
	cfg, err := pgxpool.ParseConfig(
		fmt.Sprintf(
			"user=%s password=%s host=%s port=%d dbname=%s sslmode=disable pool_max_conns=4",
			user, password, addr, port, dbname,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &Committer{
		db: pool,
	}, nil
}

func upsertTableQuery(u pftable.Update) (string, []any, error) {
	return squirrel.Insert(tablesTable).
		Columns("id", "name", "member_count", "updated_at").
		Values(u.TableID, u.Table, len(u.Members), u.CreatedAt).
		Suffix(`on conflict (id) do update set
		name = excluded.name,
		member_count = excluded.member_count,
		updated_at = excluded.updated_at
	where pf_tables.updated_at <= excluded.updated_at`).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
}

func deleteMembersQuery(u pftable.Update) (string, []any, error) {
	return squirrel.Delete(membersTable).
		Where(squirrel.Eq{"table_id": u.TableID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
}

func insertMembersQuery(u pftable.Update) (string, []any, error) {
	q := squirrel.Insert(membersTable).
		Columns("table_id", "host_id", "name", "real_ip", "port")
	for _, m := range u.Members {
		q = q.Values(u.TableID, m.HostID, m.Name, m.Addr.Addr().String(), m.Addr.Port())
	}
	return q.PlaceholderFormat(squirrel.Dollar).ToSql()
}

// Commit replaces the stored member list of the table in one
// transaction. An older update never overwrites a newer one.
func (c *Committer) Commit(ctx context.Context, u pftable.Update) error {
	upsertSQL, upsertArgs, err := upsertTableQuery(u)
	if err != nil {
		return fmt.Errorf("%w: failed to create db request: %v", pftable.ErrRejected, err)
	}
	deleteSQL, deleteArgs, err := deleteMembersQuery(u)
	if err != nil {
		return fmt.Errorf("%w: failed to create db request: %v", pftable.ErrRejected, err)
	}

	tx, err := c.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel: pgx.RepeatableRead,
	})
	if err != nil {
		return fmt.Errorf("failed to start table update transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, upsertSQL, upsertArgs...)
	if err != nil {
		return classify(err, "failed to upsert table")
	}
	if tag.RowsAffected() == 0 {
		log.Warn().Msgf("pf table %s: stored version is newer, skip update", u.Table)
		return nil
	}

	batch := &pgx.Batch{}
	batch.Queue(deleteSQL, deleteArgs...)
	if len(u.Members) > 0 {
		insertSQL, insertArgs, err := insertMembersQuery(u)
		if err != nil {
			return fmt.Errorf("%w: failed to create db request: %v", pftable.ErrRejected, err)
		}
		batch.Queue(insertSQL, insertArgs...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify(err, "failed to replace members")
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err, "failed to commit table update tx")
	}
	return nil
}

func classify(err error, msg string) error {
	if constraint, ok := pgerror.GetConstraintName(err); ok {
		return fmt.Errorf("%w: %s: constraint %s: %v", pftable.ErrRejected, msg, constraint, err)
	}
	if !pgerror.IsRetryable(err) {
		return fmt.Errorf("%w: %s: %v", pftable.ErrRejected, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (c *Committer) Close() error {
	c.db.Close()
	return nil
}
