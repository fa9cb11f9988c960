package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`create table if not exists ` + tablesTable + ` (
	id           bigint primary key,
	name         text not null,
	member_count integer not null,
	updated_at   timestamptz not null
)`,
	`create table if not exists ` + membersTable + ` (
	table_id bigint not null references ` + tablesTable + ` (id) on delete cascade,
	host_id  bigint not null,
	name     text not null,
	real_ip  inet not null,
	port     integer not null,
	primary key (table_id, host_id)
)`,
}

// Migrate creates the tables Commit writes to.
func (c *Committer) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
