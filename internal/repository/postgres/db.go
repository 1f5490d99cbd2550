package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Querier is an interface satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// Ensure interfaces are satisfied.
var (
	_ Querier = (*sqlx.DB)(nil)
	_ Querier = (*sqlx.Tx)(nil)
)

// Migrate creates the rides table if it does not exist.
func Migrate(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS rides (
	key        BYTEA PRIMARY KEY CHECK (octet_length(key) = 32),
	bump       SMALLINT NOT NULL,
	rider      BYTEA NOT NULL,
	driver     BYTEA,
	unique_id  BIGINT NOT NULL,
	fare       BIGINT NOT NULL,
	distance   BIGINT NOT NULL,
	status     TEXT NOT NULL,
	bond       BIGINT NOT NULL DEFAULT 0,
	bond_ref   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`
