package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlEntities = `
CREATE TABLE IF NOT EXISTS entities (
    id          BIGSERIAL    PRIMARY KEY,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlComponents = `
CREATE TABLE IF NOT EXISTS components (
    entity_id   BIGINT       NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    name        TEXT         NOT NULL,
    value       JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (entity_id, name)
);

CREATE INDEX IF NOT EXISTS idx_components_name ON components (name);
`

// Migrate creates the entity and component tables if they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlEntities, ddlComponents} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("world postgres: migrate: %w", err)
		}
	}
	return nil
}
