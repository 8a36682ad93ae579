// Package postgres stores the world's entities and components in PostgreSQL.
//
// Entities live in the entities table with a BIGSERIAL id; each component is
// one JSONB row in components keyed by (entity_id, name). [Migrate] creates
// both tables.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	w := module.NewWorld(store)
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tessera/internal/world"
	"github.com/MrWong99/tessera/pkg/module"
)

// Compile-time assertion that Store satisfies the world.Store interface.
var _ world.Store = (*Store)(nil)

// pgForeignKeyViolation is the SQLSTATE raised when a component references a
// missing entity.
const pgForeignKeyViolation = "23503"

// ErrIDSpaceExhausted is returned when the entity sequence passes the range
// of [module.EntityID].
var ErrIDSpaceExhausted = errors.New("world postgres: entity id space exhausted")

// Store is a PostgreSQL-backed [world.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("world postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("world postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("world postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SpawnEntity implements [module.Capabilities].
func (s *Store) SpawnEntity(ctx context.Context) (module.EntityID, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `INSERT INTO entities DEFAULT VALUES RETURNING id`).Scan(&id); err != nil {
		return 0, fmt.Errorf("world postgres: spawn entity: %w", err)
	}
	if id <= 0 || id > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrIDSpaceExhausted, id)
	}
	return module.EntityID(id), nil
}

// SetComponent implements [module.Capabilities]. An existing value for the
// same component is replaced.
func (s *Store) SetComponent(ctx context.Context, id module.EntityID, name string, value json.RawMessage) error {
	if err := world.ValidateComponent(name, value); err != nil {
		return err
	}
	const q = `
INSERT INTO components (entity_id, name, value)
VALUES ($1, $2, $3)
ON CONFLICT (entity_id, name)
DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, int64(id), name, []byte(value)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("%w: %d", world.ErrUnknownEntity, id)
		}
		return fmt.Errorf("world postgres: set component %q: %w", name, err)
	}
	return nil
}

// Component implements [world.Store].
func (s *Store) Component(ctx context.Context, id module.EntityID, name string) (json.RawMessage, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM components WHERE entity_id = $1 AND name = $2`,
		int64(id), name,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		if ok, eerr := s.exists(ctx, id); eerr != nil {
			return nil, eerr
		} else if !ok {
			return nil, fmt.Errorf("%w: %d", world.ErrUnknownEntity, id)
		}
		return nil, fmt.Errorf("%w: %d/%s", world.ErrComponentNotFound, id, name)
	}
	if err != nil {
		return nil, fmt.Errorf("world postgres: get component %q: %w", name, err)
	}
	return json.RawMessage(value), nil
}

// Components implements [world.Store].
func (s *Store) Components(ctx context.Context, id module.EntityID) (map[string]json.RawMessage, error) {
	ok, err := s.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", world.ErrUnknownEntity, id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, value FROM components WHERE entity_id = $1 ORDER BY name`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("world postgres: list components: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			name  string
			value []byte
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("world postgres: scan component: %w", err)
		}
		out[name] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("world postgres: list components: %w", err)
	}
	return out, nil
}

// Entities implements [world.Store].
func (s *Store) Entities(ctx context.Context) ([]module.EntityID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("world postgres: list entities: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (module.EntityID, error) {
		var id int64
		err := row.Scan(&id)
		return module.EntityID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("world postgres: list entities: %w", err)
	}
	return ids, nil
}

func (s *Store) exists(ctx context.Context, id module.EntityID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1)`, int64(id)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("world postgres: check entity: %w", err)
	}
	return ok, nil
}
