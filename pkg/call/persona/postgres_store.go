package persona

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pgPool is the subset of pgxpool.Pool the store uses.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps personas in the personas table as JSONB.
type PostgresStore struct {
	pool pgPool
}

func NewPostgresStore(pool pgPool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres persona store requires pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("migrate: nil pool")
	}
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (Persona, error) {
	if !ValidID(id) {
		return Persona{}, fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM personas WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Persona{}, ErrNotFound
	}
	if err != nil {
		return Persona{}, fmt.Errorf("load persona %s: %w", id, err)
	}
	var p Persona
	if err := json.Unmarshal(body, &p); err != nil {
		return Persona{}, fmt.Errorf("%w: %s: %v", ErrMalformed, id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

func (s *PostgresStore) Save(ctx context.Context, p Persona, opts SaveOptions) error {
	if !ValidID(p.ID) {
		return fmt.Errorf("%w: %q", ErrInvalid, p.ID)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode persona %s: %w", p.ID, err)
	}

	if opts.Overwrite {
		_, err := s.pool.Exec(ctx, `
INSERT INTO personas (id, body) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
`, p.ID, body)
		if err != nil {
			return fmt.Errorf("save persona %s: %w", p.ID, err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
INSERT INTO personas (id, body) VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING
`, p.ID, body)
	if err != nil {
		return fmt.Errorf("save persona %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM personas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	return ids, nil
}
