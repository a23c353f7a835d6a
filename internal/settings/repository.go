package settings

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
)

// PostgresRepository implements Repository with PostgreSQL
type PostgresRepository struct {
	db database.Querier
}

// NewPostgresRepository creates a new settings repository
func NewPostgresRepository(db database.Querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const listSettingsSQL = `
	SELECT key, value, description, updated_at, updated_by
	FROM settings
	ORDER BY key
`

// List returns every stored setting
func (r *PostgresRepository) List(ctx context.Context) ([]Setting, error) {
	rows, err := r.db.Query(ctx, listSettingsSQL)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Setting, error) {
		var s Setting
		err := row.Scan(&s.Key, &s.Value, &s.Description, &s.UpdatedAt, &s.UpdatedBy)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	return out, nil
}

const upsertSettingSQL = `
	INSERT INTO settings (key, value, description, updated_at, updated_by)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (key) DO UPDATE
	SET value = EXCLUDED.value,
	    description = EXCLUDED.description,
	    updated_at = EXCLUDED.updated_at,
	    updated_by = EXCLUDED.updated_by
`

// Upsert writes a single setting
func (r *PostgresRepository) Upsert(ctx context.Context, s Setting) error {
	if _, err := r.db.Exec(ctx, upsertSettingSQL, s.Key, s.Value, s.Description, s.UpdatedAt, s.UpdatedBy); err != nil {
		return fmt.Errorf("upsert setting %s: %w", s.Key, err)
	}
	return nil
}

const insertMissingSettingSQL = `
	INSERT INTO settings (key, value, description, updated_at, updated_by)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (key) DO NOTHING
`

// InsertMissing writes defaults without overwriting concurrent writers
func (r *PostgresRepository) InsertMissing(ctx context.Context, settings []Setting) error {
	for _, s := range settings {
		if _, err := r.db.Exec(ctx, insertMissingSettingSQL, s.Key, s.Value, s.Description, s.UpdatedAt, s.UpdatedBy); err != nil {
			return fmt.Errorf("insert default setting %s: %w", s.Key, err)
		}
	}
	return nil
}
