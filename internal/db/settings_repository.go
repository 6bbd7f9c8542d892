package db

import (
	"context"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SettingsRepository struct {
	db DBTX
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{db: pool}
}

func (r *SettingsRepository) Get(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := r.db.QueryRow(ctx, `SELECT review, server FROM settings WHERE id = 1`).Scan(&settings.Review, &settings.Server)
	if err != nil {
		if isNoRows(err) {
			return domain.Settings{}, domain.ErrNotFound
		}
		return domain.Settings{}, err
	}
	return settings, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings domain.Settings) error {
	if settings.Server.Addresses == nil {
		settings.Server.Addresses = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO settings (id, review, server, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET review = EXCLUDED.review, server = EXCLUDED.server, updated_at = now()`,
		settings.Review, settings.Server,
	)
	return err
}
