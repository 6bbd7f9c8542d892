package db

import (
	"context"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: pool}
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `SELECT id, username, roles, last_seen FROM users ORDER BY username, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.User, 0)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Roles, &user.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (r *UserRepository) Upsert(ctx context.Context, user domain.User) error {
	if user.Roles == nil {
		user.Roles = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, username, roles, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, roles = EXCLUDED.roles, last_seen = EXCLUDED.last_seen`,
		user.ID, user.Username, user.Roles, user.LastSeen,
	)
	return err
}
