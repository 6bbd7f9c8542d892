package db

import (
	"context"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ruleColumns = `id::text, title, type, src, dst, protocol, port`

type RuleRepository struct {
	db DBTX
}

func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: pool}
}

func (r *RuleRepository) List(ctx context.Context) ([]domain.CustomRule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM custom_rules ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CustomRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *RuleRepository) FindByID(ctx context.Context, id domain.RuleID) (domain.CustomRule, error) {
	parsed, err := parseID(string(id))
	if err != nil {
		return domain.CustomRule{}, err
	}
	rule, err := scanRule(r.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM custom_rules WHERE id = $1::text::uuid`, parsed))
	if err != nil {
		if isNoRows(err) {
			return domain.CustomRule{}, domain.ErrNotFound
		}
		return domain.CustomRule{}, err
	}
	return rule, nil
}

func (r *RuleRepository) Create(ctx context.Context, rule domain.CustomRule) (domain.CustomRule, error) {
	return scanRule(r.db.QueryRow(ctx, `
		INSERT INTO custom_rules (id, title, type, src, dst, protocol, port)
		VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7)
		RETURNING `+ruleColumns,
		uuid.NewString(), rule.Title, rule.Type, rule.Src, rule.Dst, rule.Protocol, rule.Port,
	))
}

func (r *RuleRepository) Update(ctx context.Context, rule domain.CustomRule) (domain.CustomRule, error) {
	parsed, err := parseID(string(rule.ID))
	if err != nil {
		return domain.CustomRule{}, err
	}
	updated, err := scanRule(r.db.QueryRow(ctx, `
		UPDATE custom_rules SET title = $2, type = $3, src = $4, dst = $5, protocol = $6, port = $7
		WHERE id = $1::text::uuid
		RETURNING `+ruleColumns,
		parsed, rule.Title, rule.Type, rule.Src, rule.Dst, rule.Protocol, rule.Port,
	))
	if err != nil {
		if isNoRows(err) {
			return domain.CustomRule{}, domain.ErrNotFound
		}
		return domain.CustomRule{}, err
	}
	return updated, nil
}

func (r *RuleRepository) Delete(ctx context.Context, id domain.RuleID) (bool, error) {
	parsed, err := parseID(string(id))
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM custom_rules WHERE id = $1::text::uuid`, parsed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanRule(row pgx.Row) (domain.CustomRule, error) {
	var (
		rule domain.CustomRule
		id   string
	)
	if err := row.Scan(&id, &rule.Title, &rule.Type, &rule.Src, &rule.Dst, &rule.Protocol, &rule.Port); err != nil {
		return domain.CustomRule{}, err
	}
	rule.ID = domain.RuleID(id)
	return rule, nil
}
