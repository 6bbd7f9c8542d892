package db

import (
	"context"
	"fmt"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AppliedRepository struct {
	pool *pgxpool.Pool
}

func NewAppliedRepository(pool *pgxpool.Pool) *AppliedRepository {
	return &AppliedRepository{pool: pool}
}

func (r *AppliedRepository) List(ctx context.Context) ([]domain.PeerSpec, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT owner_id, public_key, allowed_ips, tags, services, status, subnet_id
		FROM applied_peers ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PeerSpec, 0)
	for rows.Next() {
		var (
			spec   domain.PeerSpec
			status string
		)
		if err := rows.Scan(&spec.OwnerID, &spec.PublicKey, &spec.AllowedIPs, &spec.Tags, &spec.Services, &status, &spec.SubnetID); err != nil {
			return nil, err
		}
		spec.Status = domain.ApprovalStatus(status)
		out = append(out, spec)
	}
	return out, rows.Err()
}

// Replace swaps the whole snapshot in one transaction.
func (r *AppliedRepository) Replace(ctx context.Context, specs []domain.PeerSpec) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM applied_peers`); err != nil {
			return fmt.Errorf("clear applied peers: %w", err)
		}
		if len(specs) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, spec := range specs {
			spec = domain.Peer{PeerSpec: spec}.Spec()
			batch.Queue(`
				INSERT INTO applied_peers (position, owner_id, public_key, allowed_ips, tags, services, status, subnet_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				i, spec.OwnerID, spec.PublicKey, spec.AllowedIPs, spec.Tags, spec.Services, string(spec.Status), spec.SubnetID,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for range specs {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert applied peer: %w", err)
			}
		}
		return results.Close()
	})
}
