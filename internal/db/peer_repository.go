package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// subnetLockNamespace is the first key of the advisory lock taken per subnet.
const subnetLockNamespace = 7411

const peerColumns = `id::text, owner_id, title, public_key, allowed_ips, tags, services, status, subnet_id, created_at, updated_at`

type PeerRepository struct {
	db   DBTX
	pool *pgxpool.Pool
}

func NewPeerRepository(pool *pgxpool.Pool) *PeerRepository {
	return &PeerRepository{db: pool, pool: pool}
}

func (r *PeerRepository) List(ctx context.Context) ([]domain.Peer, error) {
	return r.query(ctx, `SELECT `+peerColumns+` FROM peers ORDER BY created_at, id`)
}

func (r *PeerRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Peer, error) {
	return r.query(ctx, `SELECT `+peerColumns+` FROM peers WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (r *PeerRepository) ListByStatus(ctx context.Context, status domain.ApprovalStatus) ([]domain.Peer, error) {
	return r.query(ctx, `SELECT `+peerColumns+` FROM peers WHERE status = $1 ORDER BY created_at, id`, string(status))
}

func (r *PeerRepository) ListBySubnet(ctx context.Context, subnetID int) ([]domain.Peer, error) {
	return r.query(ctx, `SELECT `+peerColumns+` FROM peers WHERE subnet_id = $1 ORDER BY created_at, id`, subnetID)
}

func (r *PeerRepository) FindByID(ctx context.Context, id domain.PeerID) (domain.Peer, error) {
	parsed, err := parseID(string(id))
	if err != nil {
		return domain.Peer{}, err
	}
	row := r.db.QueryRow(ctx, `SELECT `+peerColumns+` FROM peers WHERE id = $1::text::uuid`, parsed)
	peer, err := scanPeer(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Peer{}, domain.ErrNotFound
		}
		return domain.Peer{}, err
	}
	return peer, nil
}

func (r *PeerRepository) ExistsPublicKey(ctx context.Context, publicKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM peers WHERE public_key = $1)`, publicKey).Scan(&exists)
	return exists, err
}

func (r *PeerRepository) Create(ctx context.Context, peer domain.Peer) (domain.Peer, error) {
	spec := peer.Spec()
	row := r.db.QueryRow(ctx, `
		INSERT INTO peers (id, owner_id, title, public_key, allowed_ips, tags, services, status, subnet_id)
		VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+peerColumns,
		uuid.NewString(), spec.OwnerID, peer.Title, spec.PublicKey, spec.AllowedIPs, spec.Tags, spec.Services, string(spec.Status), spec.SubnetID,
	)
	created, err := scanPeer(row)
	if err != nil {
		return domain.Peer{}, mapWriteError(err)
	}
	return created, nil
}

func (r *PeerRepository) Update(ctx context.Context, peer domain.Peer) (domain.Peer, error) {
	parsed, err := parseID(string(peer.ID))
	if err != nil {
		return domain.Peer{}, err
	}
	spec := peer.Spec()
	row := r.db.QueryRow(ctx, `
		UPDATE peers
		SET title = $2, public_key = $3, allowed_ips = $4, tags = $5, services = $6, status = $7, subnet_id = $8, updated_at = now()
		WHERE id = $1::text::uuid
		RETURNING `+peerColumns,
		parsed, peer.Title, spec.PublicKey, spec.AllowedIPs, spec.Tags, spec.Services, string(spec.Status), spec.SubnetID,
	)
	updated, err := scanPeer(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Peer{}, domain.ErrNotFound
		}
		return domain.Peer{}, mapWriteError(err)
	}
	return updated, nil
}

func (r *PeerRepository) Delete(ctx context.Context, id domain.PeerID) (bool, error) {
	parsed, err := parseID(string(id))
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM peers WHERE id = $1::text::uuid`, parsed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// WithSubnetLock serializes allocation per subnet with a transaction scoped
// advisory lock. fn receives a repository bound to the transaction.
func (r *PeerRepository) WithSubnetLock(ctx context.Context, subnetID int, fn func(ctx context.Context, peers domain.PeerRepository) error) error {
	if r.pool == nil {
		return errors.New("subnet lock requested inside a transaction")
	}
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, int32(subnetLockNamespace), int32(subnetID)); err != nil {
			return fmt.Errorf("lock subnet %d: %w", subnetID, err)
		}
		return fn(ctx, &PeerRepository{db: tx})
	})
}

func (r *PeerRepository) query(ctx context.Context, sql string, args ...any) ([]domain.Peer, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Peer, 0)
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, peer)
	}
	return out, rows.Err()
}

func scanPeer(row pgx.Row) (domain.Peer, error) {
	var (
		peer      domain.Peer
		id        string
		status    string
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&id,
		&peer.OwnerID,
		&peer.Title,
		&peer.PublicKey,
		&peer.AllowedIPs,
		&peer.Tags,
		&peer.Services,
		&status,
		&peer.SubnetID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.Peer{}, err
	}
	peer.ID = domain.PeerID(id)
	peer.Status = domain.ApprovalStatus(status)
	peer.CreatedAt = createdAt
	peer.UpdatedAt = updatedAt
	return peer, nil
}
