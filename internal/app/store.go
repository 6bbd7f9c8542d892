package app

import (
	"context"
	"fmt"

	"github.com/Flarenzy/wg-ha/internal/db"
	"github.com/Flarenzy/wg-ha/internal/domain"
)

type store struct {
	health   interface{ Ping(context.Context) error }
	peers    domain.PeerRepository
	settings domain.SettingsRepository
	applied  domain.AppliedRepository
	users    domain.UserRepository
	rules    domain.RuleRepository
	close    func()
}

// openStore connects to Postgres and applies the schema, or falls back to
// the in-memory store when dsn is empty.
func openStore(ctx context.Context, dsn string) (store, error) {
	if dsn == "" {
		mem := db.NewMemory()
		return store{
			health:   mem,
			peers:    mem.Peers(),
			settings: mem.Settings(),
			applied:  mem.Applied(),
			users:    mem.Users(),
			rules:    mem.Rules(),
			close:    func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		return store{}, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return store{}, fmt.Errorf("migrate: %w", err)
	}
	return store{
		health:   pool,
		peers:    db.NewPeerRepository(pool),
		settings: db.NewSettingsRepository(pool),
		applied:  db.NewAppliedRepository(pool),
		users:    db.NewUserRepository(pool),
		rules:    db.NewRuleRepository(pool),
		close:    pool.Close,
	}, nil
}
