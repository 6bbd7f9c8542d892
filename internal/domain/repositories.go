package domain

import "context"

type PeerRepository interface {
	List(ctx context.Context) ([]Peer, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Peer, error)
	ListByStatus(ctx context.Context, status ApprovalStatus) ([]Peer, error)
	ListBySubnet(ctx context.Context, subnetID int) ([]Peer, error)
	FindByID(ctx context.Context, id PeerID) (Peer, error)
	ExistsPublicKey(ctx context.Context, publicKey string) (bool, error)
	Create(ctx context.Context, peer Peer) (Peer, error)
	Update(ctx context.Context, peer Peer) (Peer, error)
	Delete(ctx context.Context, id PeerID) (bool, error)
	// WithSubnetLock runs fn while holding the allocation lock of subnetID.
	// The repository passed to fn must be used for every read and write of
	// the guarded section.
	WithSubnetLock(ctx context.Context, subnetID int, fn func(ctx context.Context, peers PeerRepository) error) error
}

type SettingsRepository interface {
	Get(ctx context.Context) (Settings, error)
	Save(ctx context.Context, settings Settings) error
}

// AppliedRepository stores the snapshot of the last successfully deployed peer set.
type AppliedRepository interface {
	List(ctx context.Context) ([]PeerSpec, error)
	Replace(ctx context.Context, specs []PeerSpec) error
}

type UserRepository interface {
	List(ctx context.Context) ([]User, error)
	Upsert(ctx context.Context, user User) error
}

type RuleRepository interface {
	List(ctx context.Context) ([]CustomRule, error)
	FindByID(ctx context.Context, id RuleID) (CustomRule, error)
	Create(ctx context.Context, rule CustomRule) (CustomRule, error)
	Update(ctx context.Context, rule CustomRule) (CustomRule, error)
	Delete(ctx context.Context, id RuleID) (bool, error)
}
