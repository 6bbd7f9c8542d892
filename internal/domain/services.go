package domain

import "context"

type PeerService interface {
	ListPeers(ctx context.Context, actor Actor, all bool) ([]Peer, error)
	GetPeer(ctx context.Context, actor Actor, id PeerID) (Peer, error)
	CreatePeer(ctx context.Context, actor Actor, input CreatePeerInput) (Peer, error)
	UpdatePeer(ctx context.Context, actor Actor, id PeerID, input UpdatePeerInput) (Peer, error)
	DeletePeer(ctx context.Context, actor Actor, id PeerID) error
	ReviewPeer(ctx context.Context, actor Actor, id PeerID, input ReviewPeerInput) (Peer, error)
	PeerConfig(ctx context.Context, actor Actor, id PeerID) (string, error)
	ListApplied(ctx context.Context, actor Actor) ([]PeerSpec, error)
}

type SettingsService interface {
	GetSettings(ctx context.Context) (Settings, error)
	EnsureSettings(ctx context.Context) (Settings, error)
	UpdateSettings(ctx context.Context, actor Actor, input UpdateSettingsInput) (Settings, error)
}

type RuleService interface {
	ListRules(ctx context.Context) ([]CustomRule, error)
	CreateRule(ctx context.Context, actor Actor, input RuleInput) (CustomRule, error)
	UpdateRule(ctx context.Context, actor Actor, id RuleID, input RuleInput) (CustomRule, error)
	DeleteRule(ctx context.Context, actor Actor, id RuleID) error
}

type ClientConfigRenderer interface {
	RenderClientConfig(cfg ClientConfig) (string, error)
}

type RuleRenderer interface {
	RenderRules(rules []CustomRule) error
}
