package db

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/google/uuid"
)

// Memory is an in-process store used when no database is configured.
type Memory struct {
	mu       sync.RWMutex
	peers    map[domain.PeerID]domain.Peer
	order    []domain.PeerID
	settings *domain.Settings
	applied  []domain.PeerSpec
	users    map[string]domain.User
	rules    map[domain.RuleID]domain.CustomRule
	ruleIDs  []domain.RuleID

	locksMu sync.Mutex
	locks   map[int]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		peers: make(map[domain.PeerID]domain.Peer),
		users: make(map[string]domain.User),
		rules: make(map[domain.RuleID]domain.CustomRule),
		locks: make(map[int]*sync.Mutex),
	}
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Peers() *MemoryPeerRepository {
	return &MemoryPeerRepository{store: m}
}

func (m *Memory) Settings() *MemorySettingsRepository {
	return &MemorySettingsRepository{store: m}
}

func (m *Memory) Applied() *MemoryAppliedRepository {
	return &MemoryAppliedRepository{store: m}
}

func (m *Memory) Users() *MemoryUserRepository {
	return &MemoryUserRepository{store: m}
}

func (m *Memory) Rules() *MemoryRuleRepository {
	return &MemoryRuleRepository{store: m}
}

func (m *Memory) subnetLock(subnetID int) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[subnetID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[subnetID] = lock
	}
	return lock
}

type MemoryPeerRepository struct {
	store *Memory
}

func (r *MemoryPeerRepository) List(_ context.Context) ([]domain.Peer, error) {
	return r.filter(func(domain.Peer) bool { return true }), nil
}

func (r *MemoryPeerRepository) ListByOwner(_ context.Context, ownerID string) ([]domain.Peer, error) {
	return r.filter(func(p domain.Peer) bool { return p.OwnerID == ownerID }), nil
}

func (r *MemoryPeerRepository) ListByStatus(_ context.Context, status domain.ApprovalStatus) ([]domain.Peer, error) {
	return r.filter(func(p domain.Peer) bool { return p.Status == status }), nil
}

func (r *MemoryPeerRepository) ListBySubnet(_ context.Context, subnetID int) ([]domain.Peer, error) {
	return r.filter(func(p domain.Peer) bool { return p.SubnetID == subnetID }), nil
}

func (r *MemoryPeerRepository) FindByID(_ context.Context, id domain.PeerID) (domain.Peer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	peer, ok := r.store.peers[id]
	if !ok {
		return domain.Peer{}, domain.ErrNotFound
	}
	return clonePeer(peer), nil
}

func (r *MemoryPeerRepository) ExistsPublicKey(_ context.Context, publicKey string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, peer := range r.store.peers {
		if peer.PublicKey == publicKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryPeerRepository) Create(_ context.Context, peer domain.Peer) (domain.Peer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.keyTaken(peer.PublicKey, "") {
		return domain.Peer{}, domain.ErrConflict
	}
	now := time.Now().UTC()
	peer.ID = domain.PeerID(uuid.NewString())
	peer.CreatedAt = now
	peer.UpdatedAt = now
	r.store.peers[peer.ID] = clonePeer(peer)
	r.store.order = append(r.store.order, peer.ID)
	return clonePeer(peer), nil
}

func (r *MemoryPeerRepository) Update(_ context.Context, peer domain.Peer) (domain.Peer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.peers[peer.ID]
	if !ok {
		return domain.Peer{}, domain.ErrNotFound
	}
	if r.keyTaken(peer.PublicKey, peer.ID) {
		return domain.Peer{}, domain.ErrConflict
	}
	peer.CreatedAt = current.CreatedAt
	peer.UpdatedAt = time.Now().UTC()
	r.store.peers[peer.ID] = clonePeer(peer)
	return clonePeer(peer), nil
}

func (r *MemoryPeerRepository) Delete(_ context.Context, id domain.PeerID) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.peers[id]; !ok {
		return false, nil
	}
	delete(r.store.peers, id)
	r.store.order = slices.DeleteFunc(r.store.order, func(v domain.PeerID) bool { return v == id })
	return true, nil
}

func (r *MemoryPeerRepository) WithSubnetLock(ctx context.Context, subnetID int, fn func(ctx context.Context, peers domain.PeerRepository) error) error {
	lock := r.store.subnetLock(subnetID)
	lock.Lock()
	defer lock.Unlock()
	return fn(ctx, r)
}

func (r *MemoryPeerRepository) keyTaken(publicKey string, except domain.PeerID) bool {
	for id, peer := range r.store.peers {
		if id != except && peer.PublicKey == publicKey {
			return true
		}
	}
	return false
}

func (r *MemoryPeerRepository) filter(keep func(domain.Peer) bool) []domain.Peer {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Peer, 0)
	for _, id := range r.store.order {
		peer := r.store.peers[id]
		if keep(peer) {
			out = append(out, clonePeer(peer))
		}
	}
	return out
}

type MemorySettingsRepository struct {
	store *Memory
}

func (r *MemorySettingsRepository) Get(_ context.Context) (domain.Settings, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if r.store.settings == nil {
		return domain.Settings{}, domain.ErrNotFound
	}
	settings := *r.store.settings
	settings.Server.Addresses = slices.Clone(settings.Server.Addresses)
	return settings, nil
}

func (r *MemorySettingsRepository) Save(_ context.Context, settings domain.Settings) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	settings.Server.Addresses = slices.Clone(settings.Server.Addresses)
	r.store.settings = &settings
	return nil
}

type MemoryAppliedRepository struct {
	store *Memory
}

func (r *MemoryAppliedRepository) List(_ context.Context) ([]domain.PeerSpec, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.PeerSpec, 0, len(r.store.applied))
	for _, spec := range r.store.applied {
		out = append(out, cloneSpec(spec))
	}
	return out, nil
}

func (r *MemoryAppliedRepository) Replace(_ context.Context, specs []domain.PeerSpec) error {
	next := make([]domain.PeerSpec, 0, len(specs))
	for _, spec := range specs {
		next = append(next, cloneSpec(spec))
	}
	r.store.mu.Lock()
	r.store.applied = next
	r.store.mu.Unlock()
	return nil
}

type MemoryUserRepository struct {
	store *Memory
}

func (r *MemoryUserRepository) List(_ context.Context) ([]domain.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.User, 0, len(r.store.users))
	for _, user := range r.store.users {
		user.Roles = slices.Clone(user.Roles)
		out = append(out, user)
	}
	slices.SortFunc(out, func(a, b domain.User) int {
		switch {
		case a.Username < b.Username:
			return -1
		case a.Username > b.Username:
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *MemoryUserRepository) Upsert(_ context.Context, user domain.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	user.Roles = slices.Clone(user.Roles)
	r.store.users[user.ID] = user
	return nil
}

type MemoryRuleRepository struct {
	store *Memory
}

func (r *MemoryRuleRepository) List(_ context.Context) ([]domain.CustomRule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.CustomRule, 0, len(r.store.ruleIDs))
	for _, id := range r.store.ruleIDs {
		out = append(out, r.store.rules[id])
	}
	return out, nil
}

func (r *MemoryRuleRepository) FindByID(_ context.Context, id domain.RuleID) (domain.CustomRule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rule, ok := r.store.rules[id]
	if !ok {
		return domain.CustomRule{}, domain.ErrNotFound
	}
	return rule, nil
}

func (r *MemoryRuleRepository) Create(_ context.Context, rule domain.CustomRule) (domain.CustomRule, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rule.ID = domain.RuleID(uuid.NewString())
	r.store.rules[rule.ID] = rule
	r.store.ruleIDs = append(r.store.ruleIDs, rule.ID)
	return rule, nil
}

func (r *MemoryRuleRepository) Update(_ context.Context, rule domain.CustomRule) (domain.CustomRule, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.rules[rule.ID]; !ok {
		return domain.CustomRule{}, domain.ErrNotFound
	}
	r.store.rules[rule.ID] = rule
	return rule, nil
}

func (r *MemoryRuleRepository) Delete(_ context.Context, id domain.RuleID) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.rules[id]; !ok {
		return false, nil
	}
	delete(r.store.rules, id)
	r.store.ruleIDs = slices.DeleteFunc(r.store.ruleIDs, func(v domain.RuleID) bool { return v == id })
	return true, nil
}

func clonePeer(peer domain.Peer) domain.Peer {
	peer.PeerSpec = cloneSpec(peer.PeerSpec)
	return peer
}

func cloneSpec(spec domain.PeerSpec) domain.PeerSpec {
	spec.AllowedIPs = slices.Clone(spec.AllowedIPs)
	spec.Tags = slices.Clone(spec.Tags)
	services := make([]domain.Service, 0, len(spec.Services))
	for _, svc := range spec.Services {
		rules := make([]domain.Rule, 0, len(svc.Rules))
		for _, rule := range svc.Rules {
			rule.Ports = slices.Clone(rule.Ports)
			rules = append(rules, rule)
		}
		services = append(services, domain.Service{Rules: rules, AllowedTags: slices.Clone(svc.AllowedTags)})
	}
	if spec.Services != nil {
		spec.Services = services
	}
	return spec
}
