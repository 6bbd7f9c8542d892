package domain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const clientPrivateKeyPlaceholder = "INSERT_PRIVATE_KEY"

var validProtocols = []string{"tcp", "udp", "icmp"}

type peerService struct {
	peers     PeerRepository
	applied   AppliedRepository
	settings  SettingsRepository
	allocator *Allocator
	renderer  ClientConfigRenderer
	notifier  Notifier
}

func NewPeerService(
	peers PeerRepository,
	applied AppliedRepository,
	settings SettingsRepository,
	allocator *Allocator,
	renderer ClientConfigRenderer,
	notifier Notifier,
) PeerService {
	return &peerService{
		peers:     peers,
		applied:   applied,
		settings:  settings,
		allocator: allocator,
		renderer:  renderer,
		notifier:  notifierOrNop(notifier),
	}
}

func (s *peerService) ListPeers(ctx context.Context, actor Actor, all bool) ([]Peer, error) {
	if all {
		if !actor.Admin {
			return nil, fmt.Errorf("%w: listing all peers requires admin", ErrUnauthorized)
		}
		return s.peers.List(ctx)
	}
	return s.peers.ListByOwner(ctx, actor.ID)
}

func (s *peerService) GetPeer(ctx context.Context, actor Actor, id PeerID) (Peer, error) {
	peer, err := s.peers.FindByID(ctx, id)
	if err != nil {
		return Peer{}, err
	}
	if err := authorizeOwner(actor, peer); err != nil {
		return Peer{}, err
	}
	return peer, nil
}

func (s *peerService) CreatePeer(ctx context.Context, actor Actor, input CreatePeerInput) (Peer, error) {
	if err := validatePeerFields(input.PublicKey, input.Services, input.SubnetID); err != nil {
		return Peer{}, err
	}
	if err := s.ensureUniqueKey(ctx, input.PublicKey); err != nil {
		return Peer{}, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return Peer{}, fmt.Errorf("load settings: %w", err)
	}

	peer := Peer{
		Title: input.Title,
		PeerSpec: PeerSpec{
			OwnerID:   actor.ID,
			PublicKey: input.PublicKey,
			Tags:      nonNil(input.Tags),
			Services:  nonNilServices(input.Services),
			Status:    defaultStatus(settings, actor),
			SubnetID:  input.SubnetID,
		},
	}

	var created Peer
	err = s.allocator.Allocate(ctx, input.SubnetID, func(ctx context.Context, peers PeerRepository, pair AddressPair) error {
		var err error
		peer.AllowedIPs = pair.AllowedIPs()
		created, err = peers.Create(ctx, peer)
		return err
	})
	if err != nil {
		return Peer{}, err
	}

	s.notifier.Emit(TopicPeerAdded, created, Scope{To: []string{created.OwnerID}, Admins: true})
	return created, nil
}

func (s *peerService) UpdatePeer(ctx context.Context, actor Actor, id PeerID, input UpdatePeerInput) (Peer, error) {
	current, err := s.peers.FindByID(ctx, id)
	if err != nil {
		return Peer{}, err
	}
	if err := authorizeOwner(actor, current); err != nil {
		return Peer{}, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return Peer{}, fmt.Errorf("load settings: %w", err)
	}

	next := current
	if input.Title != nil {
		next.Title = *input.Title
	}
	if input.PublicKey != nil && *input.PublicKey != current.PublicKey {
		next.PublicKey = *input.PublicKey
		if err := s.ensureUniqueKey(ctx, next.PublicKey); err != nil {
			return Peer{}, err
		}
	}
	if input.Tags != nil {
		next.Tags = input.Tags
	}
	if input.Services != nil {
		next.Services = input.Services
	}
	if input.SubnetID != nil {
		next.SubnetID = *input.SubnetID
	}
	if err := validatePeerFields(next.PublicKey, next.Services, next.SubnetID); err != nil {
		return Peer{}, err
	}
	if current.Spec().key() != next.Spec().key() {
		next.Status = defaultStatus(settings, actor)
	}

	if samePeer(current, next) {
		return current, nil
	}

	var updated Peer
	if next.SubnetID != current.SubnetID {
		err = s.allocator.Allocate(ctx, next.SubnetID, func(ctx context.Context, peers PeerRepository, pair AddressPair) error {
			var err error
			next.AllowedIPs = pair.AllowedIPs()
			updated, err = peers.Update(ctx, next)
			return err
		})
	} else {
		updated, err = s.peers.Update(ctx, next)
	}
	if err != nil {
		return Peer{}, err
	}

	s.notifier.Emit(TopicPeerEdited, updated, Scope{To: []string{actor.ID, updated.OwnerID}, Admins: true})
	return updated, nil
}

func (s *peerService) DeletePeer(ctx context.Context, actor Actor, id PeerID) error {
	peer, err := s.peers.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authorizeOwner(actor, peer); err != nil {
		return err
	}
	deleted, err := s.peers.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}

	s.notifier.Emit(TopicPeerDeleted, map[string]PeerID{"id": id}, Scope{To: []string{actor.ID, peer.OwnerID}, Admins: true})
	return nil
}

func (s *peerService) ReviewPeer(ctx context.Context, actor Actor, id PeerID, input ReviewPeerInput) (Peer, error) {
	if !actor.Admin {
		return Peer{}, fmt.Errorf("%w: review requires admin", ErrUnauthorized)
	}
	if !input.Status.Valid() {
		return Peer{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, input.Status)
	}
	peer, err := s.peers.FindByID(ctx, id)
	if err != nil {
		return Peer{}, err
	}
	if peer.Status == input.Status {
		return peer, nil
	}
	peer.Status = input.Status
	updated, err := s.peers.Update(ctx, peer)
	if err != nil {
		return Peer{}, err
	}

	s.notifier.Emit(TopicPeerEdited, updated, Scope{To: []string{updated.OwnerID}, Admins: true})
	return updated, nil
}

func (s *peerService) PeerConfig(ctx context.Context, actor Actor, id PeerID) (string, error) {
	peer, err := s.GetPeer(ctx, actor, id)
	if err != nil {
		return "", err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if s.renderer == nil {
		return "", errors.New("client config renderer not configured")
	}

	return s.renderer.RenderClientConfig(ClientConfig{
		Interface: ClientInterface{
			Address:    InterfaceAddress(peer.AllowedIPs),
			PrivateKey: clientPrivateKeyPlaceholder,
		},
		Peers: []ClientRemote{{
			PublicKey:  settings.Server.PublicKey,
			Endpoint:   settings.Server.Endpoint,
			AllowedIPs: serverNetworks(settings.Server.Addresses),
		}},
	})
}

func (s *peerService) ListApplied(ctx context.Context, actor Actor) ([]PeerSpec, error) {
	specs, err := s.applied.List(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Admin {
		return specs, nil
	}
	out := make([]PeerSpec, 0)
	for _, spec := range specs {
		if spec.OwnerID == actor.ID {
			out = append(out, spec)
		}
	}
	return out, nil
}

func (s *peerService) ensureUniqueKey(ctx context.Context, publicKey string) error {
	exists, err := s.peers.ExistsPublicKey(ctx, publicKey)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: another peer with the same public key already exists", ErrConflict)
	}
	return nil
}

func authorizeOwner(actor Actor, peer Peer) error {
	if actor.Admin || peer.OwnerID == actor.ID {
		return nil
	}
	return fmt.Errorf("%w: peer %s belongs to another user", ErrUnauthorized, peer.ID)
}

func defaultStatus(settings Settings, actor Actor) ApprovalStatus {
	if settings.Review && !actor.Admin {
		return StatusPending
	}
	return StatusAccepted
}

func validatePeerFields(publicKey string, services []Service, subnetID int) error {
	if _, err := wgtypes.ParseKey(publicKey); err != nil {
		return fmt.Errorf("%w: invalid public key", ErrInvalidInput)
	}
	if err := ValidateSubnetID(subnetID); err != nil {
		return err
	}
	for _, svc := range services {
		for _, rule := range svc.Rules {
			if !slices.Contains(validProtocols, strings.ToLower(rule.Protocol)) {
				return fmt.Errorf("%w: unsupported protocol %q", ErrInvalidInput, rule.Protocol)
			}
			for _, port := range rule.Ports {
				if port < 1 || port > 65535 {
					return fmt.Errorf("%w: port %d out of range", ErrInvalidInput, port)
				}
			}
		}
	}
	return nil
}

func nonNilServices(services []Service) []Service {
	if services == nil {
		return []Service{}
	}
	return services
}

func samePeer(a, b Peer) bool {
	return a.Title == b.Title && a.Spec().key() == b.Spec().key()
}

func serverNetworks(addresses []string) []string {
	out := make([]string, 0, len(addresses))
	for _, value := range addresses {
		addr, ok := parseAddr(value)
		if !ok {
			continue
		}
		bits := 24
		if addr.Is6() {
			bits = 112
		}
		if prefix, err := addr.Prefix(bits); err == nil {
			out = append(out, prefix.String())
		}
	}
	return out
}
