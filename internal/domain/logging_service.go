package domain

import (
	"context"
	"log/slog"
)

type loggingPeerService struct {
	logger *slog.Logger
	next   PeerService
}

func NewLoggingPeerService(logger *slog.Logger, next PeerService) PeerService {
	if logger == nil || next == nil {
		return next
	}

	return &loggingPeerService{
		logger: logger,
		next:   next,
	}
}

func (s *loggingPeerService) ListPeers(ctx context.Context, actor Actor, all bool) ([]Peer, error) {
	peers, err := s.next.ListPeers(ctx, actor, all)
	if err != nil {
		s.logger.ErrorContext(ctx, "list peers failed", "user", actor.ID, "all", all, "err", err.Error())
	}
	return peers, err
}

func (s *loggingPeerService) GetPeer(ctx context.Context, actor Actor, id PeerID) (Peer, error) {
	peer, err := s.next.GetPeer(ctx, actor, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "get peer failed", "id", string(id), "err", err.Error())
	}
	return peer, err
}

func (s *loggingPeerService) CreatePeer(ctx context.Context, actor Actor, input CreatePeerInput) (Peer, error) {
	peer, err := s.next.CreatePeer(ctx, actor, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "create peer failed", "user", actor.ID, "subnet", input.SubnetID, "err", err.Error())
		return Peer{}, err
	}

	s.logger.InfoContext(ctx, "peer created", "id", string(peer.ID), "user", peer.OwnerID, "allowed_ips", peer.AllowedIPs, "status", string(peer.Status))
	return peer, nil
}

func (s *loggingPeerService) UpdatePeer(ctx context.Context, actor Actor, id PeerID, input UpdatePeerInput) (Peer, error) {
	peer, err := s.next.UpdatePeer(ctx, actor, id, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "update peer failed", "id", string(id), "user", actor.ID, "err", err.Error())
		return Peer{}, err
	}

	s.logger.InfoContext(ctx, "peer updated", "id", string(id), "allowed_ips", peer.AllowedIPs, "status", string(peer.Status))
	return peer, nil
}

func (s *loggingPeerService) DeletePeer(ctx context.Context, actor Actor, id PeerID) error {
	err := s.next.DeletePeer(ctx, actor, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "delete peer failed", "id", string(id), "user", actor.ID, "err", err.Error())
		return err
	}

	s.logger.InfoContext(ctx, "peer deleted", "id", string(id), "user", actor.ID)
	return nil
}

func (s *loggingPeerService) ReviewPeer(ctx context.Context, actor Actor, id PeerID, input ReviewPeerInput) (Peer, error) {
	peer, err := s.next.ReviewPeer(ctx, actor, id, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "review peer failed", "id", string(id), "status", string(input.Status), "err", err.Error())
		return Peer{}, err
	}

	s.logger.InfoContext(ctx, "peer reviewed", "id", string(id), "status", string(peer.Status), "reviewer", actor.ID)
	return peer, nil
}

func (s *loggingPeerService) PeerConfig(ctx context.Context, actor Actor, id PeerID) (string, error) {
	cfg, err := s.next.PeerConfig(ctx, actor, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "render peer config failed", "id", string(id), "err", err.Error())
	}
	return cfg, err
}

func (s *loggingPeerService) ListApplied(ctx context.Context, actor Actor) ([]PeerSpec, error) {
	specs, err := s.next.ListApplied(ctx, actor)
	if err != nil {
		s.logger.ErrorContext(ctx, "list applied peers failed", "user", actor.ID, "err", err.Error())
	}
	return specs, err
}
