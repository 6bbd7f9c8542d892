package db

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Flarenzy/wg-ha/internal/domain"
)

func TestMemoryPeerRepositoryRejectsDuplicateKeys(t *testing.T) {
	peers := NewMemory().Peers()
	ctx := context.Background()

	if _, err := peers.Create(ctx, domain.Peer{PeerSpec: domain.PeerSpec{PublicKey: "k1"}}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	_, err := peers.Create(ctx, domain.Peer{PeerSpec: domain.PeerSpec{PublicKey: "k1"}})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryPeerRepositoryReturnsCopies(t *testing.T) {
	peers := NewMemory().Peers()
	ctx := context.Background()

	created, err := peers.Create(ctx, domain.Peer{PeerSpec: domain.PeerSpec{PublicKey: "k1", Tags: []string{"a"}}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	created.Tags[0] = "mutated"

	found, err := peers.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if found.Tags[0] != "a" {
		t.Fatalf("expected stored tags to be isolated, got %v", found.Tags)
	}
}

func TestMemoryPeerRepositoryFindMissing(t *testing.T) {
	_, err := NewMemory().Peers().FindByID(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryWithSubnetLockSerializesSameSubnet(t *testing.T) {
	peers := NewMemory().Peers()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = peers.WithSubnetLock(ctx, 3, func(context.Context, domain.PeerRepository) error {
				mu.Lock()
				active++
				if active > 1 {
					overlap = true
				}
				mu.Unlock()

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if overlap {
		t.Fatal("expected guarded sections of one subnet never to overlap")
	}
}

func TestMemoryAppliedReplace(t *testing.T) {
	applied := NewMemory().Applied()
	ctx := context.Background()

	if err := applied.Replace(ctx, []domain.PeerSpec{{PublicKey: "k1"}, {PublicKey: "k2"}}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := applied.Replace(ctx, []domain.PeerSpec{{PublicKey: "k3"}}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	specs, err := applied.List(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(specs) != 1 || specs[0].PublicKey != "k3" {
		t.Fatalf("expected snapshot to be replaced wholesale, got %+v", specs)
	}
}

func TestMemorySettingsNotFoundUntilSaved(t *testing.T) {
	settings := NewMemory().Settings()
	ctx := context.Background()

	if _, err := settings.Get(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := settings.Save(ctx, domain.Settings{Review: true}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err := settings.Get(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !got.Review {
		t.Fatal("expected saved review flag")
	}
}
