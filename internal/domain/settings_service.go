package domain

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const DefaultListenPort = 51820

var DefaultServerAddresses = []string{"10.0.0.1/24", "fdc9:281f:4d7:9ee9::1/112"}

type settingsService struct {
	repo     SettingsRepository
	notifier Notifier
	defaults Settings
}

// NewSettingsService returns a service that seeds the store with defaults on
// first boot. A defaults value without a private key gets a generated one.
func NewSettingsService(repo SettingsRepository, notifier Notifier, defaults Settings) SettingsService {
	if len(defaults.Server.Addresses) == 0 {
		defaults.Server.Addresses = append([]string(nil), DefaultServerAddresses...)
	}
	if defaults.Server.ListenPort == 0 {
		defaults.Server.ListenPort = DefaultListenPort
	}
	return &settingsService{
		repo:     repo,
		notifier: notifierOrNop(notifier),
		defaults: defaults,
	}
}

func (s *settingsService) GetSettings(ctx context.Context) (Settings, error) {
	return s.repo.Get(ctx)
}

func (s *settingsService) EnsureSettings(ctx context.Context) (Settings, error) {
	settings, err := s.repo.Get(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Settings{}, err
	}

	settings = s.defaults
	if settings.Server.PrivateKey == "" {
		key, err := wgtypes.GeneratePrivateKey()
		if err != nil {
			return Settings{}, fmt.Errorf("generate server key: %w", err)
		}
		settings.Server.PrivateKey = key.String()
	}
	if err := normalizeServer(&settings.Server); err != nil {
		return Settings{}, err
	}
	if err := s.repo.Save(ctx, settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *settingsService) UpdateSettings(ctx context.Context, actor Actor, input UpdateSettingsInput) (Settings, error) {
	if !actor.Admin {
		return Settings{}, fmt.Errorf("%w: settings require admin", ErrUnauthorized)
	}
	settings, err := s.repo.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	if input.Review != nil {
		settings.Review = *input.Review
	}
	if input.Server != nil {
		server := *input.Server
		if server.PrivateKey == "" {
			server.PrivateKey = settings.Server.PrivateKey
		}
		if len(server.Addresses) == 0 {
			server.Addresses = settings.Server.Addresses
		}
		if server.ListenPort == 0 {
			server.ListenPort = settings.Server.ListenPort
		}
		if err := normalizeServer(&server); err != nil {
			return Settings{}, err
		}
		settings.Server = server
	}
	if err := s.repo.Save(ctx, settings); err != nil {
		return Settings{}, err
	}

	s.notifier.Emit(TopicSettingsChanged, settings, Scope{Admins: true})
	return settings, nil
}

// normalizeServer validates the server block and derives its public key.
func normalizeServer(server *ServerConfig) error {
	key, err := wgtypes.ParseKey(server.PrivateKey)
	if err != nil {
		return fmt.Errorf("%w: invalid server private key", ErrInvalidInput)
	}
	server.PublicKey = key.PublicKey().String()
	for _, value := range server.Addresses {
		if _, err := netip.ParsePrefix(value); err != nil {
			return fmt.Errorf("%w: invalid server address %q", ErrInvalidInput, value)
		}
	}
	if server.ListenPort < 1 || server.ListenPort > 65535 {
		return fmt.Errorf("%w: listen port %d out of range", ErrInvalidInput, server.ListenPort)
	}
	return nil
}
