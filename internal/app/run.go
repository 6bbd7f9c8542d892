package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/Flarenzy/wg-ha/internal/auth"
	"github.com/Flarenzy/wg-ha/internal/broadcast"
	"github.com/Flarenzy/wg-ha/internal/domain"
	apihttp "github.com/Flarenzy/wg-ha/internal/http"
	"github.com/Flarenzy/wg-ha/internal/observability"
	"github.com/Flarenzy/wg-ha/internal/reconcile"
	"github.com/Flarenzy/wg-ha/internal/render"
	"github.com/Flarenzy/wg-ha/internal/task"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func Run(ctx context.Context, cfg Config) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
	}
	return Serve(ctx, cfg, listener)
}

// Serve wires every component and blocks until ctx is cancelled or a
// background task fails for good.
func Serve(ctx context.Context, cfg Config, listener net.Listener) error {
	logger, err := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer st.close()

	bus := broadcast.NewBroadcaster(broadcast.NewRegistry(broadcast.DefaultBuffer), logger, broadcast.Stores{
		Peers:    st.peers,
		Users:    st.users,
		Applied:  st.applied,
		Settings: st.settings,
	})

	settings := domain.NewSettingsService(st.settings, bus, domain.Settings{})
	if _, err := settings.EnsureSettings(ctx); err != nil {
		return fmt.Errorf("initialise settings: %w", err)
	}

	ansible := render.NewAnsible(cfg.AnsibleProjectPath)
	allocator := domain.NewAllocator(domain.DefaultAddressPlan(), st.settings, st.peers)
	peers := domain.NewLoggingPeerService(logger,
		domain.NewPeerService(st.peers, st.applied, st.settings, allocator, render.NewWireGuard(), bus))
	rules := domain.NewRuleService(st.rules, ansible, bus)

	executor := task.NewExecutor(task.ExecutorConfig{
		ProjectPath: cfg.AnsibleProjectPath,
		Binary:      cfg.PlaybookBinary,
		Timeout:     cfg.ApplyTimeout,
	}, logger)
	queue := task.NewQueue(executor, logger, task.QueueOptions{MaxRetries: cfg.ApplyMaxRetries})
	tracker := task.NewTracker(logger, bus)

	loop := reconcile.NewLoop(reconcile.Config{
		Interval: cfg.ReconcileInterval,
		Playbook: cfg.ApplyPlaybook,
	}, reconcile.Deps{
		Peers:     st.peers,
		Applied:   st.applied,
		Renderer:  ansible,
		Submitter: queue,
		Waiter:    tracker,
		Publisher: bus,
	}, logger)

	api := apihttp.NewAPI(logger, apihttp.Deps{
		Health:        st.health,
		Peers:         peers,
		Settings:      settings,
		Rules:         rules,
		Users:         st.users,
		Tasks:         queue,
		Tracker:       tracker,
		Inventory:     task.NewInventoryLister(cfg.AnsibleProjectPath, cfg.InventoryBinary),
		Events:        bus,
		Authenticator: authenticator,
	})

	server := &http.Server{
		Handler:      api.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervise(gctx, logger, "task-queue", queue.Run)
	})
	g.Go(func() error {
		return supervise(gctx, logger, "task-tracker", func(ctx context.Context) error {
			return tracker.Run(ctx, queue.Events())
		})
	})
	g.Go(func() error {
		return supervise(gctx, logger, "reconcile-loop", loop.Run)
	})
	g.Go(func() error {
		logger.Info("serving http", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newAuthenticator(ctx context.Context, cfg Config) (auth.Authenticator, error) {
	return auth.NewKeycloakAuthenticator(ctx, auth.Config{
		Enabled:  cfg.AuthEnabled,
		Issuer:   cfg.Issuer,
		JWKSURL:  cfg.JWKSURL,
		Audience: cfg.Audience,
	})
}

// supervise runs fn until ctx is cancelled, restarting it with exponential
// backoff whenever it returns or panics.
func supervise(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := runRecovered(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > b.MaxInterval {
			b.Reset()
		}
		delay := b.NextBackOff()
		msg := "returned without error"
		if err != nil {
			msg = err.Error()
		}
		logger.ErrorContext(ctx, "background task stopped, restarting", "task", name, "err", msg, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func runRecovered(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
