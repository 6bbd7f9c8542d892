package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewAuthenticatorDisabledReturnsNil(t *testing.T) {
	authenticator, err := newAuthenticator(context.Background(), Config{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if authenticator != nil {
		t.Fatal("expected nil authenticator when auth is disabled")
	}
}

func TestNewAuthenticatorEnabledWithoutIssuerFails(t *testing.T) {
	_, err := newAuthenticator(context.Background(), Config{AuthEnabled: true})
	if err == nil {
		t.Fatal("expected error when auth is enabled without issuer")
	}
}

func TestServeReturnsDBErrorBeforeStartingServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() {
		if closeErr := listener.Close(); closeErr != nil {
			t.Fatalf("close: %v", closeErr)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = Serve(ctx, Config{
		DSN: "postgres://wg:wg@127.0.0.1:1/wg?sslmode=disable&connect_timeout=2",
	}, listener)
	if err == nil {
		t.Fatal("expected serve to fail")
	}
}

func TestServeWithMemoryStore(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, Config{
			AnsibleProjectPath: t.TempDir(),
			ReconcileInterval:  50 * time.Millisecond,
			ReadTimeout:        time.Second,
			WriteTimeout:       time.Second,
			LogLevel:           "error",
		}, listener)
	}()

	url := "http://" + listener.Addr().String() + "/readyz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected %d, got %d", http.StatusOK, resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become ready: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestSuperviseRestartsCrashedTask(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	err := supervise(ctx, logger, "flaky", func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("failed")
		default:
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
	})
	if err != nil {
		t.Fatalf("expected nil after cancellation, got %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("expected 3 runs, got %d", runs.Load())
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("APPLY_TIMEOUT", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "4040" || cfg.ApplyPlaybook != "apply-config.yml" || cfg.ApplyMaxRetries != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReconcileInterval != time.Second || cfg.ApplyTimeout != 10*time.Minute {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
}

func TestLoadConfigFromEnvAndFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(file, []byte("port: \"9090\"\napply_playbook: deploy.yml\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", file)
	t.Setenv("APPLY_PLAYBOOK", "override.yml")
	t.Setenv("RECONCILE_INTERVAL", "250ms")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port from file, got %q", cfg.Port)
	}
	if cfg.ApplyPlaybook != "override.yml" {
		t.Fatalf("expected env to win, got %q", cfg.ApplyPlaybook)
	}
	if cfg.ReconcileInterval != 250*time.Millisecond {
		t.Fatalf("unexpected interval: %v", cfg.ReconcileInterval)
	}
}

func TestLoadConfigRejectsAuthWithoutIssuer(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_ISSUER", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error")
	}
}
