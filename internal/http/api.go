package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Flarenzy/wg-ha/internal/auth"
	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/Flarenzy/wg-ha/internal/observability"
	"github.com/Flarenzy/wg-ha/internal/task"
	httpSwagger "github.com/swaggo/http-swagger"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type TaskQueue interface {
	Submit(job task.Job) (task.Handle, error)
	Revoke(id string) error
}

type TaskTracker interface {
	Status(id string) (task.Task, error)
}

type InventoryLister interface {
	Inventory(ctx context.Context, inventory string) (json.RawMessage, error)
}

type EventStream interface {
	Serve(w http.ResponseWriter, r *http.Request, ownerID string, admin bool) error
}

// Deps are the collaborators the API routes to. Nil optional members
// disable the routes that need them.
type Deps struct {
	Health        HealthChecker
	Peers         domain.PeerService
	Settings      domain.SettingsService
	Rules         domain.RuleService
	Users         domain.UserRepository
	Tasks         TaskQueue
	Tracker       TaskTracker
	Inventory     InventoryLister
	Events        EventStream
	Authenticator auth.Authenticator
}

type API struct {
	Logger *slog.Logger
	deps   Deps

	seenMu sync.Mutex
	seen   map[string]time.Time
}

func NewAPI(logger *slog.Logger, deps Deps) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		Logger: logger,
		deps:   deps,
		seen:   make(map[string]time.Time),
	}
}

func (a *API) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	mux.Handle("GET /metrics", observability.Handler())
	mux.Handle("GET /swagger/", httpSwagger.WrapHandler)

	mux.HandleFunc("GET /api/v1/peers", a.requireUser(a.handleListPeers))
	mux.HandleFunc("POST /api/v1/peers", a.requireUser(a.handleCreatePeer))
	mux.HandleFunc("GET /api/v1/peers/{id}", a.requireUser(a.handleGetPeer))
	mux.HandleFunc("PATCH /api/v1/peers/{id}", a.requireUser(a.handleUpdatePeer))
	mux.HandleFunc("DELETE /api/v1/peers/{id}", a.requireUser(a.handleDeletePeer))
	mux.HandleFunc("POST /api/v1/peers/{id}/review", a.requireAdmin(a.handleReviewPeer))
	mux.HandleFunc("GET /api/v1/peers/{id}/config", a.requireUser(a.handlePeerConfig))
	mux.HandleFunc("GET /api/v1/applied", a.requireUser(a.handleListApplied))

	mux.HandleFunc("GET /api/v1/settings", a.requireUser(a.handleGetSettings))
	mux.HandleFunc("PATCH /api/v1/settings", a.requireAdmin(a.handleUpdateSettings))

	mux.HandleFunc("POST /api/v1/playbooks", a.requireAdmin(a.handleRunPlaybook))
	mux.HandleFunc("GET /api/v1/playbooks/{id}", a.requireAdmin(a.handlePlaybookStatus))
	mux.HandleFunc("DELETE /api/v1/playbooks/{id}", a.requireAdmin(a.handleRevokePlaybook))
	mux.HandleFunc("GET /api/v1/inventory", a.requireAdmin(a.handleInventory))

	mux.HandleFunc("GET /api/v1/custom-rules", a.requireAdmin(a.handleListRules))
	mux.HandleFunc("POST /api/v1/custom-rules", a.requireAdmin(a.handleCreateRule))
	mux.HandleFunc("PATCH /api/v1/custom-rules/{id}", a.requireAdmin(a.handleUpdateRule))
	mux.HandleFunc("DELETE /api/v1/custom-rules/{id}", a.requireAdmin(a.handleDeleteRule))

	mux.HandleFunc("GET /api/v1/users", a.requireAdmin(a.handleListUsers))
	mux.HandleFunc("GET /api/v1/events", a.requireUser(a.handleEvents))

	return a.authMiddleware(observability.HTTPMiddleware(mux))
}
