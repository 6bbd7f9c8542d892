package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Flarenzy/wg-ha/internal/auth"
	"github.com/Flarenzy/wg-ha/internal/domain"
)

const userRefreshInterval = time.Minute

func isPublicPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics" || strings.HasPrefix(path, "/swagger/")
}

// authMiddleware attaches the verified principal to the request context.
// Without an authenticator every request acts as the local administrator.
func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		if a.deps.Authenticator == nil {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(ctx, auth.LocalPrincipal())))
			return
		}

		token := bearerToken(r)
		if token == "" {
			a.respond(w, r, http.StatusUnauthorized, ErrorResponse{Error: "missing token"})
			return
		}

		principal, err := a.deps.Authenticator.Authenticate(ctx, token)
		if err != nil {
			a.Logger.DebugContext(ctx, "rejected token", "err", err.Error())
			a.respond(w, r, http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}

		a.recordUser(ctx, principal)
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(ctx, principal)))
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket upgrades, so the access_token query parameter is accepted there.
func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	if r.URL.Path == "/api/v1/events" {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func (a *API) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return a.requireRole(auth.Principal.IsUser, next)
}

func (a *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return a.requireRole(auth.Principal.IsAdmin, next)
}

func (a *API) requireRole(allowed func(auth.Principal) bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			a.respond(w, r, http.StatusUnauthorized, ErrorResponse{Error: "missing token"})
			return
		}
		if !allowed(principal) {
			a.Logger.InfoContext(r.Context(), "access denied", "subject", principal.Subject, "path", r.URL.Path)
			a.respond(w, r, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
			return
		}
		next(w, r)
	}
}

func actorFrom(r *http.Request) domain.Actor {
	principal, _ := auth.PrincipalFromContext(r.Context())
	return domain.Actor{ID: principal.Subject, Admin: principal.IsAdmin()}
}

// recordUser keeps the user directory current with the identities seen on
// requests, writing at most once per userRefreshInterval per subject.
func (a *API) recordUser(ctx context.Context, principal auth.Principal) {
	if a.deps.Users == nil || principal.Subject == "" {
		return
	}
	now := time.Now().UTC()
	a.seenMu.Lock()
	last, ok := a.seen[principal.Subject]
	if ok && now.Sub(last) < userRefreshInterval {
		a.seenMu.Unlock()
		return
	}
	a.seen[principal.Subject] = now
	a.seenMu.Unlock()

	err := a.deps.Users.Upsert(ctx, domain.User{
		ID:       principal.Subject,
		Username: principal.Username,
		Roles:    principal.Roles,
		LastSeen: now,
	})
	if err != nil {
		a.Logger.WarnContext(ctx, "recording user failed", "subject", principal.Subject, "err", err.Error())
	}
}
