package http

import (
	"net/http"
	"strconv"

	"github.com/Flarenzy/wg-ha/internal/domain"
)

// @Summary Health check
// @Tags health
// @Success 200 {string} string "ok"
// @Router /healthz [get]
func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// @Summary Readiness check
// @Tags health
// @Success 200 {string} string "ready"
// @Failure 503 {string} string "db unavailable"
// @Router /readyz [get]
func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if a.deps.Health != nil {
		if err := a.deps.Health.Ping(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "db ping failed", "err", err.Error())
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// @Summary List peers
// @Description Returns the caller's peers. Administrators may pass all=true to list every peer.
// @Tags peers
// @Produce json
// @Security BearerAuth
// @Param all query bool false "List peers of all users"
// @Success 200 {array} PeerResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/peers [get]
func (a *API) handleListPeers(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	peers, err := a.deps.Peers.ListPeers(r.Context(), actorFrom(r), all)
	if err != nil {
		a.writeError(w, r, err, "listing peers")
		return
	}
	a.respond(w, r, http.StatusOK, peersToResponse(peers))
}

// @Summary Create peer
// @Description Allocates addresses in the requested subnet. The peer starts PENDING when review is enabled.
// @Tags peers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param peer body CreatePeerRequest true "Peer payload"
// @Success 201 {object} PeerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/peers [post]
func (a *API) handleCreatePeer(w http.ResponseWriter, r *http.Request) {
	req, err := decode[CreatePeerRequest](r)
	defer r.Body.Close()
	if err != nil {
		a.badRequest(w, r, err, "unmarshaling peer from request")
		return
	}

	peer, err := a.deps.Peers.CreatePeer(r.Context(), actorFrom(r), req.toInput())
	if err != nil {
		a.writeError(w, r, err, "creating peer")
		return
	}
	a.respond(w, r, http.StatusCreated, peerToResponse(peer))
}

// @Summary Get peer
// @Tags peers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Peer ID"
// @Success 200 {object} PeerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/peers/{id} [get]
func (a *API) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathUUID(r, "id")
	if err != nil {
		a.badRequest(w, r, err, "parsing peer id")
		return
	}
	peer, err := a.deps.Peers.GetPeer(r.Context(), actorFrom(r), domain.PeerID(id))
	if err != nil {
		a.writeError(w, r, err, "reading peer")
		return
	}
	a.respond(w, r, http.StatusOK, peerToResponse(peer))
}

// @Summary Update peer
// @Description Omitted fields are left unchanged. Changing the subnet reallocates the peer's addresses.
// @Tags peers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Peer ID"
// @Param peer body UpdatePeerRequest true "Fields to change"
// @Success 200 {object} PeerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/peers/{id} [patch]
func (a *API) handleUpdatePeer(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathUUID(r, "id")
	if err != nil {
		a.badRequest(w, r, err, "parsing peer id")
		return
	}
	req, err := decode[UpdatePeerRequest](r)
	defer r.Body.Close()
	if err != nil {
		a.badRequest(w, r, err, "unmarshaling peer update")
		return
	}

	peer, err := a.deps.Peers.UpdatePeer(r.Context(), actorFrom(r), domain.PeerID(id), req.toInput())
	if err != nil {
		a.writeError(w, r, err, "updating peer")
		return
	}
	a.respond(w, r, http.StatusOK, peerToResponse(peer))
}

// @Summary Delete peer
// @Tags peers
// @Security BearerAuth
// @Param id path string true "Peer ID"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/peers/{id} [delete]
func (a *API) handleDeletePeer(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathUUID(r, "id")
	if err != nil {
		a.badRequest(w, r, err, "parsing peer id")
		return
	}
	if err := a.deps.Peers.DeletePeer(r.Context(), actorFrom(r), domain.PeerID(id)); err != nil {
		a.writeError(w, r, err, "deleting peer")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Review peer
// @Tags peers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Peer ID"
// @Param review body ReviewPeerRequest true "New approval status"
// @Success 200 {object} PeerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/peers/{id}/review [post]
func (a *API) handleReviewPeer(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathUUID(r, "id")
	if err != nil {
		a.badRequest(w, r, err, "parsing peer id")
		return
	}
	req, err := decode[ReviewPeerRequest](r)
	defer r.Body.Close()
	if err != nil {
		a.badRequest(w, r, err, "unmarshaling review")
		return
	}

	input := domain.ReviewPeerInput{Status: domain.ApprovalStatus(req.Permitted)}
	peer, err := a.deps.Peers.ReviewPeer(r.Context(), actorFrom(r), domain.PeerID(id), input)
	if err != nil {
		a.writeError(w, r, err, "reviewing peer")
		return
	}
	a.respond(w, r, http.StatusOK, peerToResponse(peer))
}

// @Summary Download client configuration
// @Tags peers
// @Produce plain
// @Security BearerAuth
// @Param id path string true "Peer ID"
// @Success 200 {string} string "wg-quick configuration"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/peers/{id}/config [get]
func (a *API) handlePeerConfig(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathUUID(r, "id")
	if err != nil {
		a.badRequest(w, r, err, "parsing peer id")
		return
	}
	cfg, err := a.deps.Peers.PeerConfig(r.Context(), actorFrom(r), domain.PeerID(id))
	if err != nil {
		a.writeError(w, r, err, "rendering client config")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="wg0.conf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(cfg))
}

// @Summary List applied peers
// @Description Returns the last successfully deployed peer set, restricted to the caller's peers for non-administrators.
// @Tags peers
// @Produce json
// @Security BearerAuth
// @Success 200 {array} AppliedPeerResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/applied [get]
func (a *API) handleListApplied(w http.ResponseWriter, r *http.Request) {
	specs, err := a.deps.Peers.ListApplied(r.Context(), actorFrom(r))
	if err != nil {
		a.writeError(w, r, err, "listing applied peers")
		return
	}
	a.respond(w, r, http.StatusOK, appliedToResponse(specs))
}
