package http

import (
	"net/http"

	"github.com/Flarenzy/wg-ha/internal/auth"
	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/Flarenzy/wg-ha/internal/task"
)

// @Summary Get settings
// @Description The server private key is only returned to administrators.
// @Tags settings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SettingsResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/settings [get]
func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.deps.Settings.GetSettings(r.Context())
	if err != nil {
		a.writeError(w, r, err, "reading settings")
		return
	}
	if !actorFrom(r).Admin {
		settings = settings.Public()
	}
	a.respond(w, r, http.StatusOK, settingsToResponse(settings))
}

// @Summary Update settings
// @Tags settings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param settings body UpdateSettingsRequest true "Fields to change"
// @Success 200 {object} SettingsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/settings [patch]
func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	req, err := decode[UpdateSettingsRequest](r)
	defer r.Body.Close()
	if err != nil {
		a.badRequest(w, r, err, "unmarshaling settings")
		return
	}
	settings, err := a.deps.Settings.UpdateSettings(r.Context(), actorFrom(r), req.toInput())
	if err != nil {
		a.writeError(w, r, err, "updating settings")
		return
	}
	a.respond(w, r, http.StatusOK, settingsToResponse(settings))
}

// @Summary Run playbook
// @Description Queues a playbook run. Poll the Location header for its state.
// @Tags playbooks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param run body RunPlaybookRequest true "Playbook to run"
// @Success 202 {object} PlaybookStatusResponse
// @Header 202 {string} Location "Status URL"
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/playbooks [post]
func (a *API) handleRunPlaybook(w http.ResponseWriter, r *http.Request) {
	req, err := decode[RunPlaybookRequest](r)
	defer r.Body.Close()
	if err != nil {
		a.badRequest(w, r, err, "unmarshaling playbook run")
		return
	}
	if err := validatePlaybookName(req.Playbook); err != nil {
		a.badRequest(w, r, err, "invalid playbook name")
		return
	}

	handle, err := a.deps.Tasks.Submit(task.Job{Playbook: req.Playbook, ExtraVars: req.ExtraVars})
	if err != nil {
		a.writeError(w, r, err, "submitting playbook run")
		return
	}
	a.Logger.InfoContext(r.Context(), "playbook run submitted", "task", handle.ID, "playbook", req.Playbook)
	w.Header().Set("Location", "/api/v1/playbooks/"+handle.ID)
	a.respond(w, r, http.StatusAccepted, PlaybookStatusResponse{State: string(task.StatePending)})
}

// @Summary Playbook run status
// @Description Output holds the accumulated playbook output, or the failure reason once the run failed.
// @Tags playbooks
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task ID"
// @Success 200 {object} PlaybookStatusResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/playbooks/{id} [get]
func (a *API) handlePlaybookStatus(w http.ResponseWriter, r *http.Request) {
	t, err := a.deps.Tracker.Status(r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err, "reading playbook status")
		return
	}
	a.respond(w, r, http.StatusOK, taskToStatus(t))
}

// @Summary Revoke playbook run
// @Description Drops a queued run or kills a running one.
// @Tags playbooks
// @Security BearerAuth
// @Param id path string true "Task ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/playbooks/{id} [delete]
func (a *API) handleRevokePlaybook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.deps.Tasks.Revoke(id); err != nil {
		a.writeError(w, r, err, "revoking playbook run")
		return
	}
	a.Logger.InfoContext(r.Context(), "playbook run revoked", "task", id)
	w.WriteHeader(http.StatusNoContent)
}

// @Summary List inventory
// @Tags playbooks
// @Produce json
// @Security BearerAuth
// @Param inventory query string false "Inventory source passed to -i"
// @Success 200 {object} object
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/inventory [get]
func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out, err := a.deps.Inventory.Inventory(ctx, r.URL.Query().Get("inventory"))
	if err != nil {
		a.Logger.ErrorContext(ctx, "listing inventory", "err", err.Error())
		a.respond(w, r, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// @Summary List custom firewall rules
// @Tags custom-rules
// @Produce json
// @Security BearerAuth
// @Success 200 {array} CustomRuleDTO
// @Router /api/v1/custom-rules [get]
func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.deps.Rules.ListRules(r.Context())
	if err != nil {
		a.writeError(w, r, err, "listing custom rules")
		return
	}
	a.respond(w, r, http.StatusOK, rulesToDTO(rules))
}

// @Summary Create custom firewall rule
// @Tags custom-rules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param rule body CustomRuleDTO true "Rule payload"
// @Success 201 {object} CustomRuleDTO
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/custom-rules [post]
func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	req, err := decode[CustomRuleDTO](r)
	defer r.Body.Close()
	if err != nil {
		a.badRequest(w, r, err, "unmarshaling custom rule")
		return
	}
	rule, err := a.deps.Rules.CreateRule(r.Context(), actorFrom(r), req.toInput())
	if err != nil {
		a.writeError(w, r, err, "creating custom rule")
		return
	}
	a.respond(w, r, http.StatusCreated, ruleToDTO(rule))
}

// @Summary Update custom firewall rule
// @Tags custom-rules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Rule ID"
// @Param rule body CustomRuleDTO true "Rule payload"
// @Success 200 {object} CustomRuleDTO
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/custom-rules/{id} [patch]
func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathUUID(r, "id")
	if err != nil {
		a.badRequest(w, r, err, "parsing rule id")
		return
	}
	req, err := decode[CustomRuleDTO](r)
	defer r.Body.Close()
	if err != nil {
		a.badRequest(w, r, err, "unmarshaling custom rule")
		return
	}
	rule, err := a.deps.Rules.UpdateRule(r.Context(), actorFrom(r), domain.RuleID(id), req.toInput())
	if err != nil {
		a.writeError(w, r, err, "updating custom rule")
		return
	}
	a.respond(w, r, http.StatusOK, ruleToDTO(rule))
}

// @Summary Delete custom firewall rule
// @Tags custom-rules
// @Security BearerAuth
// @Param id path string true "Rule ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/custom-rules/{id} [delete]
func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathUUID(r, "id")
	if err != nil {
		a.badRequest(w, r, err, "parsing rule id")
		return
	}
	if err := a.deps.Rules.DeleteRule(r.Context(), actorFrom(r), domain.RuleID(id)); err != nil {
		a.writeError(w, r, err, "deleting custom rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary List users
// @Description Users are recorded from the verified identities seen on requests.
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {array} UserResponse
// @Router /api/v1/users [get]
func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.deps.Users.List(r.Context())
	if err != nil {
		a.writeError(w, r, err, "listing users")
		return
	}
	a.respond(w, r, http.StatusOK, usersToResponse(users))
}

// @Summary Observer event stream
// @Description Websocket. Sends the full state first, then live events. Browsers may pass the token as access_token.
// @Tags events
// @Security BearerAuth
// @Param access_token query string false "Bearer token"
// @Success 101
// @Router /api/v1/events [get]
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.deps.Events.Serve(w, r, principal.Subject, principal.IsAdmin()); err != nil {
		a.Logger.DebugContext(r.Context(), "observer connection closed", "subject", principal.Subject, "err", err.Error())
	}
}
