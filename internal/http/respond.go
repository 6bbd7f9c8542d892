package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"github.com/Flarenzy/wg-ha/internal/task"
)

const maxBodyBytes = 1 << 20

func encode[T any](w http.ResponseWriter, r *http.Request, status int, v T) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func decode[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

func (a *API) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := encode(w, r, status, v); err != nil {
		a.Logger.ErrorContext(r.Context(), "responding to client", "err", err.Error())
	}
}

// writeError maps domain errors onto status codes. Unknown errors are
// logged and hidden behind a generic message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	ctx := r.Context()
	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: "internal server error"}

	var execErr *domain.PlaybookExecutionError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrConflict):
		status, resp.Error = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, task.ErrTaskNotFound):
		status, resp.Error = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrUnauthorized):
		status, resp.Error = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrAllocationExhausted):
		status, resp.Error = http.StatusConflict, err.Error()
	case errors.Is(err, task.ErrQueueFull):
		status, resp.Error = http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &execErr):
		resp.Error = execErr.Error()
	}

	if status >= http.StatusInternalServerError {
		a.Logger.ErrorContext(ctx, msg, "err", err.Error())
	} else {
		a.Logger.DebugContext(ctx, msg, "err", err.Error())
	}
	a.respond(w, r, status, resp)
}

func (a *API) badRequest(w http.ResponseWriter, r *http.Request, err error, msg string) {
	a.Logger.DebugContext(r.Context(), msg, "err", err.Error())
	a.respond(w, r, http.StatusBadRequest, ErrorResponse{Error: "bad request"})
}
