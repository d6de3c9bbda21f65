package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/okian/classboard/internal/adapters/export"
	service "github.com/okian/classboard/internal/app"
	"github.com/okian/classboard/internal/cache"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/internal/domain/snapshot"
	"github.com/okian/classboard/pkg/logger"
)

// Snapshots is the read and refresh surface the handlers need.
type Snapshots interface {
	Snapshot(ctx context.Context, scope model.Scope) (cache.View, error)
	Refresh(ctx context.Context, scope model.Scope) error
}

// scopeParams are the path parameters naming a scope.
type scopeParams struct {
	Kind string `validate:"required,oneof=class student teacher"`
	ID   string `validate:"required,max=128,printascii"`
}

type snapshotResponse struct {
	State      string             `json:"state"`
	Generation uint64             `json:"generation"`
	Warning    string             `json:"warning,omitempty"`
	Snapshot   *snapshot.Exported `json:"snapshot,omitempty"`
}

type acceptedResponse struct {
	Status string `json:"status"`
	Scope  string `json:"scope"`
}

// SnapshotHandler serves the /v1/snapshots routes.
type SnapshotHandler struct {
	snapshots Snapshots
	validate  *validator.Validate
	logger    logger.Logger
}

// NewSnapshotHandler creates a new snapshot handler.
func NewSnapshotHandler(s Snapshots, l logger.Logger) *SnapshotHandler {
	return &SnapshotHandler{snapshots: s, validate: validator.New(), logger: l}
}

// HandleGet handles GET /v1/snapshots/{kind}/{id}. A stale view with data
// is served with a warning; a stale view without data is 202.
func (h *SnapshotHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	view, err := h.snapshots.Snapshot(r.Context(), scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := snapshotResponse{State: string(view.State), Generation: view.Generation}
	if view.Snapshot != nil {
		e := snapshot.Export(view.Snapshot)
		resp.Snapshot = &e
	}
	switch {
	case view.Err != nil:
		resp.Warning = fmt.Sprintf("last recompute failed: %v", view.Err)
	case view.State == cache.StateStale:
		resp.Warning = "recompute pending"
	}

	status := http.StatusOK
	if view.Snapshot == nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// HandleRefresh handles POST /v1/snapshots/{kind}/{id}/refresh.
func (h *SnapshotHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	if err := h.snapshots.Refresh(r.Context(), scope); err != nil && !errors.Is(err, cache.ErrNotQueued) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Scope: scope.Key()})
}

// HandleExport handles GET /v1/snapshots/{kind}/{id}/export.xlsx.
func (h *SnapshotHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	view, err := h.snapshots.Snapshot(r.Context(), scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if view.Snapshot == nil {
		writeError(w, http.StatusConflict, "no_snapshot", fmt.Errorf("%w: %s", ErrNoSnapshot, scope))
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="classboard-%s-%s.xlsx"`, scope.Kind, scope.ID))
	if err := export.WriteXLSX(w, snapshot.Export(view.Snapshot)); err != nil {
		// Headers are gone once the body started; log only.
		h.logger.Error(r.Context(), "export failed",
			logger.String("scope", scope.Key()),
			logger.Error(err),
		)
	}
}

func (h *SnapshotHandler) scope(w http.ResponseWriter, r *http.Request) (model.Scope, bool) {
	p := scopeParams{Kind: chi.URLParam(r, "kind"), ID: chi.URLParam(r, "id")}
	if err := h.validate.Struct(p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_scope", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return model.Scope{}, false
	}
	scope, err := model.ParseScope(p.Kind, p.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_scope", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return model.Scope{}, false
	}
	return scope, true
}

func (h *SnapshotHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, cache.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", fmt.Errorf("%w: %v", ErrUnavailable, err))
	case errors.Is(err, model.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, "invalid_scope", err)
	case errors.Is(err, cache.ErrTooMany):
		writeError(w, http.StatusTooManyRequests, "too_many_scopes", err)
	default:
		h.logger.Error(r.Context(), "snapshot request failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
