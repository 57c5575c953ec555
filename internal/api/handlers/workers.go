package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/narvanalabs/gpufleet/internal/api/errors"
	"github.com/narvanalabs/gpufleet/internal/api/health"
	"github.com/narvanalabs/gpufleet/internal/fleet"
	"github.com/narvanalabs/gpufleet/internal/models"
	"github.com/narvanalabs/gpufleet/internal/poller"
	"github.com/narvanalabs/gpufleet/pkg/logger"
)

// FleetService is the query surface the handlers serve.
type FleetService interface {
	ListAll() []models.WorkerStatus
	GetOne(id string) (models.WorkerStatus, error)
	RefreshAll(ctx context.Context) ([]models.WorkerStatus, poller.RoundSummary)
	RefreshOne(ctx context.Context, id string) (models.WorkerStatus, error)
	Health() *health.Response
	Uptime() health.Uptime
}

// RefreshAllResponse is returned by POST /api/refresh.
type RefreshAllResponse struct {
	Success bool                  `json:"success"`
	Round   poller.RoundSummary   `json:"round"`
	Workers []models.WorkerStatus `json:"workers"`
}

// WorkerHandler handles worker record requests.
type WorkerHandler struct {
	service FleetService
	logger  *logger.Logger
}

// NewWorkerHandler creates a new worker handler.
func NewWorkerHandler(svc FleetService, log *logger.Logger) *WorkerHandler {
	return &WorkerHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/workers - every configured worker in config order.
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	workers := h.service.ListAll()
	if workers == nil {
		workers = []models.WorkerStatus{}
	}
	WriteJSON(w, http.StatusOK, workers)
}

// Get handles GET /api/workers/{workerID}.
func (h *WorkerHandler) Get(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	ctx := logger.ContextWithWorkerID(r.Context(), workerID)

	status, err := h.service.GetOne(workerID)
	if err != nil {
		h.writeLookupError(w, r.WithContext(ctx), err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// Refresh handles POST /api/workers/{workerID}/refresh. It responds once the
// fetch result has been applied.
func (h *WorkerHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	ctx := logger.ContextWithWorkerID(r.Context(), workerID)
	log := h.logger.WithContext(ctx)

	status, err := h.service.RefreshOne(ctx, workerID)
	if err != nil {
		h.writeLookupError(w, r.WithContext(ctx), err)
		return
	}
	log.Info("worker refreshed", "online", status.Online, "error", status.LastError)
	WriteJSON(w, http.StatusOK, status)
}

// RefreshAll handles POST /api/refresh. It responds once the round completes.
func (h *WorkerHandler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	workers, round := h.service.RefreshAll(r.Context())
	if workers == nil {
		workers = []models.WorkerStatus{}
	}
	WriteJSON(w, http.StatusOK, RefreshAllResponse{
		Success: true,
		Round:   round,
		Workers: workers,
	})
}

// writeLookupError logs through r's context, which carries the worker id.
func (h *WorkerHandler) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	workerID := chi.URLParam(r, "workerID")
	switch {
	case errors.Is(err, fleet.ErrNotConfigured):
		WriteNotConfigured(w, r, workerID)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		WriteError(w, r, apierrors.NewUnavailableError("request ended before the refresh completed"))
	default:
		h.logger.WithContext(r.Context()).Error("worker request failed", "error", err)
		WriteInternalError(w, r, "Failed to read worker record")
	}
}
