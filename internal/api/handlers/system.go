package handlers

import (
	"net/http"
)

// SystemHandler serves process-level endpoints.
type SystemHandler struct {
	service FleetService
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(svc FleetService) *SystemHandler {
	return &SystemHandler{service: svc}
}

// Health handles GET /api/health. It reports liveness only and never
// depends on worker reachability.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.service.Health())
}

// Uptime handles GET /api/system/uptime.
func (h *SystemHandler) Uptime(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.service.Uptime())
}
