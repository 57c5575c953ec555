package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/gpufleet/internal/api/errors"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	apierrors.WriteJSON(w, status, data)
}

// WriteError writes err with the request's id attached.
func WriteError(w http.ResponseWriter, r *http.Request, err *apierrors.APIError) {
	apierrors.WriteError(w, err.WithRequestID(middleware.GetReqID(r.Context())))
}

// WriteNotConfigured writes a 404 for a worker id outside the fleet.
func WriteNotConfigured(w http.ResponseWriter, r *http.Request, workerID string) {
	WriteError(w, r, apierrors.NewNotConfiguredError(workerID))
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apierrors.NewInternalError(message))
}

// NotFound answers requests for unknown API paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, apierrors.NewNotFoundError("no route for "+r.URL.Path))
}

// MethodNotAllowed answers requests to a known path with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, apierrors.NewMethodNotAllowedError(r.Method, r.URL.Path))
}
