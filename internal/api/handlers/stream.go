package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	apierrors "github.com/narvanalabs/gpufleet/internal/api/errors"
	"github.com/narvanalabs/gpufleet/internal/models"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// Stream message types.
const (
	StreamMessageSnapshot = "snapshot"
	StreamMessageUpdate   = "update"
)

// StreamMessage is one frame on the live feed.
type StreamMessage struct {
	Type    string                `json:"type"`
	Workers []models.WorkerStatus `json:"workers,omitempty"`
	Worker  *models.WorkerStatus  `json:"worker,omitempty"`
}

// Subscriber hands out live record updates.
type Subscriber interface {
	Subscribe() (<-chan models.WorkerStatus, func())
}

// StreamHandler pushes record updates over a WebSocket.
type StreamHandler struct {
	service  FleetService
	updates  Subscriber
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc FleetService, updates Subscriber, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		service: svc,
		updates: updates,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
			Error:       writeUpgradeError,
		},
	}
}

// writeUpgradeError reports a failed handshake, such as a plain HTTP GET,
// as a validation error with the status the upgrader chose.
func writeUpgradeError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	err := apierrors.NewValidationError(reason.Error()).
		WithRequestID(middleware.GetReqID(r.Context()))
	apierrors.WriteJSON(w, status, err)
}

// Stream handles GET /api/stream. The first frame is the full list; each
// applied record follows as its own frame.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade rejected", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before reading the list so no update falls between the two.
	updates, cancel := h.updates.Subscribe()
	defer cancel()

	h.logger.Debug("stream client connected", "remote_addr", r.RemoteAddr)

	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(StreamMessage{Type: StreamMessageSnapshot, Workers: h.service.ListAll()}); err != nil {
		return
	}

	// Reader: handles pongs and notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Debug("stream client disconnected", "remote_addr", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case rec, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(StreamMessage{Type: StreamMessageUpdate, Worker: &rec}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
