package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yourusername/ytdl-go/api/middleware"
	"github.com/yourusername/ytdl-go/internal/domain"
	"github.com/yourusername/ytdl-go/internal/infrastructure"
	"go.uber.org/zap"
)

const progressEvent = "progress"

var upgrader = websocket.Upgrader{
	// Origins are enforced by the CORS middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler pushes download progress to the client that owns it
type StreamHandler struct {
	notifier     *infrastructure.NotificationQueue
	logger       *zap.Logger
	pingInterval time.Duration
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(notifier *infrastructure.NotificationQueue, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		notifier:     notifier,
		logger:       logger,
		pingInterval: 30 * time.Second,
	}
}

// Events handles GET /api/download/stream. One "progress" event is written
// per queued message until the client disconnects.
func (h *StreamHandler) Events(c *gin.Context) {
	clientID := middleware.GetClientID(c)
	ctx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("SSE client connected", zap.String("client_id", clientID))
	defer h.logger.Debug("SSE client disconnected", zap.String("client_id", clientID))

	for {
		progress, err := h.notifier.Get(ctx, clientID)
		if err != nil {
			return
		}
		c.SSEvent(progressEvent, progress)
		c.Writer.Flush()
	}
}

// WebSocket handles GET /api/download/ws with the same messages as Events
func (h *StreamHandler) WebSocket(c *gin.Context) {
	clientID := middleware.GetClientID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	h.logger.Info("WebSocket client connected",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	// Reads only detect the peer going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	messages := make(chan *domain.DownloadProgress)
	go func() {
		defer close(messages)
		for {
			progress, err := h.notifier.Get(ctx, clientID)
			if err != nil {
				return
			}
			select {
			case messages <- progress:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case progress, ok := <-messages:
			if !ok {
				return
			}
			data, err := json.Marshal(progress)
			if err != nil {
				h.logger.Error("Failed to marshal progress", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("Failed to send progress", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
