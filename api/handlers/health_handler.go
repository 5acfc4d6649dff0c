package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/ytdl-go/internal/app"
	"github.com/yourusername/ytdl-go/internal/infrastructure"
)

// HealthHandler reports liveness, readiness and the API version
type HealthHandler struct {
	queueMgr    *app.QueueManager
	downloadMgr *app.DownloadManager
	notifier    *infrastructure.NotificationQueue
	version     string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(queueMgr *app.QueueManager, downloadMgr *app.DownloadManager, notifier *infrastructure.NotificationQueue, version string) *HealthHandler {
	return &HealthHandler{
		queueMgr:    queueMgr,
		downloadMgr: downloadMgr,
		notifier:    notifier,
		version:     version,
	}
}

// JobStats describes the download job slots
type JobStats struct {
	Running bool `json:"running"`
	Active  int  `json:"active"`
	Limit   int  `json:"limit"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Jobs          JobStats `json:"jobs"`
	Notifications string   `json:"notifications"`
}

// ReadyResponse is the body of GET /ready
type ReadyResponse struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

// VersionResponse is the body of GET /api/version
type VersionResponse struct {
	APIVersion string `json:"apiVersion"`
}

func (h *HealthHandler) jobStats() JobStats {
	stats := JobStats{Running: h.queueMgr.IsRunning()}
	stats.Active, stats.Limit = h.downloadMgr.ActiveJobs()
	return stats
}

// Health handles GET /health. It always answers 200 while the process serves.
func (h *HealthHandler) Health(c *gin.Context) {
	notifications := "open"
	if h.notifier.Closed() {
		notifications = "closed"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       h.version,
		Jobs:          h.jobStats(),
		Notifications: notifications,
	})
}

// Ready handles GET /ready. Submissions are accepted only while jobs can
// start and progress can still be delivered.
func (h *HealthHandler) Ready(c *gin.Context) {
	var reasons []string
	if !h.queueMgr.IsRunning() {
		reasons = append(reasons, "download queue not running")
	}
	if h.notifier.Closed() {
		reasons = append(reasons, "progress notifications closed")
	}

	if len(reasons) > 0 {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Status: "not ready", Reasons: reasons})
		return
	}
	c.JSON(http.StatusOK, ReadyResponse{Status: "ready"})
}

// Version handles GET /api/version
func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, VersionResponse{APIVersion: h.version})
}
