package handlers

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/ytdl-go/api/middleware"
	"github.com/yourusername/ytdl-go/internal/app"
	"github.com/yourusername/ytdl-go/internal/domain"
	"go.uber.org/zap"
)

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	queueMgr    *app.QueueManager
	downloadMgr *app.DownloadManager
	logger      *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(queueMgr *app.QueueManager, downloadMgr *app.DownloadManager, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		queueMgr:    queueMgr,
		downloadMgr: downloadMgr,
		logger:      logger,
	}
}

// DownloadsResponse lists a client's downloads
type DownloadsResponse struct {
	Downloads []*domain.Download `json:"downloads"`
}

// DeleteResponse confirms a deleted download
type DeleteResponse struct {
	MediaID string                `json:"mediaId"`
	Status  domain.DownloadStatus `json:"status"`
}

// ListDownloads handles GET /api/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	h.respondWithDownloads(c, http.StatusOK)
}

// Preview handles GET /api/preview?url=
func (h *DownloadHandler) Preview(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		writeError(c, h.logger, fmt.Errorf("%w: url is required", domain.ErrValidation))
		return
	}

	info, err := h.queueMgr.Preview(c.Request.Context(), rawURL)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// SubmitDownload handles PUT /api/download
func (h *DownloadHandler) SubmitDownload(c *gin.Context) {
	var params domain.DownloadParams
	if err := c.ShouldBindJSON(&params); err != nil {
		writeError(c, h.logger, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	clientID := middleware.GetClientID(c)
	download, err := h.queueMgr.AddDownload(c.Request.Context(), clientID, params)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("Download submitted",
		zap.String("client_id", clientID),
		zap.String("media_id", download.MediaID),
		zap.String("url", download.URL),
		zap.String("format", string(download.MediaFormat)))

	h.respondWithDownloads(c, http.StatusCreated)
}

// GetFile handles GET /api/download?media_id=
func (h *DownloadHandler) GetFile(c *gin.Context) {
	mediaID := c.Query("media_id")

	download, reader, size, err := h.downloadMgr.OpenDownloadFile(c.Request.Context(), middleware.GetClientID(c), mediaID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	defer reader.Close()

	filename := download.Filename()
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
			asciiFilename(filename), url.PathEscape(filename)),
	}
	c.DataFromReader(http.StatusOK, size, "application/octet-stream", reader, headers)
}

// DeleteDownload handles DELETE /api/delete?media_id=
func (h *DownloadHandler) DeleteDownload(c *gin.Context) {
	mediaID := c.Query("media_id")

	download, err := h.downloadMgr.DeleteDownload(c.Request.Context(), middleware.GetClientID(c), mediaID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, DeleteResponse{MediaID: download.MediaID, Status: download.Status})
}

func (h *DownloadHandler) respondWithDownloads(c *gin.Context, status int) {
	downloads, err := h.queueMgr.ListDownloads(c.Request.Context(), middleware.GetClientID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if downloads == nil {
		downloads = []*domain.Download{}
	}

	c.JSON(status, DownloadsResponse{Downloads: downloads})
}

// asciiFilename replaces characters that cannot appear in a quoted header value
func asciiFilename(name string) string {
	out := []rune(name)
	for i, r := range out {
		if r > 0x7e || r < 0x20 || r == '"' || r == '\\' {
			out[i] = '_'
		}
	}
	return string(out)
}
