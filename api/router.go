package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/ytdl-go/api/handlers"
	"github.com/yourusername/ytdl-go/api/middleware"
	"github.com/yourusername/ytdl-go/internal/app"
	"github.com/yourusername/ytdl-go/internal/domain"
	"github.com/yourusername/ytdl-go/internal/infrastructure"
	"github.com/yourusername/ytdl-go/pkg/logger"
)

// Services bundles what the router dispatches to
type Services struct {
	QueueManager    *app.QueueManager
	DownloadManager *app.DownloadManager
	Notifier        *infrastructure.NotificationQueue
	Logger          *zap.Logger
	MultiLogger     *logger.MultiLogger
}

// SetupRouter sets up the HTTP router
func SetupRouter(config *domain.APIConfig, services Services) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	if err := router.SetTrustedProxies(config.TrustedProxies); err != nil {
		services.Logger.Warn("Invalid trusted proxies, using peer addresses", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(middleware.Recovery(services.Logger))
	router.Use(middleware.CORS(config.AllowOrigins))
	router.Use(middleware.Logger(services.Logger, services.MultiLogger))

	healthHandler := handlers.NewHealthHandler(services.QueueManager, services.DownloadManager, services.Notifier, config.Version)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	downloadHandler := handlers.NewDownloadHandler(services.QueueManager, services.DownloadManager, services.Logger)
	streamHandler := handlers.NewStreamHandler(services.Notifier, services.Logger)
	submitLimit := middleware.SubmitRateLimit(config.SubmitRate, config.SubmitBurst)

	api := router.Group("/api")
	api.Use(middleware.ClientID(config.CookieName, config.CookieMaxAge))
	{
		api.GET("/version", healthHandler.Version)
		api.GET("/downloads", downloadHandler.ListDownloads)
		api.GET("/preview", downloadHandler.Preview)

		api.PUT("/download", submitLimit, downloadHandler.SubmitDownload)
		api.POST("/download", submitLimit, downloadHandler.SubmitDownload)
		api.GET("/download", downloadHandler.GetFile)
		api.DELETE("/delete", downloadHandler.DeleteDownload)

		api.GET("/download/stream", streamHandler.Events)
		api.GET("/download/ws", streamHandler.WebSocket)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{Detail: "Not found"})
	})

	return router
}
