package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/ytdl-go/internal/domain"
	"github.com/yourusername/ytdl-go/internal/infrastructure"
	"github.com/yourusername/ytdl-go/pkg/logger"
)

// QueueManager accepts submissions, spawns a background job per download and
// keeps the scratch directory clean
type QueueManager struct {
	repo        domain.DownloadRepository
	extractor   domain.Extractor
	downloadMgr *DownloadManager
	notifier    *infrastructure.NotificationQueue
	config      *domain.DownloadConfig
	multiLogger *logger.MultiLogger
	logger      *zap.Logger

	jobsCtx    context.Context
	cancelJobs context.CancelFunc
	jobsWg     sync.WaitGroup

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	workerWg sync.WaitGroup
}

// NewQueueManager creates a new queue manager
func NewQueueManager(
	repo domain.DownloadRepository,
	extractor domain.Extractor,
	downloadMgr *DownloadManager,
	notifier *infrastructure.NotificationQueue,
	config *domain.DownloadConfig,
	multiLogger *logger.MultiLogger,
	log *zap.Logger,
) *QueueManager {
	if log == nil {
		log = zap.NewNop()
	}
	jobsCtx, cancel := context.WithCancel(context.Background())

	return &QueueManager{
		repo:        repo,
		extractor:   extractor,
		downloadMgr: downloadMgr,
		notifier:    notifier,
		config:      config,
		multiLogger: multiLogger,
		logger:      log,
		jobsCtx:     jobsCtx,
		cancelJobs:  cancel,
		stopChan:    make(chan struct{}),
	}
}

// Start starts the scratch janitor
func (qm *QueueManager) Start(ctx context.Context) error {
	qm.mu.Lock()
	if qm.running {
		qm.mu.Unlock()
		return fmt.Errorf("queue manager already running")
	}
	qm.running = true
	qm.mu.Unlock()

	qm.logJobEvent("queue_started")

	qm.workerWg.Add(1)
	go qm.runJanitor(ctx)

	return nil
}

// Stop cancels in-flight jobs, waits for them and stops the janitor
func (qm *QueueManager) Stop() error {
	qm.mu.Lock()
	if !qm.running {
		qm.mu.Unlock()
		return fmt.Errorf("queue manager not running")
	}
	qm.running = false
	qm.mu.Unlock()

	qm.logJobEvent("queue_stopped")
	close(qm.stopChan)
	qm.cancelJobs()
	qm.jobsWg.Wait()
	qm.workerWg.Wait()

	return nil
}

// IsRunning returns whether the queue manager is running
func (qm *QueueManager) IsRunning() bool {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.running
}

// Wait blocks until every spawned job has returned
func (qm *QueueManager) Wait() {
	qm.jobsWg.Wait()
}

// Preview returns the metadata and selectable streams of a video without
// creating a download
func (qm *QueueManager) Preview(ctx context.Context, url string) (*domain.VideoInfo, error) {
	if !domain.IsAllowedURL(url) {
		return nil, domain.ErrDomainNotAllowed
	}
	return qm.extractor.GetVideoInfo(ctx, url)
}

// AddDownload validates params, creates a started download and spawns its
// job. Metadata of an earlier download with the same url and format is
// reused instead of asking the extractor again.
func (qm *QueueManager) AddDownload(ctx context.Context, clientID string, params domain.DownloadParams) (*domain.Download, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	existing, err := qm.repo.GetDownloadIfExists(ctx, params.URL, params.MediaFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing download: %w", err)
	}

	var download *domain.Download
	if existing != nil {
		download = domain.NewDownloadFrom(clientID, params, existing)
	} else {
		info, err := qm.extractor.GetVideoInfo(ctx, params.URL)
		if err != nil {
			return nil, err
		}
		download = domain.NewDownload(clientID, params, info)
	}

	if err := qm.repo.PutDownload(ctx, download); err != nil {
		return nil, fmt.Errorf("failed to create download: %w", err)
	}
	qm.notifier.Put(clientID, download.ProgressEvent())

	qm.logJobEvent("download_added",
		zap.String("media_id", download.MediaID),
		zap.String("client_id", clientID),
		zap.String("url", download.URL),
		zap.String("format", string(download.MediaFormat)),
		zap.Bool("metadata_reused", existing != nil))

	qm.spawn(download.Clone())
	return download, nil
}

// spawn runs the job in the background. The request that created the
// download does not wait for it.
func (qm *QueueManager) spawn(download *domain.Download) {
	qm.jobsWg.Add(1)
	go func() {
		defer qm.jobsWg.Done()

		if err := qm.downloadMgr.ProcessDownload(qm.jobsCtx, download); err != nil {
			qm.logJobEvent("download_failed",
				zap.String("media_id", download.MediaID),
				zap.Error(err))
			return
		}
		qm.logJobEvent("download_completed",
			zap.String("media_id", download.MediaID),
			zap.String("status", string(download.Status)),
			zap.String("file_path", download.FilePath))
	}()
}

// ListDownloads returns the client's non-deleted downloads
func (qm *QueueManager) ListDownloads(ctx context.Context, clientID string) ([]*domain.Download, error) {
	return qm.repo.FetchDownloads(ctx, clientID)
}

// GetDownload returns a download owned by the client
func (qm *QueueManager) GetDownload(ctx context.Context, clientID, mediaID string) (*domain.Download, error) {
	download, err := qm.repo.GetDownload(ctx, clientID, mediaID)
	if err != nil {
		return nil, err
	}
	if download == nil {
		return nil, domain.ErrDownloadNotFound
	}
	return download, nil
}

// runJanitor periodically removes stale scratch files
func (qm *QueueManager) runJanitor(ctx context.Context) {
	defer qm.workerWg.Done()

	interval := qm.config.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-qm.stopChan:
			return
		case now := <-ticker.C:
			removed, err := qm.CleanScratch(now)
			if err != nil {
				qm.logger.Warn("Scratch cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				qm.logJobEvent("scratch_cleaned", zap.Int("removed", removed))
			}
		}
	}
}

// CleanScratch removes files in the temp directory older than the configured
// maximum age and returns how many were removed
func (qm *QueueManager) CleanScratch(now time.Time) (int, error) {
	entries, err := os.ReadDir(qm.config.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read scratch directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < qm.config.ScratchMaxAge {
			continue
		}
		if err := os.Remove(filepath.Join(qm.config.TempDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (qm *QueueManager) logJobEvent(event string, fields ...zap.Field) {
	if qm.multiLogger != nil {
		qm.multiLogger.LogJobEvent(event, fields...)
	}
}
