package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/yourusername/ytdl-go/internal/domain"
	"github.com/yourusername/ytdl-go/internal/infrastructure"
	"github.com/yourusername/ytdl-go/pkg/logger"
	"go.uber.org/zap"
)

// DownloadManager drives a download through its lifecycle and serves the
// converted file afterwards
type DownloadManager struct {
	repo        domain.DownloadRepository
	extractor   domain.Extractor
	muxer       domain.Muxer
	storage     domain.Storage
	notifier    *infrastructure.NotificationQueue
	config      *domain.DownloadConfig
	logger      *zap.Logger
	multiLogger *logger.MultiLogger
	semaphore   chan struct{} // bounds concurrently running jobs
	locks       mediaLocks    // serialises retrieve and delete per media id
}

// mediaLocks hands out one mutex per media id, dropped once unused
type mediaLocks struct {
	mu    sync.Mutex
	locks map[string]*mediaLock
}

type mediaLock struct {
	sync.Mutex
	refs int
}

func (l *mediaLocks) lock(mediaID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*mediaLock)
	}
	ml, ok := l.locks[mediaID]
	if !ok {
		ml = &mediaLock{}
		l.locks[mediaID] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.Lock()
	return func() {
		ml.Unlock()
		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, mediaID)
		}
		l.mu.Unlock()
	}
}

// NewDownloadManager creates a new download manager
func NewDownloadManager(
	repo domain.DownloadRepository,
	extractor domain.Extractor,
	muxer domain.Muxer,
	storage domain.Storage,
	notifier *infrastructure.NotificationQueue,
	config *domain.DownloadConfig,
	log *zap.Logger,
	multiLogger *logger.MultiLogger,
) *DownloadManager {
	limit := config.ConcurrentLimit
	if limit < 1 {
		limit = 1
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &DownloadManager{
		repo:        repo,
		extractor:   extractor,
		muxer:       muxer,
		storage:     storage,
		notifier:    notifier,
		config:      config,
		logger:      log,
		multiLogger: multiLogger,
		semaphore:   make(chan struct{}, limit),
	}
}

// ActiveJobs returns how many downloads hold a job slot and the slot limit
func (dm *DownloadManager) ActiveJobs() (active, limit int) {
	return len(dm.semaphore), cap(dm.semaphore)
}

// ProcessDownload runs a started download to finished. Any error marks the
// download failed. Scratch files are removed on every path.
func (dm *DownloadManager) ProcessDownload(ctx context.Context, download *domain.Download) error {
	// Waiting jobs stay in started
	select {
	case dm.semaphore <- struct{}{}:
		defer func() { <-dm.semaphore }()
	case <-ctx.Done():
		dm.fail(ctx, download, ctx.Err())
		return ctx.Err()
	}

	dm.logger.Info("Processing download",
		zap.String("media_id", download.MediaID),
		zap.String("url", download.URL),
		zap.String("format", string(download.MediaFormat)),
		zap.String("extractor", dm.extractor.Name()))

	var scratch []string
	defer func() { dm.removeScratch(scratch) }()

	err := dm.run(ctx, download, &scratch)
	if err != nil {
		dm.fail(ctx, download, err)
		return err
	}

	dm.logger.Info("Download finished",
		zap.String("media_id", download.MediaID),
		zap.String("file_path", download.FilePath))
	return nil
}

func (dm *DownloadManager) run(ctx context.Context, download *domain.Download, scratch *[]string) error {
	if err := dm.advance(ctx, download, download.MarkDownloading); err != nil {
		return err
	}

	var inputs []string
	for _, streamID := range []string{download.AudioStreamID, download.VideoStreamID} {
		if streamID == "" {
			continue
		}
		prefix := fmt.Sprintf("%s_%s", streamID, download.MediaID)
		path, err := dm.extractor.DownloadStream(ctx, download.URL, streamID,
			dm.config.TempDir, prefix, dm.chunkReporter(ctx, download))
		if path != "" {
			*scratch = append(*scratch, path)
		}
		if err != nil {
			// Extractors may leave a partial file they did not report
			partial, _ := filepath.Glob(filepath.Join(dm.config.TempDir, prefix+".*"))
			*scratch = append(*scratch, partial...)
			return fmt.Errorf("failed to download stream %s: %w", streamID, err)
		}
		inputs = append(inputs, path)
	}

	if err := dm.advance(ctx, download, download.MarkConverting); err != nil {
		return err
	}

	output := filepath.Join(dm.config.TempDir, fmt.Sprintf("%s.%s", download.MediaID, download.MediaFormat))
	*scratch = append(*scratch, output)
	if err := dm.muxer.Mux(ctx, inputs, output, download.MediaFormat); err != nil {
		return fmt.Errorf("failed to convert media: %w", err)
	}

	key, err := dm.storage.SaveDownloadFromFile(ctx, download, output)
	if err != nil {
		return fmt.Errorf("failed to store media: %w", err)
	}

	return dm.advance(ctx, download, func() error { return download.MarkFinished(key) })
}

// advance applies a status transition, persists it and notifies the client
func (dm *DownloadManager) advance(ctx context.Context, download *domain.Download, mark func() error) error {
	if err := mark(); err != nil {
		return err
	}
	if err := dm.repo.UpdateDownload(ctx, download); err != nil {
		return fmt.Errorf("failed to update download status: %w", err)
	}
	dm.notify(download)

	if dm.multiLogger != nil {
		dm.multiLogger.LogJobEvent("status_changed",
			zap.String("media_id", download.MediaID),
			zap.String("client_id", download.ClientID),
			zap.String("status", string(download.Status)))
	}
	return nil
}

// chunkReporter turns extractor chunk callbacks into indeterminate progress
func (dm *DownloadManager) chunkReporter(ctx context.Context, download *domain.Download) domain.ChunkCallback {
	return func(written, remaining int64) {
		progress := &domain.DownloadProgress{
			ClientID: download.ClientID,
			MediaID:  download.MediaID,
			Status:   domain.StatusDownloading,
			Progress: domain.ProgressIndeterminate,
		}
		if err := dm.repo.UpdateDownloadProgress(ctx, progress); err != nil {
			dm.logger.Warn("Failed to store progress",
				zap.String("media_id", download.MediaID),
				zap.Error(err))
		}
		dm.notifier.Put(download.ClientID, progress)

		dm.logger.Debug("Chunk written",
			zap.String("media_id", download.MediaID),
			zap.Int64("written", written),
			zap.Int64("remaining", remaining))
	}
}

// fail records the error on the download. The write uses a context that
// outlives job cancellation so shutdown still leaves a terminal status.
func (dm *DownloadManager) fail(ctx context.Context, download *domain.Download, cause error) {
	if !download.IsInProgress() {
		return
	}
	if err := download.MarkFailed(cause); err != nil {
		dm.logger.Error("Failed to mark download failed", zap.Error(err))
		return
	}

	if err := dm.repo.UpdateDownload(context.WithoutCancel(ctx), download); err != nil {
		dm.logger.Error("Failed to update download status",
			zap.String("media_id", download.MediaID),
			zap.Error(err))
	}
	dm.notify(download)

	dm.logger.Error("Download failed",
		zap.String("media_id", download.MediaID),
		zap.String("url", download.URL),
		zap.Error(cause))
	if dm.multiLogger != nil {
		dm.multiLogger.LogAppError("Download failed",
			zap.String("media_id", download.MediaID),
			zap.String("client_id", download.ClientID),
			zap.String("url", download.URL),
			zap.Error(cause))
	}
}

func (dm *DownloadManager) notify(download *domain.Download) {
	dm.notifier.Put(download.ClientID, download.ProgressEvent())
}

func (dm *DownloadManager) removeScratch(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			dm.logger.Warn("Failed to remove scratch file",
				zap.String("path", path),
				zap.Error(err))
		}
	}
}

// OpenDownloadFile opens the stored file of a finished download and marks
// the download as retrieved. The caller closes the reader.
func (dm *DownloadManager) OpenDownloadFile(ctx context.Context, clientID, mediaID string) (*domain.Download, io.ReadCloser, int64, error) {
	unlock := dm.locks.lock(mediaID)
	defer unlock()

	download, err := dm.repo.GetDownload(ctx, clientID, mediaID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to get download: %w", err)
	}
	if download == nil {
		return nil, nil, 0, domain.ErrDownloadNotFound
	}
	if !download.IsFileAvailable() {
		return nil, nil, 0, domain.ErrFileNotDownloadedYet
	}

	reader, size, err := dm.storage.GetDownload(ctx, download.FilePath)
	if err != nil {
		return nil, nil, 0, err
	}

	if download.Status == domain.StatusFinished {
		if err := dm.advance(ctx, download, download.MarkFileDownloaded); err != nil {
			reader.Close()
			return nil, nil, 0, err
		}
	}
	return download, reader, size, nil
}

// DeleteDownload removes the stored file and soft-deletes the download
func (dm *DownloadManager) DeleteDownload(ctx context.Context, clientID, mediaID string) (*domain.Download, error) {
	unlock := dm.locks.lock(mediaID)
	defer unlock()

	download, err := dm.repo.GetDownload(ctx, clientID, mediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to get download: %w", err)
	}
	if download == nil {
		return nil, domain.ErrDownloadNotFound
	}
	if !download.IsFileAvailable() {
		return nil, domain.ErrNotDownloadedYet
	}

	if err := dm.storage.RemoveDownload(ctx, download.FilePath); err != nil {
		return nil, fmt.Errorf("failed to remove stored file: %w", err)
	}
	if err := dm.advance(ctx, download, download.MarkDeleted); err != nil {
		return nil, err
	}

	dm.logger.Info("Download deleted",
		zap.String("media_id", mediaID),
		zap.String("client_id", clientID))
	return download, nil
}
