package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/ytdl-go/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteDownloadRepository implements DownloadRepository as one document row
// per download in an embedded SQLite file
type SQLiteDownloadRepository struct {
	db *gorm.DB
}

// NewSQLiteDownloadRepository creates a new SQLite repository
func NewSQLiteDownloadRepository(dbPath string) (*SQLiteDownloadRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serialises writers from concurrent jobs
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.Download{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteDownloadRepository{db: db}, nil
}

// FetchDownloads returns the client's non-deleted downloads
func (r *SQLiteDownloadRepository) FetchDownloads(ctx context.Context, clientID string) ([]*domain.Download, error) {
	downloads := make([]*domain.Download, 0)
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND status <> ?", clientID, domain.StatusDeleted).
		Order("when_submitted ASC").
		Find(&downloads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch downloads: %w", err)
	}
	return downloads, nil
}

// PutDownload inserts or replaces a download
func (r *SQLiteDownloadRepository) PutDownload(ctx context.Context, download *domain.Download) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(download).Error
	if err != nil {
		return fmt.Errorf("failed to put download: %w", err)
	}
	return nil
}

// GetDownload returns the client's download or nil
func (r *SQLiteDownloadRepository) GetDownload(ctx context.Context, clientID, mediaID string) (*domain.Download, error) {
	var download domain.Download
	err := r.db.WithContext(ctx).
		Where("media_id = ? AND client_id = ?", mediaID, clientID).
		First(&download).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get download: %w", err)
	}
	return &download, nil
}

// UpdateDownload rewrites an existing download
func (r *SQLiteDownloadRepository) UpdateDownload(ctx context.Context, download *domain.Download) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Download{}).
		Where("media_id = ?", download.MediaID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up download: %w", err)
	}
	if count == 0 {
		return domain.ErrDownloadNotFound
	}

	if err := r.db.WithContext(ctx).Save(download).Error; err != nil {
		return fmt.Errorf("failed to update download: %w", err)
	}
	return nil
}

// UpdateDownloadProgress writes status and progress only
func (r *SQLiteDownloadRepository) UpdateDownloadProgress(ctx context.Context, progress *domain.DownloadProgress) error {
	result := r.db.WithContext(ctx).Model(&domain.Download{}).
		Where("media_id = ? AND client_id = ?", progress.MediaID, progress.ClientID).
		Updates(map[string]interface{}{
			"status":   progress.Status,
			"progress": progress.Progress,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrDownloadNotFound
	}
	return nil
}

// GetDownloadIfExists finds the oldest download with the same url and format
func (r *SQLiteDownloadRepository) GetDownloadIfExists(ctx context.Context, url string, format domain.MediaFormat) (*domain.Download, error) {
	var download domain.Download
	err := r.db.WithContext(ctx).
		Where("url = ? AND media_format = ?", url, format).
		Order("when_submitted ASC").
		First(&download).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up download: %w", err)
	}
	return &download, nil
}

// DeleteDownload removes the record
func (r *SQLiteDownloadRepository) DeleteDownload(ctx context.Context, download *domain.Download) error {
	return r.db.WithContext(ctx).Delete(&domain.Download{}, "media_id = ?", download.MediaID).Error
}

// ClearDownloads removes every record
func (r *SQLiteDownloadRepository) ClearDownloads(ctx context.Context) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.Download{}).Error
}

// Close closes the database connection
func (r *SQLiteDownloadRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
