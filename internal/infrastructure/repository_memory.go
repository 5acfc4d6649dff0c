package infrastructure

import (
	"context"
	"sort"
	"sync"

	"github.com/yourusername/ytdl-go/internal/domain"
)

// MemoryDownloadRepository implements DownloadRepository in process memory
type MemoryDownloadRepository struct {
	mu        sync.RWMutex
	downloads map[string]*domain.Download // keyed by media id
}

// NewMemoryDownloadRepository creates an empty in-memory repository
func NewMemoryDownloadRepository() *MemoryDownloadRepository {
	return &MemoryDownloadRepository{downloads: make(map[string]*domain.Download)}
}

// FetchDownloads returns the client's non-deleted downloads
func (r *MemoryDownloadRepository) FetchDownloads(_ context.Context, clientID string) ([]*domain.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Download, 0)
	for _, d := range r.downloads {
		if d.ClientID == clientID && d.Status != domain.StatusDeleted {
			result = append(result, d.Clone())
		}
	}
	sortBySubmission(result)
	return result, nil
}

// PutDownload inserts or replaces a download
func (r *MemoryDownloadRepository) PutDownload(_ context.Context, download *domain.Download) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.downloads[download.MediaID] = download.Clone()
	return nil
}

// GetDownload returns the client's download or nil
func (r *MemoryDownloadRepository) GetDownload(_ context.Context, clientID, mediaID string) (*domain.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.downloads[mediaID]
	if !ok || d.ClientID != clientID {
		return nil, nil
	}
	return d.Clone(), nil
}

// UpdateDownload rewrites an existing download
func (r *MemoryDownloadRepository) UpdateDownload(_ context.Context, download *domain.Download) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.downloads[download.MediaID]; !ok {
		return domain.ErrDownloadNotFound
	}
	r.downloads[download.MediaID] = download.Clone()
	return nil
}

// UpdateDownloadProgress writes status and progress only
func (r *MemoryDownloadRepository) UpdateDownloadProgress(_ context.Context, progress *domain.DownloadProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.downloads[progress.MediaID]
	if !ok || d.ClientID != progress.ClientID {
		return domain.ErrDownloadNotFound
	}
	d.Status = progress.Status
	d.Progress = progress.Progress
	return nil
}

// GetDownloadIfExists finds the oldest download with the same url and format
func (r *MemoryDownloadRepository) GetDownloadIfExists(_ context.Context, url string, format domain.MediaFormat) (*domain.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.Download
	for _, d := range r.downloads {
		if d.URL != url || d.MediaFormat != format {
			continue
		}
		if found == nil || d.WhenSubmitted.Before(found.WhenSubmitted) {
			found = d
		}
	}
	if found == nil {
		return nil, nil
	}
	return found.Clone(), nil
}

// DeleteDownload removes the record
func (r *MemoryDownloadRepository) DeleteDownload(_ context.Context, download *domain.Download) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.downloads, download.MediaID)
	return nil
}

// ClearDownloads removes every record
func (r *MemoryDownloadRepository) ClearDownloads(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.downloads = make(map[string]*domain.Download)
	return nil
}

// Close is a no-op
func (r *MemoryDownloadRepository) Close() error {
	return nil
}

func sortBySubmission(downloads []*domain.Download) {
	sort.SliceStable(downloads, func(i, j int) bool {
		return downloads[i].WhenSubmitted.Before(downloads[j].WhenSubmitted)
	})
}
