package domain

import "context"

// DownloadRepository defines the interface for download persistence.
// Implementations store copies, so callers may mutate returned records freely.
type DownloadRepository interface {
	// FetchDownloads returns the client's non-deleted downloads ordered by submission time
	FetchDownloads(ctx context.Context, clientID string) ([]*Download, error)

	// PutDownload inserts or replaces a download
	PutDownload(ctx context.Context, download *Download) error

	// GetDownload returns nil when the client owns no download with this id
	GetDownload(ctx context.Context, clientID, mediaID string) (*Download, error)

	// UpdateDownload rewrites an existing download
	UpdateDownload(ctx context.Context, download *Download) error

	// UpdateDownloadProgress writes only status and progress
	UpdateDownloadProgress(ctx context.Context, progress *DownloadProgress) error

	// GetDownloadIfExists finds the oldest download of any client with the
	// same url and format, or nil
	GetDownloadIfExists(ctx context.Context, url string, format MediaFormat) (*Download, error)

	// DeleteDownload removes the record entirely
	DeleteDownload(ctx context.Context, download *Download) error

	// ClearDownloads removes every record
	ClearDownloads(ctx context.Context) error

	// Close releases the backend connection
	Close() error
}
