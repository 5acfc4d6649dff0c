package domain

import (
	"context"
	"io"
)

// ChunkCallback is invoked after every chunk an extractor writes to disk
type ChunkCallback func(written, remaining int64)

// Extractor fetches metadata and raw stream bytes from the video host
type Extractor interface {
	// GetVideoInfo returns title, thumbnail, duration and the selectable streams
	GetVideoInfo(ctx context.Context, url string) (*VideoInfo, error)

	// DownloadStream writes one stream into destDir using prefix as the file
	// name stem and returns the written path
	DownloadStream(ctx context.Context, url, streamID, destDir, prefix string, onChunk ChunkCallback) (string, error)

	// Name identifies the extractor in logs
	Name() string
}

// Muxer combines downloaded streams into the requested container
type Muxer interface {
	// Mux writes output from inputs, replacing output when it exists
	Mux(ctx context.Context, inputs []string, output string, format MediaFormat) error
}

// Storage keeps converted files until the client deletes them
type Storage interface {
	// SaveDownloadFromFile moves a finished file into storage and returns its key
	SaveDownloadFromFile(ctx context.Context, download *Download, path string) (string, error)

	// GetDownload opens a stored file. Returns ErrStoredFileNotFound when missing.
	GetDownload(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// RemoveDownload deletes a stored file. Missing files are not an error.
	RemoveDownload(ctx context.Context, key string) error
}
