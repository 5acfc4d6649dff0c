package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/ytdl-go/internal/domain"
)

// MockExtractor serves fixed metadata and writes small placeholder streams.
// It is used for local development and end-to-end tests.
type MockExtractor struct {
	// Chunks is how many chunk callbacks each stream download emits
	Chunks int
	// ChunkDelay pauses between chunks to make progress observable
	ChunkDelay time.Duration
}

// NewMockExtractor creates a mock extractor with three chunks per stream
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{Chunks: 3}
}

// Name identifies the extractor in logs
func (e *MockExtractor) Name() string {
	return "mock"
}

// GetVideoInfo returns the same metadata for every url
func (e *MockExtractor) GetVideoInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &domain.VideoInfo{
		URL:          url,
		Title:        "Example",
		ThumbnailURL: "https://img.youtube.com/vi/example/0.jpg",
		Duration:     100000,
		MediaFormats: domain.MediaFormats(),
		VideoStreams: []domain.VideoStream{
			{ID: "134", Mimetype: "video/mp4", Resolution: "720p"},
		},
		AudioStreams: []domain.AudioStream{
			{ID: "251", Mimetype: "audio/webm", Bitrate: "128kbps"},
		},
	}, nil
}

// DownloadStream writes a placeholder file whose content names the stream
func (e *MockExtractor) DownloadStream(ctx context.Context, url, streamID, destDir, prefix string, onChunk domain.ChunkCallback) (string, error) {
	info, err := e.GetVideoInfo(ctx, url)
	if err != nil {
		return "", err
	}

	var ext string
	if s, ok := info.FindVideoStream(streamID); ok {
		ext = extensionForMime(s.Mimetype)
	} else if s, ok := info.FindAudioStream(streamID); ok {
		ext = extensionForMime(s.Mimetype)
	} else {
		return "", fmt.Errorf("%w: %s", domain.ErrStreamNotFound, streamID)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	path := filepath.Join(destDir, prefix+"."+ext)

	content := fmt.Sprintf("stream:%s;", streamID)
	chunks := e.Chunks
	if chunks < 1 {
		chunks = 1
	}
	total := int64(len(content) * chunks)
	if err := os.WriteFile(path, []byte(strings.Repeat(content, chunks)), 0644); err != nil {
		return path, fmt.Errorf("failed to write stream file: %w", err)
	}

	for i := 1; i <= chunks; i++ {
		if e.ChunkDelay > 0 {
			select {
			case <-time.After(e.ChunkDelay):
			case <-ctx.Done():
				return path, ctx.Err()
			}
		}
		if onChunk != nil {
			written := int64(len(content) * i)
			onChunk(written, total-written)
		}
	}
	return path, nil
}
