package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/yourusername/ytdl-go/internal/domain"
	"go.uber.org/zap"
)

const defaultChunkSize = 1024 * 1024

// YouTubeExtractor implements Extractor with the kkdai/youtube client
type YouTubeExtractor struct {
	client    *youtube.Client
	chunkSize int64
	logger    *zap.Logger
}

// NewYouTubeExtractor creates an extractor. chunkSize controls how often the
// chunk callback fires while a stream is written.
func NewYouTubeExtractor(chunkSize int64, logger *zap.Logger) *YouTubeExtractor {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &YouTubeExtractor{
		client: &youtube.Client{
			HTTPClient: &http.Client{Timeout: 30 * time.Minute},
		},
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Name identifies the extractor in logs
func (e *YouTubeExtractor) Name() string {
	return "youtube"
}

// GetVideoInfo fetches metadata and the adaptive streams of a video
func (e *YouTubeExtractor) GetVideoInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	video, err := e.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classifyYouTubeError("fetching video metadata", err)
	}
	return videoInfoFromYouTube(url, video), nil
}

// DownloadStream writes one adaptive stream to destDir/prefix.ext
func (e *YouTubeExtractor) DownloadStream(ctx context.Context, url, streamID, destDir, prefix string, onChunk domain.ChunkCallback) (string, error) {
	video, err := e.client.GetVideoContext(ctx, url)
	if err != nil {
		return "", classifyYouTubeError("fetching video metadata", err)
	}

	format := findFormat(video.Formats, streamID)
	if format == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrStreamNotFound, streamID)
	}

	stream, size, err := e.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", classifyYouTubeError("opening stream", err)
	}
	defer stream.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	path := filepath.Join(destDir, prefix+"."+extensionForMime(format.MimeType))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create stream file: %w", err)
	}
	defer file.Close()

	e.logger.Debug("Downloading stream",
		zap.String("url", url),
		zap.String("stream_id", streamID),
		zap.String("mimetype", format.MimeType),
		zap.Int64("size", size),
		zap.String("path", path))

	// The partial file is returned with the error so the caller can remove it
	if _, err := copyInChunks(ctx, file, stream, size, e.chunkSize, onChunk); err != nil {
		return path, classifyYouTubeError("reading stream", err)
	}
	return path, nil
}

// copyInChunks copies src to dst and reports after every chunk
func copyInChunks(ctx context.Context, dst io.Writer, src io.Reader, size, chunkSize int64, onChunk domain.ChunkCallback) (int64, error) {
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := io.CopyN(dst, src, chunkSize)
		written += n
		if n > 0 && onChunk != nil {
			remaining := size - written
			if remaining < 0 {
				remaining = 0
			}
			onChunk(written, remaining)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return written, nil
			}
			return written, err
		}
	}
}

func videoInfoFromYouTube(url string, video *youtube.Video) *domain.VideoInfo {
	info := &domain.VideoInfo{
		URL:          url,
		Title:        video.Title,
		Duration:     video.Duration.Milliseconds(),
		MediaFormats: domain.MediaFormats(),
		VideoStreams: make([]domain.VideoStream, 0),
		AudioStreams: make([]domain.AudioStream, 0),
	}
	if n := len(video.Thumbnails); n > 0 {
		// Thumbnails are ordered from smallest to largest
		info.ThumbnailURL = video.Thumbnails[n-1].URL
	}

	videoFormats, audioFormats := splitAdaptiveFormats(video.Formats)
	for _, f := range videoFormats {
		info.VideoStreams = append(info.VideoStreams, domain.VideoStream{
			ID:         strconv.Itoa(f.ItagNo),
			Mimetype:   baseMime(f.MimeType),
			Resolution: resolutionLabel(f),
		})
	}
	for _, f := range audioFormats {
		info.AudioStreams = append(info.AudioStreams, domain.AudioStream{
			ID:       strconv.Itoa(f.ItagNo),
			Mimetype: baseMime(f.MimeType),
			Bitrate:  fmt.Sprintf("%dkbps", audioBitrate(f)/1000),
		})
	}
	return info
}

// splitAdaptiveFormats keeps DASH style formats that carry only video or only
// audio, best quality first
func splitAdaptiveFormats(formats youtube.FormatList) (video, audio []youtube.Format) {
	seen := make(map[int]bool)
	for _, f := range formats {
		if seen[f.ItagNo] {
			continue
		}
		mime := baseMime(f.MimeType)
		switch {
		case strings.HasPrefix(mime, "video/") && f.AudioChannels == 0:
			video = append(video, f)
		case strings.HasPrefix(mime, "audio/"):
			audio = append(audio, f)
		default:
			continue
		}
		seen[f.ItagNo] = true
	}

	sort.SliceStable(video, func(i, j int) bool {
		if video[i].Height != video[j].Height {
			return video[i].Height > video[j].Height
		}
		return video[i].Bitrate > video[j].Bitrate
	})
	sort.SliceStable(audio, func(i, j int) bool {
		return audioBitrate(audio[i]) > audioBitrate(audio[j])
	})
	return video, audio
}

// findFormat resolves a stream id among the adaptive formats offered by
// GetVideoInfo. Progressive formats are never selectable.
func findFormat(formats youtube.FormatList, streamID string) *youtube.Format {
	itag, err := strconv.Atoi(streamID)
	if err != nil {
		return nil
	}
	video, audio := splitAdaptiveFormats(formats)
	for _, list := range [][]youtube.Format{video, audio} {
		for i := range list {
			if list[i].ItagNo == itag {
				return &list[i]
			}
		}
	}
	return nil
}

func audioBitrate(f youtube.Format) int {
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return f.Bitrate
}

func resolutionLabel(f youtube.Format) string {
	if f.QualityLabel != "" {
		return f.QualityLabel
	}
	return fmt.Sprintf("%dp", f.Height)
}

// baseMime drops codec parameters: `video/mp4; codecs="avc1"` -> video/mp4
func baseMime(mime string) string {
	return strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])
}

func extensionForMime(mime string) string {
	base := baseMime(mime)
	if i := strings.Index(base, "/"); i >= 0 && i+1 < len(base) {
		return base[i+1:]
	}
	return "bin"
}

// classifyYouTubeError maps client errors onto external service error codes
func classifyYouTubeError(action string, err error) error {
	if errors.Is(err, domain.ErrStreamNotFound) {
		return err
	}
	wrapped := fmt.Errorf("%s: %w", action, err)

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return domain.NewExternalServiceError(domain.CodeTimeoutError, wrapped)
	case errors.As(err, &netErr):
		return domain.NewExternalServiceError(domain.CodeNetworkError, wrapped)
	case errors.Is(err, youtube.ErrLoginRequired), errors.Is(err, youtube.ErrVideoPrivate):
		return domain.NewExternalServiceError(domain.CodeDownloaderError,
			fmt.Errorf("restricted video: %w", wrapped))
	default:
		return domain.NewExternalServiceError(domain.CodeDownloaderError, wrapped)
	}
}
