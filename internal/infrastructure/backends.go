package infrastructure

import (
	"context"
	"fmt"

	"github.com/yourusername/ytdl-go/internal/domain"
	"github.com/yourusername/ytdl-go/pkg/logger"
	"go.uber.org/zap"
)

// NewDownloadRepository opens the record store selected by datasource.type
func NewDownloadRepository(ctx context.Context, config domain.DatasourceConfig) (domain.DownloadRepository, error) {
	switch config.Type {
	case "", "memory":
		return NewMemoryDownloadRepository(), nil
	case "sqlite":
		return NewSQLiteDownloadRepository(config.SQLitePath)
	case "redis":
		return NewRedisDownloadRepository(ctx, config.Redis)
	default:
		return nil, fmt.Errorf("unknown datasource type: %s", config.Type)
	}
}

// NewStorage opens the storage adapter selected by storage.type
func NewStorage(ctx context.Context, config *domain.Config, log *zap.Logger) (domain.Storage, error) {
	switch config.Storage.Type {
	case "", "local":
		return NewLocalStorage(config.Download.MediaDir)
	case "s3":
		return NewS3Storage(ctx, config.Storage.S3, log)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", config.Storage.Type)
	}
}

// NewExtractor creates the extractor selected by extractor.type
func NewExtractor(config *domain.Config, eventLogger *logger.MultiLogger, log *zap.Logger) (domain.Extractor, error) {
	switch config.Extractor.Type {
	case "", "youtube":
		return NewYouTubeExtractor(config.Download.ChunkSize, log), nil
	case "ytdlp":
		return NewYTDLPExtractor(&config.Extractor, config.Download.LogsDir, eventLogger), nil
	case "mock":
		return NewMockExtractor(), nil
	default:
		return nil, fmt.Errorf("unknown extractor type: %s", config.Extractor.Type)
	}
}

// NewMuxer creates the transcoder selected by transcoder.type
func NewMuxer(config domain.TranscoderConfig, log *zap.Logger) (domain.Muxer, error) {
	switch config.Type {
	case "", "ffmpeg":
		m := NewFFmpegMuxer(config.FFmpegBinary, log)
		if !m.Available() {
			log.Warn("ffmpeg binary not found, conversions will fail",
				zap.String("binary", config.FFmpegBinary))
		}
		return m, nil
	case "mock":
		return NewConcatMuxer(), nil
	default:
		return nil, fmt.Errorf("unknown transcoder type: %s", config.Type)
	}
}
