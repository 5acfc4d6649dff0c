package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yourusername/ytdl-go/internal/domain"
)

// Hash fields stored next to the JSON document so progress ticks only touch
// two small fields
const (
	fieldDocument    = "document"
	fieldClientID    = "client_id"
	fieldURL         = "url"
	fieldMediaFormat = "media_format"
	fieldStatus      = "status"
	fieldProgress    = "progress"
	fieldFilePath    = "file_path"
)

// RedisDownloadRepository implements DownloadRepository on redis hashes with
// sorted-set indexes per client and per url/format fingerprint
type RedisDownloadRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisDownloadRepository connects to redis and verifies the connection
func NewRedisDownloadRepository(ctx context.Context, config domain.RedisConfig) (*RedisDownloadRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "ytdl"
	}
	return &RedisDownloadRepository{client: client, prefix: prefix}, nil
}

func (r *RedisDownloadRepository) downloadKey(mediaID string) string {
	return fmt.Sprintf("%s:download:%s", r.prefix, mediaID)
}

func (r *RedisDownloadRepository) clientKey(clientID string) string {
	return fmt.Sprintf("%s:client:%s", r.prefix, clientID)
}

func (r *RedisDownloadRepository) fingerprintKey(url string, format domain.MediaFormat) string {
	return fmt.Sprintf("%s:fingerprint:%s", r.prefix, domain.Fingerprint(url, format))
}

// FetchDownloads returns the client's non-deleted downloads
func (r *RedisDownloadRepository) FetchDownloads(ctx context.Context, clientID string) ([]*domain.Download, error) {
	ids, err := r.client.ZRange(ctx, r.clientKey(clientID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch client index: %w", err)
	}

	downloads, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]*domain.Download, 0, len(downloads))
	for _, d := range downloads {
		if d.ClientID == clientID && d.Status != domain.StatusDeleted {
			result = append(result, d)
		}
	}
	sortBySubmission(result)
	return result, nil
}

// PutDownload inserts or replaces a download
func (r *RedisDownloadRepository) PutDownload(ctx context.Context, download *domain.Download) error {
	doc, err := json.Marshal(download)
	if err != nil {
		return fmt.Errorf("failed to encode download: %w", err)
	}

	score := float64(download.WhenSubmitted.UnixMicro())
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.downloadKey(download.MediaID), map[string]interface{}{
			fieldDocument:    doc,
			fieldClientID:    download.ClientID,
			fieldURL:         download.URL,
			fieldMediaFormat: string(download.MediaFormat),
			fieldStatus:      string(download.Status),
			fieldProgress:    download.Progress,
			fieldFilePath:    download.FilePath,
		})
		pipe.ZAdd(ctx, r.clientKey(download.ClientID), redis.Z{Score: score, Member: download.MediaID})
		pipe.ZAdd(ctx, r.fingerprintKey(download.URL, download.MediaFormat), redis.Z{Score: score, Member: download.MediaID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put download: %w", err)
	}
	return nil
}

// GetDownload returns the client's download or nil
func (r *RedisDownloadRepository) GetDownload(ctx context.Context, clientID, mediaID string) (*domain.Download, error) {
	d, err := r.load(ctx, mediaID)
	if err != nil || d == nil {
		return nil, err
	}
	if d.ClientID != clientID {
		return nil, nil
	}
	return d, nil
}

// UpdateDownload rewrites the document. Like the document store it models,
// a missing record is created.
func (r *RedisDownloadRepository) UpdateDownload(ctx context.Context, download *domain.Download) error {
	return r.PutDownload(ctx, download)
}

// UpdateDownloadProgress writes status and progress only
func (r *RedisDownloadRepository) UpdateDownloadProgress(ctx context.Context, progress *domain.DownloadProgress) error {
	key := r.downloadKey(progress.MediaID)
	owner, err := r.client.HGet(ctx, key, fieldClientID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrDownloadNotFound
		}
		return fmt.Errorf("failed to look up download: %w", err)
	}
	if owner != progress.ClientID {
		return domain.ErrDownloadNotFound
	}

	err = r.client.HSet(ctx, key,
		fieldStatus, string(progress.Status),
		fieldProgress, progress.Progress,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// GetDownloadIfExists finds the oldest download with the same url and format
func (r *RedisDownloadRepository) GetDownloadIfExists(ctx context.Context, url string, format domain.MediaFormat) (*domain.Download, error) {
	ids, err := r.client.ZRange(ctx, r.fingerprintKey(url, format), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fingerprint index: %w", err)
	}
	for _, id := range ids {
		d, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	return nil, nil
}

// DeleteDownload removes the record and its index entries
func (r *RedisDownloadRepository) DeleteDownload(ctx context.Context, download *domain.Download) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.downloadKey(download.MediaID))
		pipe.ZRem(ctx, r.clientKey(download.ClientID), download.MediaID)
		pipe.ZRem(ctx, r.fingerprintKey(download.URL, download.MediaFormat), download.MediaID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}
	return nil
}

// ClearDownloads removes every key under the repository prefix
func (r *RedisDownloadRepository) ClearDownloads(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to clear downloads: %w", err)
		}
	}
	return iter.Err()
}

// Close closes the redis client
func (r *RedisDownloadRepository) Close() error {
	return r.client.Close()
}

func (r *RedisDownloadRepository) load(ctx context.Context, mediaID string) (*domain.Download, error) {
	fields, err := r.client.HGetAll(ctx, r.downloadKey(mediaID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get download: %w", err)
	}
	return decodeDownload(fields)
}

func (r *RedisDownloadRepository) loadMany(ctx context.Context, ids []string) ([]*domain.Download, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.downloadKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get downloads: %w", err)
	}

	downloads := make([]*domain.Download, 0, len(ids))
	for _, cmd := range cmds {
		d, err := decodeDownload(cmd.Val())
		if err != nil {
			return nil, err
		}
		if d != nil {
			downloads = append(downloads, d)
		}
	}
	return downloads, nil
}

// decodeDownload rebuilds a download from its hash. Status, progress and the
// storage key live outside the JSON document.
func decodeDownload(fields map[string]string) (*domain.Download, error) {
	doc, ok := fields[fieldDocument]
	if !ok {
		return nil, nil
	}

	var d domain.Download
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, fmt.Errorf("failed to decode download: %w", err)
	}

	if status, ok := fields[fieldStatus]; ok {
		d.Status = domain.DownloadStatus(status)
	}
	if raw, ok := fields[fieldProgress]; ok {
		if p, err := strconv.Atoi(raw); err == nil {
			d.Progress = p
		}
	}
	d.FilePath = fields[fieldFilePath]
	return &d, nil
}
