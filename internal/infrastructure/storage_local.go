package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/ytdl-go/internal/domain"
)

// storageKey names a converted file independently of where it is stored
func storageKey(download *domain.Download) string {
	return fmt.Sprintf("%s.%s", download.MediaID, download.MediaFormat)
}

// LocalStorage keeps converted files in a directory on the local filesystem
type LocalStorage struct {
	mediaDir string
}

// NewLocalStorage creates the media directory if needed
func NewLocalStorage(mediaDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &LocalStorage{mediaDir: mediaDir}, nil
}

// SaveDownloadFromFile moves path into the media directory
func (s *LocalStorage) SaveDownloadFromFile(_ context.Context, download *domain.Download, path string) (string, error) {
	key := storageKey(download)
	dest := filepath.Join(s.mediaDir, key)

	if err := os.Rename(path, dest); err != nil {
		// Scratch and media directories may live on different devices
		if err := copyFile(path, dest); err != nil {
			return "", fmt.Errorf("failed to store file: %w", err)
		}
		os.Remove(path)
	}
	return key, nil
}

// GetDownload opens a stored file
func (s *LocalStorage) GetDownload(_ context.Context, key string) (io.ReadCloser, int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, domain.ErrStoredFileNotFound
		}
		return nil, 0, fmt.Errorf("failed to open stored file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat stored file: %w", err)
	}
	return file, info.Size(), nil
}

// RemoveDownload deletes a stored file if it exists
func (s *LocalStorage) RemoveDownload(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stored file: %w", err)
	}
	return nil
}

// resolve maps a key to a path, refusing keys that escape the media directory
func (s *LocalStorage) resolve(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: invalid key %q", domain.ErrStoredFileNotFound, key)
	}
	return filepath.Join(s.mediaDir, key), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
