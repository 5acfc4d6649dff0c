package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/ytdl-go/internal/domain"
)

func TestAddDownload_ValidationRejectsWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name   string
		params domain.DownloadParams
	}{
		{"foreign domain", domain.DownloadParams{URL: "https://vimeo.com/1", AudioStreamID: "251", MediaFormat: domain.FormatMP3}},
		{"no stream", domain.DownloadParams{URL: testURL, MediaFormat: domain.FormatMP4}},
		{"unknown format", domain.DownloadParams{URL: testURL, AudioStreamID: "251", MediaFormat: "flac"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)

			_, err := h.qm.AddDownload(context.Background(), "client-a", tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)

			list, err := h.qm.ListDownloads(context.Background(), "client-a")
			require.NoError(t, err)
			assert.Empty(t, list)
			assert.Equal(t, int32(0), atomic.LoadInt32(&h.extractor.infoCalls))
			assert.Equal(t, 0, h.notifier.Len("client-a"))
		})
	}
}

func TestAddDownload_ReusesMetadataByFingerprint(t *testing.T) {
	h := newHarness(t, 2)

	first := h.submit(t, "client-a", mp4Params())
	second := h.submit(t, "client-b", mp4Params())
	h.qm.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&h.extractor.infoCalls))
	assert.NotEqual(t, first.MediaID, second.MediaID)
	assert.Equal(t, first.Title, second.Title)
	assert.Equal(t, first.VideoStreams, second.VideoStreams)
	assert.Equal(t, "client-b", second.ClientID)

	// Bytes are fetched again for the reused metadata
	assert.Len(t, h.muxer.inputs, 2)
}

func TestAddDownload_DifferentFormatAsksExtractor(t *testing.T) {
	h := newHarness(t, 2)

	h.submit(t, "client-a", mp4Params())
	params := mp4Params()
	params.MediaFormat = domain.FormatMP3
	h.submit(t, "client-a", params)
	h.qm.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&h.extractor.infoCalls))
}

func TestAddDownload_SameClientCreatesNewRecord(t *testing.T) {
	h := newHarness(t, 2)

	a := h.submit(t, "client-a", mp4Params())
	b := h.submit(t, "client-a", mp4Params())
	h.qm.Wait()

	list, err := h.qm.ListDownloads(context.Background(), "client-a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.NotEqual(t, a.MediaID, b.MediaID)
	assert.ElementsMatch(t, []string{a.MediaID, b.MediaID}, []string{list[0].MediaID, list[1].MediaID})
}

func TestAddDownload_ExtractorErrorCreatesNothing(t *testing.T) {
	h := newHarness(t, 1)
	h.extractor.infoErr = domain.NewExternalServiceError(domain.CodeTimeoutError, errors.New("deadline"))

	_, err := h.qm.AddDownload(context.Background(), "client-a", mp4Params())
	var ext *domain.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, domain.CodeTimeoutError, ext.Code)

	list, err := h.qm.ListDownloads(context.Background(), "client-a")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAddDownload_ConcurrentSubmissions(t *testing.T) {
	h := newHarness(t, 3)
	clients := []string{"c1", "c2", "c3", "c4"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.qm.AddDownload(context.Background(), clients[i%len(clients)], mp4Params())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	h.qm.Wait()

	seen := make(map[string]bool)
	for _, c := range clients {
		list, err := h.qm.ListDownloads(context.Background(), c)
		require.NoError(t, err)
		require.Len(t, list, 5, c)
		for _, d := range list {
			assert.Equal(t, domain.StatusFinished, d.Status)
			assert.False(t, seen[d.MediaID], "media ids are unique")
			seen[d.MediaID] = true
		}
	}
	assert.Empty(t, scratchFiles(t, h.config.TempDir))
}

func TestGetDownload(t *testing.T) {
	h := newHarness(t, 1)
	d := h.submit(t, "client-a", mp4Params())
	h.qm.Wait()

	got, err := h.qm.GetDownload(context.Background(), "client-a", d.MediaID)
	require.NoError(t, err)
	assert.Equal(t, d.MediaID, got.MediaID)

	_, err = h.qm.GetDownload(context.Background(), "client-b", d.MediaID)
	assert.ErrorIs(t, err, domain.ErrDownloadNotFound)
}

func TestPreview(t *testing.T) {
	h := newHarness(t, 1)

	info, err := h.qm.Preview(context.Background(), testURL)
	require.NoError(t, err)
	assert.Equal(t, "Test Video", info.Title)
	assert.Len(t, info.MediaFormats, 3)

	list, err := h.qm.ListDownloads(context.Background(), "client-a")
	require.NoError(t, err)
	assert.Empty(t, list, "preview creates no record")

	_, err = h.qm.Preview(context.Background(), "https://example.com/watch?v=1")
	assert.ErrorIs(t, err, domain.ErrDomainNotAllowed)
}

func TestCleanScratch(t *testing.T) {
	h := newHarness(t, 1)
	require.NoError(t, os.MkdirAll(h.config.TempDir, 0755))

	now := time.Now()
	stale := filepath.Join(h.config.TempDir, "251_stale.webm")
	fresh := filepath.Join(h.config.TempDir, "251_fresh.webm")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0644))
	old := now.Add(-2 * h.config.ScratchMaxAge)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed, err := h.qm.CleanScratch(now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestCleanScratch_MissingDirectory(t *testing.T) {
	h := newHarness(t, 1)
	h.config.TempDir = filepath.Join(t.TempDir(), "absent")

	removed, err := h.qm.CleanScratch(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestQueueManager_StartStop(t *testing.T) {
	h := newHarness(t, 1)
	assert.False(t, h.qm.IsRunning())

	require.NoError(t, h.qm.Start(context.Background()))
	assert.True(t, h.qm.IsRunning())
	assert.Error(t, h.qm.Start(context.Background()))

	require.NoError(t, h.qm.Stop())
	assert.False(t, h.qm.IsRunning())
	assert.Error(t, h.qm.Stop())
}
