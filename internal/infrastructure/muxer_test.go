package infrastructure

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/ytdl-go/internal/domain"
	"go.uber.org/zap"
)

func TestBuildFFmpegArgs_MP4MapsEveryInput(t *testing.T) {
	args := buildFFmpegArgs([]string{"a.webm", "v.mp4"}, "out.mp4", domain.FormatMP4)
	line := strings.Join(args, " ")

	assert.Contains(t, line, "-y")
	assert.Contains(t, line, "-i a.webm -i v.mp4")
	assert.Contains(t, line, "-map 0 -map 1")
	assert.Contains(t, line, "-c:v libx264")
	assert.Contains(t, line, "-c:a aac")
	assert.Contains(t, line, "-movflags +faststart")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestBuildFFmpegArgs_AudioFormatsDropVideo(t *testing.T) {
	mp3 := strings.Join(buildFFmpegArgs([]string{"a.webm", "v.mp4"}, "out.mp3", domain.FormatMP3), " ")
	assert.Contains(t, mp3, "-vn")
	assert.Contains(t, mp3, "libmp3lame")
	assert.NotContains(t, mp3, "-map")

	wav := strings.Join(buildFFmpegArgs([]string{"a.webm"}, "out.wav", domain.FormatWAV), " ")
	assert.Contains(t, wav, "-vn")
	assert.Contains(t, wav, "pcm_s16le")
}

func TestFFmpegMuxer_MissingBinary(t *testing.T) {
	m := NewFFmpegMuxer("/nonexistent/ffmpeg-binary", zap.NewNop())
	assert.False(t, m.Available())

	err := m.Mux(context.Background(), []string{"a"}, "b.mp4", domain.FormatMP4)
	require.Error(t, err)
	var extErr *domain.ExternalServiceError
	assert.ErrorAs(t, err, &extErr)
}

func TestFFmpegMuxer_NoInputs(t *testing.T) {
	m := NewFFmpegMuxer("", zap.NewNop())
	assert.Error(t, m.Mux(context.Background(), nil, "out.mp4", domain.FormatMP4))
}

func TestConcatMuxer(t *testing.T) {
	dir := t.TempDir()
	a := writeScratch(t, dir, "a", "audio;")
	v := writeScratch(t, dir, "v", "video;")
	out := filepath.Join(dir, "out.mp4")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0644))

	require.NoError(t, NewConcatMuxer().Mux(context.Background(), []string{a, v}, out, domain.FormatMP4))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "audio;video;", string(data))
}

func TestMockExtractor(t *testing.T) {
	ctx := context.Background()
	e := NewMockExtractor()

	info, err := e.GetVideoInfo(ctx, "https://youtu.be/x")
	require.NoError(t, err)
	assert.Equal(t, "Example", info.Title)
	require.Len(t, info.VideoStreams, 1)
	require.Len(t, info.AudioStreams, 1)

	var calls int
	var lastRemaining int64 = -1
	path, err := e.DownloadStream(ctx, "https://youtu.be/x", "251", t.TempDir(), "251_media", func(written, remaining int64) {
		calls++
		lastRemaining = remaining
	})
	require.NoError(t, err)
	assert.Equal(t, "251_media.webm", filepath.Base(path))
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(0), lastRemaining)
	assert.FileExists(t, path)

	_, err = e.DownloadStream(ctx, "https://youtu.be/x", "999", t.TempDir(), "p", nil)
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
}
