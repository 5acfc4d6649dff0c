package infrastructure

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/yourusername/ytdl-go/internal/domain"
	"go.uber.org/zap"
)

// FFmpegMuxer implements Muxer by running the ffmpeg binary
type FFmpegMuxer struct {
	binary string
	logger *zap.Logger
}

// NewFFmpegMuxer creates a muxer. An empty binary means "ffmpeg" from PATH.
func NewFFmpegMuxer(binary string, logger *zap.Logger) *FFmpegMuxer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegMuxer{binary: binary, logger: logger}
}

// Available reports whether the binary can be found
func (m *FFmpegMuxer) Available() bool {
	_, err := exec.LookPath(m.binary)
	return err == nil
}

// Mux converts inputs into output with codecs chosen by format
func (m *FFmpegMuxer) Mux(ctx context.Context, inputs []string, output string, format domain.MediaFormat) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input streams to mux")
	}

	args := buildFFmpegArgs(inputs, output, format)
	m.logger.Debug("Running ffmpeg", zap.String("command", FormatCommandLine(m.binary, args...)))

	cmd := exec.CommandContext(ctx, m.binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return domain.NewExternalServiceError(domain.CodeDownloaderError,
			fmt.Errorf("ffmpeg failed: %w: %s", err, lastLines(string(out), 5)))
	}
	return nil
}

// buildFFmpegArgs returns the argument list for converting inputs to format.
// Output is always overwritten.
func buildFFmpegArgs(inputs []string, output string, format domain.MediaFormat) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}

	switch format {
	case domain.FormatMP3:
		args = append(args, "-vn", "-c:a", "libmp3lame", "-b:a", "192k")
	case domain.FormatWAV:
		args = append(args, "-vn", "-c:a", "pcm_s16le")
	default:
		for i := range inputs {
			args = append(args, "-map", strconv.Itoa(i))
		}
		args = append(args,
			"-c:v", "libx264", "-preset", "veryfast",
			"-c:a", "aac",
			"-movflags", "+faststart",
		)
	}

	return append(args, output)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
