package infrastructure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/ytdl-go/internal/domain"
	"github.com/yourusername/ytdl-go/pkg/logger"
	"go.uber.org/zap"
)

var ytdlpProgressPattern = regexp.MustCompile(`^\[download\]\s+([\d.]+)%`)

// YTDLPExtractor implements Extractor by running the yt-dlp binary.
// Raw process output is appended to download-YYYYMMDD.log in logsDir.
type YTDLPExtractor struct {
	config      *domain.ExtractorConfig
	logsDir     string
	eventLogger *logger.MultiLogger
}

// NewYTDLPExtractor creates a yt-dlp backed extractor
func NewYTDLPExtractor(config *domain.ExtractorConfig, logsDir string, eventLogger *logger.MultiLogger) *YTDLPExtractor {
	return &YTDLPExtractor{
		config:      config,
		logsDir:     logsDir,
		eventLogger: eventLogger,
	}
}

// Name identifies the extractor in logs
func (e *YTDLPExtractor) Name() string {
	return "ytdlp"
}

func (e *YTDLPExtractor) baseArgs() []string {
	args := []string{"--no-playlist", "--no-warnings"}
	if e.config.CookieFile != "" && fileExists(e.config.CookieFile) {
		args = append(args, "--cookies", e.config.CookieFile)
	}
	return args
}

// GetVideoInfo runs yt-dlp -J and converts its JSON dump
func (e *YTDLPExtractor) GetVideoInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	args := append(e.baseArgs(), "-J", url)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.config.YTDLPBinary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyYTDLPError(ctx, err, stderr.String())
	}
	return parseYTDLPInfo(url, stdout.Bytes())
}

// DownloadStream runs yt-dlp for a single format id
func (e *YTDLPExtractor) DownloadStream(ctx context.Context, url, streamID, destDir, prefix string, onChunk domain.ChunkCallback) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	args := append(e.baseArgs(),
		"-f", streamID,
		"--newline",
		"--no-part",
		"-o", filepath.Join(destDir, prefix+".%(ext)s"),
		url,
	)

	downloadLog, err := e.openLogFile()
	if err != nil {
		return "", fmt.Errorf("failed to open log file: %w", err)
	}
	defer downloadLog.Close()

	writeLogHeader(downloadLog, prefix, FormatCommandLine(e.config.YTDLPBinary, args...))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.config.YTDLPBinary, args...)
	cmd.Stderr = io.MultiWriter(downloadLog, &stderr)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to attach to yt-dlp output: %w", err)
	}

	if err := cmd.Start(); err != nil {
		writeLogFooter(downloadLog, false, err.Error())
		return "", classifyYTDLPError(ctx, err, "")
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(downloadLog, line)
		if pct, ok := parseYTDLPProgress(line); ok && onChunk != nil {
			onChunk(int64(pct), int64(100-pct))
		}
	}

	if err := cmd.Wait(); err != nil {
		writeLogFooter(downloadLog, false, fmt.Sprintf("yt-dlp failed: %v", err))
		if e.eventLogger != nil {
			e.eventLogger.LogAppError("yt-dlp failed",
				zap.String("url", url),
				zap.String("stream_id", streamID),
				zap.Error(err))
		}
		// Partial .part files share the prefix; the caller sweeps them
		return "", classifyYTDLPError(ctx, err, stderr.String())
	}

	matches, _ := filepath.Glob(filepath.Join(destDir, prefix+".*"))
	if len(matches) == 0 {
		writeLogFooter(downloadLog, false, "no file written")
		return "", domain.NewExternalServiceError(domain.CodeDownloaderError,
			fmt.Errorf("yt-dlp wrote no file for stream %s", streamID))
	}

	writeLogFooter(downloadLog, true, fmt.Sprintf("Downloaded: %s", matches[0]))
	return matches[0], nil
}

// openLogFile opens the raw download log for today
func (e *YTDLPExtractor) openLogFile() (*os.File, error) {
	if err := os.MkdirAll(e.logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	path := filepath.Join(e.logsDir, "download-"+time.Now().Format("20060102")+".log")
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func writeLogHeader(w io.Writer, id, cmdLine string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(w, "\n=== [%s] Download: %s ===\n", timestamp, id)
	fmt.Fprintf(w, "$ %s\n", cmdLine)
}

func writeLogFooter(w io.Writer, success bool, message string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", timestamp, status, message)
	fmt.Fprint(w, "=== END ===\n\n")
}

func parseYTDLPProgress(line string) (int, bool) {
	m := ytdlpProgressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return int(pct), true
}

// ytdlpInfo is the subset of yt-dlp's JSON dump that we read
type ytdlpInfo struct {
	Title     string        `json:"title"`
	Thumbnail string        `json:"thumbnail"`
	Duration  float64       `json:"duration"`
	Formats   []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID string  `json:"format_id"`
	Ext      string  `json:"ext"`
	VCodec   string  `json:"vcodec"`
	ACodec   string  `json:"acodec"`
	Height   int     `json:"height"`
	ABR      float64 `json:"abr"`
	TBR      float64 `json:"tbr"`
	Filesize int64   `json:"filesize"`
}

func (f ytdlpFormat) hasVideo() bool { return f.VCodec != "" && f.VCodec != "none" }
func (f ytdlpFormat) hasAudio() bool { return f.ACodec != "" && f.ACodec != "none" }

// parseYTDLPInfo keeps video-only and audio-only formats, best first
func parseYTDLPInfo(url string, data []byte) (*domain.VideoInfo, error) {
	var raw ytdlpInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.NewExternalServiceError(domain.CodeDownloaderError,
			fmt.Errorf("failed to parse yt-dlp output: %w", err))
	}

	var video, audio []ytdlpFormat
	for _, f := range raw.Formats {
		switch {
		case f.hasVideo() && !f.hasAudio():
			video = append(video, f)
		case f.hasAudio() && !f.hasVideo():
			audio = append(audio, f)
		}
	}
	sort.SliceStable(video, func(i, j int) bool {
		if video[i].Height != video[j].Height {
			return video[i].Height > video[j].Height
		}
		return video[i].TBR > video[j].TBR
	})
	sort.SliceStable(audio, func(i, j int) bool {
		return audio[i].ABR > audio[j].ABR
	})

	info := &domain.VideoInfo{
		URL:          url,
		Title:        raw.Title,
		ThumbnailURL: raw.Thumbnail,
		Duration:     int64(raw.Duration * 1000),
		MediaFormats: domain.MediaFormats(),
		VideoStreams: make([]domain.VideoStream, 0, len(video)),
		AudioStreams: make([]domain.AudioStream, 0, len(audio)),
	}
	for _, f := range video {
		info.VideoStreams = append(info.VideoStreams, domain.VideoStream{
			ID:         f.FormatID,
			Mimetype:   "video/" + f.Ext,
			Resolution: fmt.Sprintf("%dp", f.Height),
		})
	}
	for _, f := range audio {
		info.AudioStreams = append(info.AudioStreams, domain.AudioStream{
			ID:       f.FormatID,
			Mimetype: "audio/" + f.Ext,
			Bitrate:  fmt.Sprintf("%dkbps", int(f.ABR)),
		})
	}
	return info, nil
}

// classifyYTDLPError maps process failures onto domain errors
func classifyYTDLPError(ctx context.Context, err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	wrapped := fmt.Errorf("yt-dlp: %w: %s", err, lastLines(msg, 3))

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return domain.NewExternalServiceError(domain.CodeTimeoutError, wrapped)
	case strings.Contains(lower, "requested format is not available"):
		return fmt.Errorf("%w: %v", domain.ErrStreamNotFound, wrapped)
	case strings.Contains(lower, "timed out"):
		return domain.NewExternalServiceError(domain.CodeTimeoutError, wrapped)
	case strings.Contains(lower, "unable to download") || strings.Contains(lower, "connection"):
		return domain.NewExternalServiceError(domain.CodeNetworkError, wrapped)
	default:
		return domain.NewExternalServiceError(domain.CodeDownloaderError, wrapped)
	}
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
