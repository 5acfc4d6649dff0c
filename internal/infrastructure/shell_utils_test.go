package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteArg(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", "''"},
		{"plain flag", "-loglevel", "-loglevel"},
		{"plain path", "/tmp/scratch/134_abc.mp4", "/tmp/scratch/134_abc.mp4"},
		{"spaces", "/tmp/my media/out.mp4", "'/tmp/my media/out.mp4'"},
		{"single quote", "it's", `'it'"'"'s'`},
		{"double quote", `say "hi"`, `'say "hi"'`},
		{"dollar", "$HOME", "'$HOME'"},
		{"url query", "https://www.youtube.com/watch?v=abc&t=1", "'https://www.youtube.com/watch?v=abc&t=1'"},
		{"format selector", "bestvideo[height<=720]", "'bestvideo[height<=720]'"},
		{"percent template", "%(id)s.%(ext)s", "'%(id)s.%(ext)s'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteArg(tt.input))
		})
	}
}

func TestFormatCommandLine(t *testing.T) {
	got := FormatCommandLine("ffmpeg", "-y", "-i", "/tmp/a b.webm", "out.mp3")
	assert.Equal(t, "ffmpeg -y -i '/tmp/a b.webm' out.mp3", got)

	assert.Equal(t, "'/opt/my tools/yt-dlp'", FormatCommandLine("/opt/my tools/yt-dlp"))
}
