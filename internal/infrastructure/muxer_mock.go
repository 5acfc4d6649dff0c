package infrastructure

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/yourusername/ytdl-go/internal/domain"
)

// ConcatMuxer joins its inputs byte for byte. It stands in for ffmpeg when
// the transcoder is configured as mock.
type ConcatMuxer struct{}

// NewConcatMuxer creates a mock muxer
func NewConcatMuxer() *ConcatMuxer {
	return &ConcatMuxer{}
}

// Mux writes the concatenation of inputs to output, replacing it
func (m *ConcatMuxer) Mux(ctx context.Context, inputs []string, output string, _ domain.MediaFormat) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input streams to mux")
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer out.Close()

	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendFile(out, input); err != nil {
			return err
		}
	}
	return nil
}

func appendFile(dst io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	if _, err := io.Copy(dst, in); err != nil {
		return fmt.Errorf("failed to copy input: %w", err)
	}
	return nil
}
