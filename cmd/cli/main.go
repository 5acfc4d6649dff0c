package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/yourusername/ytdl-go/internal/domain"
)

var (
	serverURL   string
	clientID    string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:           "ytdl",
		Short:         "YTDL CLI - download and convert YouTube videos",
		Long:          `A command-line interface for the ytdl server: preview videos, submit downloads, follow progress and fetch converted files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "uid", envOr("YTDL_UID", "cli"), "Client id the downloads belong to")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start a local server if not running")

	submitCmd.Flags().String("video", "", "Video stream id")
	submitCmd.Flags().String("audio", "", "Audio stream id")
	submitCmd.Flags().StringP("format", "f", string(domain.FormatMP4), "Output format (mp4, mp3, wav)")
	submitCmd.Flags().BoolP("wait", "w", false, "Follow progress until the download finishes")
	fetchCmd.Flags().StringP("output", "o", "", "Output file or directory")

	rootCmd.AddCommand(previewCmd, submitCmd, listCmd, watchCmd, fetchCmd, deleteCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// client returns an API client, starting a local server first when needed
func client(ctx context.Context) *apiClient {
	c := newAPIClient(serverURL, clientID)
	if !noAutoStart {
		if err := ensureServerRunning(ctx, c); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	return c
}

var previewCmd = &cobra.Command{
	Use:   "preview [url]",
	Short: "Show title and available streams of a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := client(cmd.Context()).Preview(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Title:    %s\n", info.Title)
		fmt.Printf("Duration: %s\n", formatDuration(info.Duration))
		fmt.Printf("Formats:  %v\n\n", info.MediaFormats)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tID\tMIMETYPE\tQUALITY")
		for _, s := range info.VideoStreams {
			fmt.Fprintf(w, "video\t%s\t%s\t%s\n", s.ID, s.Mimetype, s.Resolution)
		}
		for _, s := range info.AudioStreams {
			fmt.Fprintf(w, "audio\t%s\t%s\t%s\n", s.ID, s.Mimetype, s.Bitrate)
		}
		return w.Flush()
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [url]",
	Short: "Submit a download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		video, _ := cmd.Flags().GetString("video")
		audio, _ := cmd.Flags().GetString("audio")
		format, _ := cmd.Flags().GetString("format")
		wait, _ := cmd.Flags().GetBool("wait")

		c := client(cmd.Context())
		downloads, err := c.Submit(cmd.Context(), domain.DownloadParams{
			URL:           args[0],
			VideoStreamID: video,
			AudioStreamID: audio,
			MediaFormat:   domain.MediaFormat(format),
		})
		if err != nil {
			return err
		}

		// Downloads are ordered by submission time
		created := downloads[len(downloads)-1]
		fmt.Printf("Download submitted!\n")
		fmt.Printf("Media ID: %s\n", created.MediaID)
		fmt.Printf("Title:    %s\n", created.Title)
		fmt.Printf("Status:   %s\n", created.Status)

		if !wait {
			return nil
		}
		return follow(cmd.Context(), c, created.MediaID)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		downloads, err := client(cmd.Context()).List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MEDIA ID\tTITLE\tFORMAT\tSTATUS\tPROGRESS\tSUBMITTED")
		for _, d := range downloads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.MediaID,
				truncate(d.Title, 40),
				d.MediaFormat,
				d.Status,
				formatProgress(d.Progress),
				d.WhenSubmitted.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [media_id]",
	Short: "Follow progress events",
	Long:  "Follow progress events of every download, or of one download until it settles.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client(cmd.Context())
		if len(args) == 1 {
			return follow(cmd.Context(), c, args[0])
		}
		return c.Watch(cmd.Context(), func(p domain.DownloadProgress) bool {
			fmt.Printf("%s  %-11s %s\n", p.MediaID, p.Status, formatProgress(p.Progress))
			return true
		})
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [media_id]",
	Short: "Fetch a converted file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		resp, err := client(cmd.Context()).Fetch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		name := attachmentName(resp.Header.Get("Content-Disposition"), args[0])
		path := resolveOutput(output, name)

		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer file.Close()

		bar := progressbar.DefaultBytes(resp.ContentLength, name)
		if _, err := io.Copy(io.MultiWriter(file, bar), resp.Body); err != nil {
			os.Remove(path)
			return fmt.Errorf("failed to save file: %w", err)
		}

		fmt.Printf("\nSaved to %s\n", path)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [media_id]",
	Short: "Delete a converted file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client(cmd.Context()).Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Download %s %s\n", args[0], status)
		return nil
	},
}

// follow renders one download's progress until it finishes or fails
func follow(ctx context.Context, c *apiClient, mediaID string) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(mediaID[:min(8, len(mediaID))]),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish())

	var final domain.DownloadStatus
	err := c.Watch(ctx, func(p domain.DownloadProgress) bool {
		if p.MediaID != mediaID {
			return true
		}
		bar.Describe(string(p.Status))
		if p.Progress >= 0 {
			_ = bar.Set(p.Progress)
		}
		switch p.Status {
		case domain.StatusFinished, domain.StatusFailed:
			final = p.Status
			return false
		}
		return true
	})
	if err != nil {
		return err
	}

	_ = bar.Finish()
	if final == domain.StatusFailed {
		return errors.New("download failed, see `ytdl list` for details")
	}
	fmt.Printf("Download %s finished\n", mediaID)
	return nil
}

func resolveOutput(output, name string) string {
	if output == "" {
		return name
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, name)
	}
	return output
}

func formatProgress(p int) string {
	if p < 0 {
		return "..."
	}
	return fmt.Sprintf("%d%%", p)
}

func formatDuration(ms int64) string {
	s := ms / 1000
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
