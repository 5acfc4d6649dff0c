package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DownloadStatus represents the lifecycle stage of a download
type DownloadStatus string

const (
	StatusStarted     DownloadStatus = "started"
	StatusDownloading DownloadStatus = "downloading"
	StatusConverting  DownloadStatus = "converting"
	StatusFinished    DownloadStatus = "finished"
	StatusDownloaded  DownloadStatus = "downloaded"
	StatusDeleted     DownloadStatus = "deleted"
	StatusFailed      DownloadStatus = "failed"
)

// ProgressIndeterminate is reported while the total amount of work is unknown
const ProgressIndeterminate = -1

// transitions lists the statuses reachable from each status
var transitions = map[DownloadStatus][]DownloadStatus{
	StatusStarted:     {StatusDownloading, StatusFailed},
	StatusDownloading: {StatusConverting, StatusFailed},
	StatusConverting:  {StatusFinished, StatusFailed},
	StatusFinished:    {StatusDownloaded, StatusDeleted},
	StatusDownloaded:  {StatusDeleted},
}

// MediaFormat is the container/codec the client asked for
type MediaFormat string

const (
	FormatMP4 MediaFormat = "mp4"
	FormatMP3 MediaFormat = "mp3"
	FormatWAV MediaFormat = "wav"
)

// MediaFormats returns every supported output format
func MediaFormats() []MediaFormat {
	return []MediaFormat{FormatMP4, FormatMP3, FormatWAV}
}

// IsAudio reports whether the format carries audio only
func (f MediaFormat) IsAudio() bool {
	return f == FormatMP3 || f == FormatWAV
}

// IsValid reports whether the format is supported
func (f MediaFormat) IsValid() bool {
	switch f {
	case FormatMP4, FormatMP3, FormatWAV:
		return true
	}
	return false
}

// VideoStream describes one video-only track offered by the source
type VideoStream struct {
	ID         string `json:"id"`
	Mimetype   string `json:"mimetype"`
	Resolution string `json:"resolution"`
}

// AudioStream describes one audio-only track offered by the source
type AudioStream struct {
	ID       string `json:"id"`
	Mimetype string `json:"mimetype"`
	Bitrate  string `json:"bitrate"`
}

// Download is one client's request to fetch and convert a single video
type Download struct {
	MediaID       string         `json:"mediaId" gorm:"primaryKey"`
	ClientID      string         `json:"clientId" gorm:"not null;index"`
	Title         string         `json:"title"`
	URL           string         `json:"url" gorm:"not null;index:idx_fingerprint"`
	ThumbnailURL  string         `json:"thumbnailUrl"`
	Duration      int64          `json:"duration"` // milliseconds
	Filesize      *int64         `json:"filesize,omitempty"`
	VideoStreams  []VideoStream  `json:"videoStreams" gorm:"serializer:json;type:text"`
	AudioStreams  []AudioStream  `json:"audioStreams" gorm:"serializer:json;type:text"`
	VideoStreamID string         `json:"videoStreamId,omitempty"`
	AudioStreamID string         `json:"audioStreamId,omitempty"`
	MediaFormat   MediaFormat    `json:"mediaFormat" gorm:"not null;index:idx_fingerprint"`
	Status        DownloadStatus `json:"status" gorm:"not null;index"`
	Progress      int            `json:"progress"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	FilePath      string         `json:"-"`

	WhenSubmitted        time.Time  `json:"whenSubmitted" gorm:"not null;index"`
	WhenStartedDownload  *time.Time `json:"whenStartedDownload,omitempty"`
	WhenDownloadFinished *time.Time `json:"whenDownloadFinished,omitempty"`
	WhenFileDownloaded   *time.Time `json:"whenFileDownloaded,omitempty"`
	WhenDeleted          *time.Time `json:"whenDeleted,omitempty"`
	WhenFailed           *time.Time `json:"whenFailed,omitempty"`
}

// NewMediaID generates a 32 character hex identifier
func NewMediaID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewDownload creates a started download for a client from validated params
// and the metadata returned by the extractor
func NewDownload(clientID string, params DownloadParams, info *VideoInfo) *Download {
	d := &Download{
		MediaID:       NewMediaID(),
		ClientID:      clientID,
		URL:           params.URL,
		VideoStreamID: params.VideoStreamID,
		AudioStreamID: params.AudioStreamID,
		MediaFormat:   params.MediaFormat,
		Status:        StatusStarted,
		Progress:      0,
		WhenSubmitted: time.Now(),
	}
	if info != nil {
		d.Title = info.Title
		d.ThumbnailURL = info.ThumbnailURL
		d.Duration = info.Duration
		d.Filesize = info.Filesize
		d.VideoStreams = append([]VideoStream(nil), info.VideoStreams...)
		d.AudioStreams = append([]AudioStream(nil), info.AudioStreams...)
	}
	return d
}

// NewDownloadFrom creates a started download that reuses the metadata of an
// existing download with the same url and format
func NewDownloadFrom(clientID string, params DownloadParams, existing *Download) *Download {
	return NewDownload(clientID, params, existing.VideoInfo())
}

// VideoInfo returns the metadata snapshot stored on the download
func (d *Download) VideoInfo() *VideoInfo {
	info := &VideoInfo{
		URL:          d.URL,
		Title:        d.Title,
		ThumbnailURL: d.ThumbnailURL,
		Duration:     d.Duration,
		MediaFormats: MediaFormats(),
		VideoStreams: append([]VideoStream(nil), d.VideoStreams...),
		AudioStreams: append([]AudioStream(nil), d.AudioStreams...),
	}
	if d.Filesize != nil {
		size := *d.Filesize
		info.Filesize = &size
	}
	return info
}

// CanTransition reports whether the download may move to the given status
func (d *Download) CanTransition(to DownloadStatus) bool {
	for _, s := range transitions[d.Status] {
		if s == to {
			return true
		}
	}
	return false
}

func (d *Download) transition(to DownloadStatus) error {
	if !d.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	d.Status = to
	return nil
}

// MarkDownloading marks the download as fetching stream bytes
func (d *Download) MarkDownloading() error {
	if err := d.transition(StatusDownloading); err != nil {
		return err
	}
	now := time.Now()
	d.WhenStartedDownload = &now
	d.Progress = ProgressIndeterminate
	return nil
}

// MarkConverting marks the download as being muxed/transcoded
func (d *Download) MarkConverting() error {
	if err := d.transition(StatusConverting); err != nil {
		return err
	}
	d.Progress = ProgressIndeterminate
	return nil
}

// MarkFinished records the storage key of the converted file
func (d *Download) MarkFinished(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("%w: empty file path", ErrInvalidTransition)
	}
	if err := d.transition(StatusFinished); err != nil {
		return err
	}
	now := time.Now()
	d.FilePath = filePath
	d.Progress = 100
	d.WhenDownloadFinished = &now
	return nil
}

// MarkFileDownloaded records that the client retrieved the file.
// Repeated retrievals keep the first timestamp.
func (d *Download) MarkFileDownloaded() error {
	if d.Status == StatusDownloaded {
		return nil
	}
	if err := d.transition(StatusDownloaded); err != nil {
		return err
	}
	now := time.Now()
	d.WhenFileDownloaded = &now
	return nil
}

// MarkDeleted soft-deletes the download and forgets its stored file
func (d *Download) MarkDeleted() error {
	if err := d.transition(StatusDeleted); err != nil {
		return err
	}
	now := time.Now()
	d.FilePath = ""
	d.WhenDeleted = &now
	return nil
}

// MarkFailed marks the download as failed
func (d *Download) MarkFailed(err error) error {
	if terr := d.transition(StatusFailed); terr != nil {
		return terr
	}
	now := time.Now()
	if err != nil {
		d.ErrorMessage = err.Error()
	}
	d.WhenFailed = &now
	return nil
}

// IsFileAvailable reports whether the converted file should exist in storage
func (d *Download) IsFileAvailable() bool {
	return d.Status == StatusFinished || d.Status == StatusDownloaded
}

// IsInProgress reports whether a job is still working on the download
func (d *Download) IsInProgress() bool {
	switch d.Status {
	case StatusStarted, StatusDownloading, StatusConverting:
		return true
	}
	return false
}

// Filename returns the name offered to clients when serving the file
func (d *Download) Filename() string {
	title := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/:*?"<>|`, r) || r < 0x20 {
			return -1
		}
		return r
	}, strings.TrimSpace(d.Title))
	if title == "" {
		title = d.MediaID
	}
	return fmt.Sprintf("%s.%s", title, d.MediaFormat)
}

// ProgressEvent returns the notification payload for the current state
func (d *Download) ProgressEvent() *DownloadProgress {
	return &DownloadProgress{
		ClientID: d.ClientID,
		MediaID:  d.MediaID,
		Status:   d.Status,
		Progress: d.Progress,
	}
}

// Clone returns a deep copy of the download
func (d *Download) Clone() *Download {
	c := *d
	c.VideoStreams = append([]VideoStream(nil), d.VideoStreams...)
	c.AudioStreams = append([]AudioStream(nil), d.AudioStreams...)
	c.Filesize = cloneInt64(d.Filesize)
	c.WhenStartedDownload = cloneTime(d.WhenStartedDownload)
	c.WhenDownloadFinished = cloneTime(d.WhenDownloadFinished)
	c.WhenFileDownloaded = cloneTime(d.WhenFileDownloaded)
	c.WhenDeleted = cloneTime(d.WhenDeleted)
	c.WhenFailed = cloneTime(d.WhenFailed)
	return &c
}

// DownloadProgress is an ephemeral status update pushed to a client
type DownloadProgress struct {
	ClientID string         `json:"clientId"`
	MediaID  string         `json:"mediaId"`
	Status   DownloadStatus `json:"status"`
	Progress int            `json:"progress"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
