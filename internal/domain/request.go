package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// youtubeURLPattern accepts watch, short, embed and /v/ links on youtube domains
var youtubeURLPattern = regexp.MustCompile(
	`^((?:https?:)?//)?((?:www|m)\.)?(youtube\.com|youtu\.be)(/(?:[\w\-]+\?v=|embed/|v/)?)([\w\-]+)(\S+)?$`,
)

// IsAllowedURL reports whether the url points to a supported video host
func IsAllowedURL(url string) bool {
	return youtubeURLPattern.MatchString(strings.TrimSpace(url))
}

// VideoInfo is the metadata shown to the client before submitting a download
type VideoInfo struct {
	URL          string        `json:"url"`
	Title        string        `json:"title"`
	ThumbnailURL string        `json:"thumbnailUrl"`
	Duration     int64         `json:"duration"`
	Filesize     *int64        `json:"filesize,omitempty"`
	MediaFormats []MediaFormat `json:"mediaFormats"`
	AudioStreams []AudioStream `json:"audioStreams"`
	VideoStreams []VideoStream `json:"videoStreams"`
}

// FindVideoStream looks up a video stream by id
func (v *VideoInfo) FindVideoStream(id string) (VideoStream, bool) {
	for _, s := range v.VideoStreams {
		if s.ID == id {
			return s, true
		}
	}
	return VideoStream{}, false
}

// FindAudioStream looks up an audio stream by id
func (v *VideoInfo) FindAudioStream(id string) (AudioStream, bool) {
	for _, s := range v.AudioStreams {
		if s.ID == id {
			return s, true
		}
	}
	return AudioStream{}, false
}

// DownloadParams is what a client submits to start a download
type DownloadParams struct {
	URL           string      `json:"url"`
	VideoStreamID string      `json:"videoStreamId,omitempty"`
	AudioStreamID string      `json:"audioStreamId,omitempty"`
	MediaFormat   MediaFormat `json:"mediaFormat"`
}

// Validate checks the params before any download is created
func (p *DownloadParams) Validate() error {
	p.URL = strings.TrimSpace(p.URL)
	if p.URL == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	if !IsAllowedURL(p.URL) {
		return ErrDomainNotAllowed
	}
	if p.VideoStreamID == "" && p.AudioStreamID == "" {
		return ErrNoStreamSelected
	}
	if !p.MediaFormat.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, p.MediaFormat)
	}
	return nil
}

// Fingerprint identifies downloads whose metadata can be shared
func (p DownloadParams) Fingerprint() string {
	return Fingerprint(p.URL, p.MediaFormat)
}

// Fingerprint joins a url and format into a lookup key
func Fingerprint(url string, format MediaFormat) string {
	return fmt.Sprintf("%s|%s", url, format)
}
