package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation wraps every rejection of client supplied params
	ErrValidation        = errors.New("validation error")
	ErrNoStreamSelected  = fmt.Errorf("%w: video or audio stream must be selected", ErrValidation)
	ErrDomainNotAllowed  = fmt.Errorf("%w: url domain is not allowed", ErrValidation)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported media format", ErrValidation)

	ErrDownloadNotFound     = errors.New("download not found")
	ErrFileNotDownloadedYet = errors.New("file not downloaded yet")
	ErrStoredFileNotFound   = errors.New("downloaded file is not found")
	ErrNotDownloadedYet     = errors.New("media file is not downloaded yet")
	ErrStreamNotFound       = errors.New("stream not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// ErrorCode classifies failures of external collaborators
type ErrorCode string

const (
	CodeDownloaderError ErrorCode = "downloader-error"
	CodeNetworkError    ErrorCode = "external-service-network-error"
	CodeTimeoutError    ErrorCode = "external-service-timeout-error"
	CodeInternalError   ErrorCode = "internal-server-error"
)

// ExternalServiceError is returned when the extractor, muxer or storage fails
type ExternalServiceError struct {
	Code ErrorCode
	Err  error
}

// NewExternalServiceError wraps err with a classification code
func NewExternalServiceError(code ErrorCode, err error) *ExternalServiceError {
	return &ExternalServiceError{Code: code, Err: err}
}

func (e *ExternalServiceError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
