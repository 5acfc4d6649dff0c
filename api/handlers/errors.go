package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/ytdl-go/internal/domain"
	"go.uber.org/zap"
)

const (
	codeValidation  = "validation-error"
	genericExternal = "Remote server encountered problem, please try again..."
)

// ansiEscape matches terminal escape sequences that extractor tools embed in
// their error messages
var ansiEscape = regexp.MustCompile(`(?:\x1B[@-_]|[\x80-\x9F])[0-?]*[ -/]*[@-~]`)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// SanitizeDetail strips terminal escape sequences and control characters
// from a message. Tabs and line breaks become spaces.
func SanitizeDetail(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n':
			return ' '
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, ansiEscape.ReplaceAllString(s, ""))
}

// errorStatus maps an error onto its HTTP status and body
func errorStatus(err error) (int, ErrorResponse) {
	var extErr *domain.ExternalServiceError

	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, ErrorResponse{Detail: SanitizeDetail(err.Error()), Code: codeValidation}
	case errors.Is(err, domain.ErrDownloadNotFound):
		return http.StatusNotFound, ErrorResponse{Detail: "Download not found"}
	case errors.Is(err, domain.ErrFileNotDownloadedYet):
		return http.StatusNotFound, ErrorResponse{Detail: "File not downloaded yet"}
	case errors.Is(err, domain.ErrStoredFileNotFound):
		return http.StatusNotFound, ErrorResponse{Detail: "Downloaded file is not found"}
	case errors.Is(err, domain.ErrNotDownloadedYet):
		return http.StatusBadRequest, ErrorResponse{Detail: "Media file is not downloaded yet"}
	case errors.As(err, &extErr):
		detail := genericExternal
		if extErr.Code == domain.CodeDownloaderError && extErr.Err != nil {
			detail = SanitizeDetail(extErr.Err.Error())
		}
		return http.StatusInternalServerError, ErrorResponse{Detail: detail, Code: string(extErr.Code)}
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Detail: genericExternal,
			Code:   string(domain.CodeInternalError),
		}
	}
}

// writeError replies with the mapped error and logs server side failures
func writeError(c *gin.Context, log *zap.Logger, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		log.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("code", body.Code),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}
