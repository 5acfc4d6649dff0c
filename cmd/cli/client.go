package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourusername/ytdl-go/internal/domain"
)

// apiClient talks to the ytdl HTTP API on behalf of one client id
type apiClient struct {
	baseURL  string
	clientID string
	http     *http.Client
}

func newAPIClient(baseURL, clientID string) *apiClient {
	return &apiClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     &http.Client{},
	}
}

// apiError is a non-2xx reply decoded from the server's error body
type apiError struct {
	Status int
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Detail, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Detail, e.Status)
}

type downloadsResponse struct {
	Downloads []*domain.Download `json:"downloads"`
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientID != "" {
		req.AddCookie(&http.Cookie{Name: "uid", Value: c.clientID})
	}
	return req, nil
}

// send performs the request and returns the open response on success
func (c *apiClient) send(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &apiError{Status: resp.StatusCode}
	body, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(body, apiErr) != nil || apiErr.Detail == "" {
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	return nil, apiErr
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil, nil) == nil
}

func (c *apiClient) Preview(ctx context.Context, videoURL string) (*domain.VideoInfo, error) {
	var info domain.VideoInfo
	err := c.doJSON(ctx, http.MethodGet, "/api/preview", url.Values{"url": {videoURL}}, nil, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *apiClient) Submit(ctx context.Context, params domain.DownloadParams) ([]*domain.Download, error) {
	var resp downloadsResponse
	if err := c.doJSON(ctx, http.MethodPut, "/api/download", nil, params, &resp); err != nil {
		return nil, err
	}
	return resp.Downloads, nil
}

func (c *apiClient) List(ctx context.Context) ([]*domain.Download, error) {
	var resp downloadsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/downloads", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Downloads, nil
}

func (c *apiClient) Delete(ctx context.Context, mediaID string) (domain.DownloadStatus, error) {
	var resp struct {
		MediaID string                `json:"mediaId"`
		Status  domain.DownloadStatus `json:"status"`
	}
	err := c.doJSON(ctx, http.MethodDelete, "/api/delete", url.Values{"media_id": {mediaID}}, nil, &resp)
	return resp.Status, err
}

// Fetch opens the converted file. The caller closes the returned response body.
func (c *apiClient) Fetch(ctx context.Context, mediaID string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/download", url.Values{"media_id": {mediaID}}, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

// Watch reads progress events until ctx ends or fn returns false
func (c *apiClient) Watch(ctx context.Context, fn func(domain.DownloadProgress) bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/download/stream", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var progress domain.DownloadProgress
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &progress); err != nil {
			return fmt.Errorf("malformed progress event: %w", err)
		}
		if !fn(progress) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// attachmentName extracts the filename from a Content-Disposition header
func attachmentName(header, fallback string) string {
	const marker = `filename="`
	i := strings.Index(header, marker)
	if i < 0 {
		return fallback
	}
	rest := header[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j <= 0 {
		return fallback
	}
	return rest[:j]
}
