package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/ytdl-go/api/handlers"
	"github.com/yourusername/ytdl-go/internal/app"
	"github.com/yourusername/ytdl-go/internal/domain"
	"github.com/yourusername/ytdl-go/internal/infrastructure"
)

const (
	videoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	clientA  = "client-a"
)

type testEnv struct {
	router   *gin.Engine
	qm       *app.QueueManager
	repo     *infrastructure.MemoryDownloadRepository
	notifier *infrastructure.NotificationQueue
	mediaDir string
}

func newTestEnv(t *testing.T, mutate func(*domain.APIConfig)) *testEnv {
	t.Helper()
	root := t.TempDir()

	config := domain.DefaultConfig()
	config.API.SubmitRate = 0
	config.Download.MediaDir = filepath.Join(root, "media")
	config.Download.TempDir = filepath.Join(root, "tmp")
	if mutate != nil {
		mutate(&config.API)
	}

	log := zap.NewNop()
	repo := infrastructure.NewMemoryDownloadRepository()
	storage, err := infrastructure.NewLocalStorage(config.Download.MediaDir)
	require.NoError(t, err)
	notifier := infrastructure.NewNotificationQueue(log)
	extractor := infrastructure.NewMockExtractor()

	dm := app.NewDownloadManager(repo, extractor, infrastructure.NewConcatMuxer(), storage, notifier, &config.Download, log, nil)
	qm := app.NewQueueManager(repo, extractor, dm, notifier, &config.Download, nil, log)
	t.Cleanup(qm.Wait)

	router := SetupRouter(&config.API, Services{
		QueueManager:    qm,
		DownloadManager: dm,
		Notifier:        notifier,
		Logger:          log,
	})

	return &testEnv{router: router, qm: qm, repo: repo, notifier: notifier, mediaDir: config.Download.MediaDir}
}

func (e *testEnv) do(t *testing.T, method, target, clientID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if clientID != "" {
		req.AddCookie(&http.Cookie{Name: "uid", Value: clientID})
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) list(t *testing.T, clientID string) []*domain.Download {
	t.Helper()
	w := e.do(t, http.MethodGet, "/api/downloads", clientID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.DownloadsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Downloads
}

func (e *testEnv) submit(t *testing.T, clientID string) *domain.Download {
	t.Helper()
	w := e.do(t, http.MethodPut, "/api/download", clientID, mp4Params())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp handlers.DownloadsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Downloads)
	return resp.Downloads[len(resp.Downloads)-1]
}

func mp4Params() domain.DownloadParams {
	return domain.DownloadParams{
		URL:           videoURL,
		VideoStreamID: "134",
		AudioStreamID: "251",
		MediaFormat:   domain.FormatMP4,
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAPI_Version(t *testing.T) {
	env := newTestEnv(t, func(c *domain.APIConfig) { c.Version = "2.3.4" })

	w := env.do(t, http.MethodGet, "/api/version", clientA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"apiVersion":"2.3.4"}`, w.Body.String())
}

func TestAPI_Preview(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/preview?url="+url.QueryEscape(videoURL), clientA, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info domain.VideoInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "Example", info.Title)
	assert.Equal(t, int64(100000), info.Duration)
	assert.Equal(t, []domain.MediaFormat{"mp4", "mp3", "wav"}, info.MediaFormats)
	assert.Empty(t, env.list(t, clientA))

	w = env.do(t, http.MethodGet, "/api/preview?url=https://vimeo.com/1", clientA, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAPI_DownloadLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	created := env.submit(t, clientA)
	assert.Equal(t, domain.StatusStarted, created.Status)
	assert.Equal(t, "Example", created.Title)
	assert.Len(t, created.MediaID, 32)
	env.qm.Wait()

	list := env.list(t, clientA)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusFinished, list[0].Status)
	assert.Equal(t, 100, list[0].Progress)

	w := env.do(t, http.MethodGet, "/api/download?media_id="+created.MediaID, clientA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="Example.mp4"`)
	body := w.Body.String()
	assert.Contains(t, body, "stream:251;")
	assert.Contains(t, body, "stream:134;")

	// Retrieval is repeatable
	w = env.do(t, http.MethodGet, "/api/download?media_id="+created.MediaID, clientA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String())
	assert.Equal(t, domain.StatusDownloaded, env.list(t, clientA)[0].Status)

	w = env.do(t, http.MethodDelete, "/api/delete?media_id="+created.MediaID, clientA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mediaId":"`+created.MediaID+`","status":"deleted"}`, w.Body.String())
	assert.Empty(t, env.list(t, clientA))

	w = env.do(t, http.MethodGet, "/api/download?media_id="+created.MediaID, clientA, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "File not downloaded yet", decodeError(t, w).Detail)
}

func TestAPI_ValidationRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	params := mp4Params()
	params.VideoStreamID = ""
	params.AudioStreamID = ""
	w := env.do(t, http.MethodPut, "/api/download", clientA, params)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation-error", decodeError(t, w).Code)

	params = mp4Params()
	params.URL = "https://example.com/video"
	w = env.do(t, http.MethodPut, "/api/download", clientA, params)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/download", strings.NewReader("{not json"))
	req.AddCookie(&http.Cookie{Name: "uid", Value: clientA})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Empty(t, env.list(t, clientA))
}

func TestAPI_NotFoundAndPreconditionDetails(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/download?media_id=missing", clientA, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Download not found", decodeError(t, w).Detail)

	w = env.do(t, http.MethodDelete, "/api/delete?media_id=missing", clientA, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Download not found", decodeError(t, w).Detail)

	pending := domain.NewDownload(clientA, mp4Params(), nil)
	require.NoError(t, env.repo.PutDownload(context.Background(), pending))

	w = env.do(t, http.MethodGet, "/api/download?media_id="+pending.MediaID, clientA, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "File not downloaded yet", decodeError(t, w).Detail)

	w = env.do(t, http.MethodDelete, "/api/delete?media_id="+pending.MediaID, clientA, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Media file is not downloaded yet", decodeError(t, w).Detail)
}

func TestAPI_StoredFileMissing(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.submit(t, clientA)
	env.qm.Wait()

	stored, err := env.repo.GetDownload(context.Background(), clientA, created.MediaID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(env.mediaDir, stored.FilePath)))

	w := env.do(t, http.MethodGet, "/api/download?media_id="+created.MediaID, clientA, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Downloaded file is not found", decodeError(t, w).Detail)
}

func TestAPI_ClientsAreIsolated(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.submit(t, clientA)
	env.qm.Wait()

	assert.Empty(t, env.list(t, "client-b"))
	w := env.do(t, http.MethodGet, "/api/download?media_id="+created.MediaID, "client-b", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_IssuesClientCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/downloads", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "uid", cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)

	// Known clients are not issued a new id
	w = env.do(t, http.MethodGet, "/api/downloads", clientA, nil)
	assert.Empty(t, w.Result().Cookies())
}

func TestAPI_ClientIDFromQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	env.submit(t, clientA)
	env.qm.Wait()

	w := env.do(t, http.MethodGet, "/api/downloads?uid="+clientA, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.DownloadsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Downloads, 1)
}

func TestAPI_SubmitRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *domain.APIConfig) {
		c.SubmitRate = 0.001
		c.SubmitBurst = 1
	})

	env.submit(t, clientA)
	w := env.do(t, http.MethodPut, "/api/download", clientA, mp4Params())
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate-limited", decodeError(t, w).Code)

	// A fresh client id from the same address does not reset the budget
	w = env.do(t, http.MethodPut, "/api/download", "client-b", mp4Params())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	data, err := json.Marshal(mp4Params())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/download", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:1234"
	req.AddCookie(&http.Cookie{Name: "uid", Value: "client-b"})
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code, "limits are per caller address")
}

func TestAPI_CookielessSubmissionsAreLimited(t *testing.T) {
	env := newTestEnv(t, func(c *domain.APIConfig) {
		c.SubmitRate = 0.001
		c.SubmitBurst = 1
	})

	var codes []int
	for i := 0; i < 5; i++ {
		codes = append(codes, env.do(t, http.MethodPut, "/api/download", "", mp4Params()).Code)
	}
	assert.Equal(t, []int{201, 429, 429, 429, 429}, codes)
}

func TestAPI_ProgressStream(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.router)
	t.Cleanup(server.Close)
	t.Cleanup(env.notifier.Close)

	created := env.submit(t, clientA)
	env.qm.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/download/stream", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "uid", Value: clientA})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var statuses []domain.DownloadStatus
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var p domain.DownloadProgress
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &p))
		assert.Equal(t, created.MediaID, p.MediaID)
		statuses = append(statuses, p.Status)
		if p.Status == domain.StatusFinished {
			break
		}
	}

	require.NotEmpty(t, statuses)
	assert.Equal(t, domain.StatusStarted, statuses[0])
	assert.Equal(t, domain.StatusDownloading, statuses[1])
	assert.Equal(t, domain.StatusConverting, statuses[len(statuses)-2])
	assert.Equal(t, domain.StatusFinished, statuses[len(statuses)-1])
}

func TestAPI_ProgressWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.router)
	t.Cleanup(server.Close)
	t.Cleanup(env.notifier.Close)

	created := env.submit(t, clientA)
	env.qm.Wait()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/download/ws"
	header := http.Header{}
	header.Set("Cookie", "uid="+clientA)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var last domain.DownloadProgress
	for last.Status != domain.StatusFinished {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &last))
		assert.Equal(t, created.MediaID, last.MediaID)
	}
	assert.Equal(t, 100, last.Progress)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.Jobs.Running)
	assert.Equal(t, 0, health.Jobs.Active)
	assert.Equal(t, domain.DefaultConfig().Download.ConcurrentLimit, health.Jobs.Limit)
	assert.Equal(t, "open", health.Notifications)

	w = env.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var ready handlers.ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.Equal(t, []string{"download queue not running"}, ready.Reasons)

	require.NoError(t, env.qm.Start(context.Background()))
	defer env.qm.Stop()
	w = env.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())

	// Shutdown closes notifications before the queue stops
	env.notifier.Close()
	w = env.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.Equal(t, []string{"progress notifications closed"}, ready.Reasons)

	w = env.do(t, http.MethodGet, "/health", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.True(t, health.Jobs.Running)
	assert.Equal(t, "closed", health.Notifications)
}
