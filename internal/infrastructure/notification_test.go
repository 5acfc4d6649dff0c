package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/ytdl-go/internal/domain"
)

func progress(mediaID string, status domain.DownloadStatus, pct int) *domain.DownloadProgress {
	return &domain.DownloadProgress{ClientID: "c1", MediaID: mediaID, Status: status, Progress: pct}
}

func TestNotificationQueue_FIFO(t *testing.T) {
	q := NewNotificationQueue(nil)

	q.Put("c1", progress("m1", domain.StatusStarted, 0))
	q.Put("c1", progress("m1", domain.StatusDownloading, -1))
	q.Put("c1", progress("m1", domain.StatusFinished, 100))
	assert.Equal(t, 3, q.Len("c1"))

	ctx := context.Background()
	for _, want := range []domain.DownloadStatus{domain.StatusStarted, domain.StatusDownloading, domain.StatusFinished} {
		got, err := q.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
	assert.Equal(t, 0, q.Len("c1"))
}

func TestNotificationQueue_IsolatesClients(t *testing.T) {
	q := NewNotificationQueue(nil)
	q.Put("c1", progress("m1", domain.StatusStarted, 0))

	assert.Equal(t, 0, q.Len("c2"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Get(ctx, "c2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len("c1"))
}

func TestNotificationQueue_PutCopiesMessage(t *testing.T) {
	q := NewNotificationQueue(nil)
	p := progress("m1", domain.StatusDownloading, -1)
	q.Put("c1", p)
	p.Status = domain.StatusFinished

	got, err := q.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
}

func TestNotificationQueue_GetBlocksUntilPut(t *testing.T) {
	q := NewNotificationQueue(nil)
	received := make(chan *domain.DownloadProgress, 1)

	go func() {
		p, err := q.Get(context.Background(), "c1")
		if err == nil {
			received <- p
		}
	}()

	select {
	case <-received:
		t.Fatal("Get returned before any message was put")
	case <-time.After(20 * time.Millisecond):
	}

	q.Put("c1", progress("m1", domain.StatusStarted, 0))

	select {
	case p := <-received:
		assert.Equal(t, "m1", p.MediaID)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after put")
	}
}

func TestNotificationQueue_CancelReleasesWaiter(t *testing.T) {
	q := NewNotificationQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Get(ctx, "c1")
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Get did not observe cancellation")
	}

	// Messages put after the observer left stay queued for the next one
	q.Put("c1", progress("m1", domain.StatusStarted, 0))
	assert.Equal(t, 1, q.Len("c1"))
}

func TestNotificationQueue_Close(t *testing.T) {
	q := NewNotificationQueue(nil)
	done := make(chan error, 1)
	go func() {
		_, err := q.Get(context.Background(), "c1")
		done <- err
	}()

	q.Close()
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Get did not observe close")
	}
}

func TestNotificationQueue_ConcurrentProducers(t *testing.T) {
	q := NewNotificationQueue(nil)
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Put("c1", &domain.DownloadProgress{MediaID: string(rune('a' + i)), Progress: j})
			}
		}(i)
	}
	wg.Wait()

	last := make(map[string]int)
	ctx := context.Background()
	for i := 0; i < producers*perProducer; i++ {
		p, err := q.Get(ctx, "c1")
		require.NoError(t, err)
		if prev, ok := last[p.MediaID]; ok {
			assert.Greater(t, p.Progress, prev, "per-producer order must be preserved")
		}
		last[p.MediaID] = p.Progress
	}
	assert.Len(t, last, producers)
}
