package infrastructure

import (
	"context"
	"errors"
	"sync"

	"github.com/yourusername/ytdl-go/internal/domain"
	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Get after the queue has been closed
var ErrQueueClosed = errors.New("notification queue closed")

// clientQueue is an unbounded FIFO for one client
type clientQueue struct {
	mu       sync.Mutex
	messages []*domain.DownloadProgress
	ready    chan struct{} // holds a token while messages is non-empty
}

func newClientQueue() *clientQueue {
	return &clientQueue{ready: make(chan struct{}, 1)}
}

func (q *clientQueue) push(p *domain.DownloadProgress) {
	q.mu.Lock()
	q.messages = append(q.messages, p)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *clientQueue) pop() (*domain.DownloadProgress, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil, false
	}
	p := q.messages[0]
	q.messages[0] = nil
	q.messages = q.messages[1:]
	if len(q.messages) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return p, true
}

func (q *clientQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// NotificationQueue routes download progress to the client that owns the download.
// Put never blocks; Get blocks until a message for that client is available.
type NotificationQueue struct {
	mu     sync.Mutex
	queues map[string]*clientQueue
	closed chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewNotificationQueue creates an empty queue registry
func NewNotificationQueue(logger *zap.Logger) *NotificationQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationQueue{
		queues: make(map[string]*clientQueue),
		closed: make(chan struct{}),
		logger: logger,
	}
}

func (n *NotificationQueue) queue(clientID string) *clientQueue {
	n.mu.Lock()
	defer n.mu.Unlock()

	q, ok := n.queues[clientID]
	if !ok {
		q = newClientQueue()
		n.queues[clientID] = q
	}
	return q
}

// Put appends a progress message to the client's queue
func (n *NotificationQueue) Put(clientID string, progress *domain.DownloadProgress) {
	if progress == nil {
		return
	}
	msg := *progress
	n.queue(clientID).push(&msg)

	n.logger.Debug("Progress queued",
		zap.String("client_id", clientID),
		zap.String("media_id", msg.MediaID),
		zap.String("status", string(msg.Status)),
		zap.Int("progress", msg.Progress))
}

// Get removes and returns the oldest message for the client. It returns
// ctx.Err() when the context ends first and ErrQueueClosed after Close.
func (n *NotificationQueue) Get(ctx context.Context, clientID string) (*domain.DownloadProgress, error) {
	q := n.queue(clientID)
	for {
		if p, ok := q.pop(); ok {
			return p, nil
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-n.closed:
			return nil, ErrQueueClosed
		}
	}
}

// Len returns the number of pending messages for the client
func (n *NotificationQueue) Len(clientID string) int {
	n.mu.Lock()
	q, ok := n.queues[clientID]
	n.mu.Unlock()
	if !ok {
		return 0
	}
	return q.len()
}

// Closed reports whether Close has been called
func (n *NotificationQueue) Closed() bool {
	select {
	case <-n.closed:
		return true
	default:
		return false
	}
}

// Close wakes every waiting consumer. Pending messages are dropped.
func (n *NotificationQueue) Close() {
	n.once.Do(func() {
		close(n.closed)
	})
}
