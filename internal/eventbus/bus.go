package eventbus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"property-analysis/internal/domain"
	"property-analysis/internal/telemetry"
)

// Bus fans progress events out to every open viewer connection for an
// owner. It is an injected registry with explicit lifecycle, never a
// package-level singleton, so tests can run isolated instances.
//
// Delivery is best-effort and non-blocking: a viewer whose buffer is
// full loses that event, nobody else does.
type Bus struct {
	logger     *slog.Logger
	bufferSize int

	mu    sync.RWMutex
	conns map[string]map[string]chan domain.ProgressEvent // owner -> conn id -> channel
}

// New creates a Bus whose subscriber channels buffer bufferSize events.
func New(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Bus{
		logger:     logger,
		bufferSize: bufferSize,
		conns:      make(map[string]map[string]chan domain.ProgressEvent),
	}
}

// Subscribe opens a push channel for the owner and returns its
// connection id and receive channel. The channel is closed by
// Unsubscribe.
func (b *Bus) Subscribe(ownerID string) (string, <-chan domain.ProgressEvent) {
	connID := uuid.New().String()
	ch := make(chan domain.ProgressEvent, b.bufferSize)

	b.mu.Lock()
	if b.conns[ownerID] == nil {
		b.conns[ownerID] = make(map[string]chan domain.ProgressEvent)
	}
	b.conns[ownerID][connID] = ch
	b.mu.Unlock()

	telemetry.ViewerConnections.Inc()

	b.logger.Debug("Viewer connection opened",
		slog.String("owner_id", ownerID),
		slog.String("connection_id", connID),
	)

	return connID, ch
}

// Unsubscribe closes and removes a connection. Unknown ids are ignored
// so disconnect paths can call it unconditionally.
func (b *Bus) Unsubscribe(ownerID, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	owner, ok := b.conns[ownerID]
	if !ok {
		return
	}
	ch, ok := owner[connID]
	if !ok {
		return
	}

	delete(owner, connID)
	if len(owner) == 0 {
		delete(b.conns, ownerID)
	}
	close(ch)

	telemetry.ViewerConnections.Dec()

	b.logger.Debug("Viewer connection closed",
		slog.String("owner_id", ownerID),
		slog.String("connection_id", connID),
	)
}

// Publish delivers the event to every open connection for the event's
// owner. A full subscriber buffer drops the event for that subscriber
// only; the send never blocks, so publishing from a process read loop
// cannot deadlock against a slow client socket.
func (b *Bus) Publish(event domain.ProgressEvent) {
	// Sends stay under the read lock: they never block, and holding it
	// keeps Unsubscribe from closing a channel mid-publish.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.conns[event.UserID] {
		select {
		case ch <- event:
			telemetry.EventsPublished.Inc()
		default:
			telemetry.EventsDropped.Inc()
			b.logger.Warn("Dropped event on slow viewer connection",
				slog.String("owner_id", event.UserID),
				slog.String("job_id", event.JobID),
				slog.String("kind", string(event.Kind)),
			)
		}
	}
}

// ConnectionCount reports open connections for an owner.
func (b *Bus) ConnectionCount(ownerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns[ownerID])
}
