package http

import (
	"sync"

	"foreman/internal/agent/ports"
	"foreman/internal/logging"
)

// Broadcaster fans orchestration events out to connected clients. It
// implements ports.EventListener so it can sit behind the coordinator and the
// executor; a slow client loses events rather than stalling the request path.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[chan ports.Event]struct{}
	logger  logging.Logger
}

// NewBroadcaster builds an empty Broadcaster.
func NewBroadcaster(logger logging.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan ports.Event]struct{}),
		logger:  logging.OrNop(logger),
	}
}

// Register adds a client and returns its event channel.
func (b *Broadcaster) Register() chan ports.Event {
	ch := make(chan ports.Event, 100)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unregister removes a client and closes its channel.
func (b *Broadcaster) Unregister(ch chan ports.Event) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// OnEvent delivers an event to every client. Full buffers drop the event.
func (b *Broadcaster) OnEvent(event ports.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropping %s event for slow client", event.EventType())
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

var _ ports.EventListener = (*Broadcaster)(nil)
