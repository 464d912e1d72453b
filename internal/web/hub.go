package web

import (
	"sync"

	"github.com/google/uuid"
)

// clientBuffer is the per-client queue depth. Slow clients lose messages
// past this point instead of stalling publishers.
const clientBuffer = 64

// hub fans payloads out to subscribed clients, each identified by a UUID.
type hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[uuid.UUID]chan []byte)}
}

// subscribe registers a client. The returned cleanup is safe to call more
// than once.
func (h *hub) subscribe() (uuid.UUID, <-chan []byte, func()) {
	id := uuid.New()
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, unsub
}

// publish sends payload to every client without blocking and reports how
// many clients were skipped because their queue was full.
func (h *hub) publish(payload []byte) (dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- payload:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
