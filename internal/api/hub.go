package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligustah/hoard/internal/task"
)

// Message is one item of the /events stream.
type Message struct {
	Type  string        `json:"type"` // "task" or "batch"
	Task  *task.Event   `json:"task,omitempty"`
	Batch *BatchMessage `json:"batch,omitempty"`
}

// BatchMessage reports a settled batch run.
type BatchMessage struct {
	BatchID string    `json:"batchId"`
	Error   string    `json:"error,omitempty"`
	Archive string    `json:"archive,omitempty"`
	At      time.Time `json:"at"`
}

// Hub fans task and batch events out to stream subscribers. Slow
// subscribers lose messages rather than block the fetchers.
type Hub struct {
	mu   sync.Mutex
	subs map[string]chan Message
	size int
}

// NewHub creates a Hub whose subscribers buffer up to size messages.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = 64
	}
	return &Hub{subs: make(map[string]chan Message), size: size}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel.
func (h *Hub) Subscribe() (string, <-chan Message, func()) {
	id := uuid.NewString()
	ch := make(chan Message, h.size)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// TaskChanged implements task.Observer.
func (h *Hub) TaskChanged(e task.Event) {
	h.broadcast(Message{Type: "task", Task: &e})
}

// BatchFinished implements task.BatchObserver.
func (h *Hub) BatchFinished(e task.BatchEvent) {
	m := &BatchMessage{BatchID: e.BatchID, Archive: e.Archive, At: e.At}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	h.broadcast(Message{Type: "batch", Batch: m})
}

func (h *Hub) broadcast(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- m:
		default:
		}
	}
}
