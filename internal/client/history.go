package client

import (
	"sync"
	"time"

	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/frame"
)

// HistoryEntry is one frame received from the server.
type HistoryEntry struct {
	ReceivedAt time.Time
	Flags      frame.Flags
	Sequence   uint32
	Body       []byte
}

// History keeps the most recent received frames, evicting the oldest at the limit.
type History struct {
	mu    sync.Mutex
	buf   []HistoryEntry
	start int
	n     int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{buf: make([]HistoryEntry, limit)}
}

func (h *History) Add(at time.Time, msg protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := HistoryEntry{
		ReceivedAt: at,
		Flags:      msg.Flags,
		Sequence:   msg.Sequence,
		Body:       msg.Body,
	}
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = entry
		h.n++
		return
	}
	h.buf[h.start] = entry
	h.start = (h.start + 1) % len(h.buf)
}

// Entries returns a copy, oldest first.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.start, h.n = 0, 0
}
