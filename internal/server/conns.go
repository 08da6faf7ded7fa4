package server

import (
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/danmuck/atrpc/internal/observability"
)

// ConnInfo is a snapshot of one tracked connection.
type ConnInfo struct {
	ID          uint64    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Alive       bool      `json:"alive"`
	Requests    uint64    `json:"requests"`
}

type connRecord struct {
	id          uint64
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time

	alive    atomic.Bool
	requests atomic.Uint64
}

func (r *connRecord) info() ConnInfo {
	return ConnInfo{
		ID:          r.id,
		RemoteAddr:  r.remoteAddr,
		ConnectedAt: r.connectedAt,
		Alive:       r.alive.Load(),
		Requests:    r.requests.Load(),
	}
}

// track records conn and reserves a handler slot. It returns nil once Stop has begun.
func (s *Server) track(conn net.Conn) *connRecord {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if !s.running.Load() {
		return nil
	}
	rec := &connRecord{
		id:          s.nextConnID.Add(1),
		conn:        conn,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
	}
	rec.alive.Store(true)
	s.conns[rec.id] = rec
	s.handlers.Add(1)
	observability.RecordConnectionOpened()
	return rec
}

func (s *Server) untrack(rec *connRecord) int {
	rec.alive.Store(false)
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if _, ok := s.conns[rec.id]; ok {
		delete(s.conns, rec.id)
		observability.RecordConnectionClosed()
	}
	return len(s.conns)
}

func (s *Server) closeAllConns() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for _, rec := range s.conns {
		rec.alive.Store(false)
		_ = rec.conn.Close()
	}
	return len(s.conns)
}

// Connections lists tracked connections ordered by id.
func (s *Server) Connections() []ConnInfo {
	s.connsMu.Lock()
	out := make([]ConnInfo, 0, len(s.conns))
	for _, rec := range s.conns {
		out = append(out, rec.info())
	}
	s.connsMu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// ConnectionCount is the number of live connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	n := 0
	for _, rec := range s.conns {
		if rec.alive.Load() {
			n++
		}
	}
	return n
}
