package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/atrpc/internal/protocol"
)

// PendingCall tracks one request awaiting its response frame.
type PendingCall struct {
	Sequence uint32
	Func     string
	SentAt   time.Time
	Deadline time.Time

	done chan Reply
}

// Reply is the outcome of a pending call: a response frame, or Err when the
// frame for this call arrived but could not be accepted.
type Reply struct {
	Message protocol.Message
	Err     error
}

// Done delivers at most one reply.
func (p *PendingCall) Done() <-chan Reply {
	return p.done
}

// PendingCalls stores in-flight calls by sequence number.
type PendingCalls struct {
	mu    sync.Mutex
	items map[uint32]*PendingCall
}

func NewPendingCalls() *PendingCalls {
	return &PendingCalls{
		items: make(map[uint32]*PendingCall),
	}
}

// Add registers a call and returns its handle.
func (p *PendingCalls) Add(seq uint32, fn string, sentAt, deadline time.Time) *PendingCall {
	call := &PendingCall{
		Sequence: seq,
		Func:     fn,
		SentAt:   sentAt,
		Deadline: deadline,
		done:     make(chan Reply, 1),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[seq] = call
	return call
}

// Deliver routes msg to the call with the same sequence. When no call matches and
// exactly one call is pending, msg goes to that call and mismatched is true.
func (p *PendingCalls) Deliver(msg protocol.Message) (call *PendingCall, mismatched bool, ok bool) {
	return p.route(msg.Sequence, Reply{Message: msg})
}

// Fail routes err to the call for seq, with the same lenient matching as Deliver.
func (p *PendingCalls) Fail(seq uint32, err error) (call *PendingCall, mismatched bool, ok bool) {
	return p.route(seq, Reply{Message: protocol.Message{Sequence: seq}, Err: err})
}

func (p *PendingCalls) route(seq uint32, reply Reply) (call *PendingCall, mismatched bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok = p.items[seq]
	if !ok {
		if len(p.items) != 1 {
			return nil, false, false
		}
		for _, only := range p.items {
			call = only
		}
		mismatched = true
	}
	delete(p.items, call.Sequence)
	call.done <- reply
	return call, mismatched, true
}

func (p *PendingCalls) Remove(seq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, seq)
}

func (p *PendingCalls) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// List returns pending calls ordered by sequence.
func (p *PendingCalls) List() []PendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingCall, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, PendingCall{
			Sequence: item.Sequence,
			Func:     item.Func,
			SentAt:   item.SentAt,
			Deadline: item.Deadline,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out
}
