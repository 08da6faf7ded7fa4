package session

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/danmuck/atrpc/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestBackoffTracksAttempts(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second})
	if got := b.Next(); got != 10*time.Millisecond {
		t.Fatalf("first delay got=%v", got)
	}
	if got := b.Next(); got != 20*time.Millisecond {
		t.Fatalf("second delay got=%v", got)
	}
	if b.Attempt() != 2 {
		t.Fatalf("attempt got=%d", b.Attempt())
	}
	b.Reset()
	if got := b.Next(); got != 10*time.Millisecond {
		t.Fatalf("delay after reset got=%v", got)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ReadTimeout: time.Second}.WithDefaults()
	def := DefaultConfig()
	if cfg.DialTimeout != def.DialTimeout || cfg.CallTimeout != def.CallTimeout {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.ReadTimeout != time.Second || cfg.WriteTimeout != 0 {
		t.Fatalf("read/write timeouts must be preserved: %+v", cfg)
	}
	if !Deadline(time.Now(), 0).IsZero() {
		t.Fatalf("zero timeout must disable deadline")
	}
}

func TestPendingCallsDeliverBySequence(t *testing.T) {
	testlog.Start(t)
	p := NewPendingCalls()
	now := time.Now()
	a := p.Add(1, "add", now, now.Add(time.Second))
	b := p.Add(2, "sub", now, now.Add(time.Second))

	call, mismatched, ok := p.Deliver(protocol.Message{Flags: frame.FlagResponse, Sequence: 2})
	if !ok || mismatched || call != b {
		t.Fatalf("expected delivery to seq 2, ok=%v mismatched=%v", ok, mismatched)
	}
	select {
	case reply := <-b.Done():
		if reply.Err != nil || reply.Message.Sequence != 2 {
			t.Fatalf("unexpected reply: %+v", reply)
		}
	default:
		t.Fatalf("message not delivered")
	}

	if got := p.List(); len(got) != 1 || got[0].Sequence != 1 {
		t.Fatalf("unexpected pending list: %+v", got)
	}

	call, mismatched, ok = p.Deliver(protocol.Message{Sequence: 99})
	if !ok || !mismatched || call != a {
		t.Fatalf("expected lenient delivery to the only pending call")
	}
	if p.Len() != 0 {
		t.Fatalf("pending should be empty")
	}
	if _, _, ok := p.Deliver(protocol.Message{Sequence: 100}); ok {
		t.Fatalf("delivery with nothing pending must be dropped")
	}
}

func TestPendingCallsFail(t *testing.T) {
	testlog.Start(t)
	p := NewPendingCalls()
	now := time.Now()
	call := p.Add(5, "add", now, now.Add(time.Second))
	failure := errors.New("bad frame")

	got, mismatched, ok := p.Fail(5, failure)
	if !ok || mismatched || got != call {
		t.Fatalf("expected failure routed to seq 5, ok=%v mismatched=%v", ok, mismatched)
	}
	reply := <-call.Done()
	if !errors.Is(reply.Err, failure) || reply.Message.Sequence != 5 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if _, _, ok := p.Fail(6, failure); ok {
		t.Fatalf("failure with nothing pending must be dropped")
	}
}

func TestPendingCallsAmbiguousMismatchDropped(t *testing.T) {
	testlog.Start(t)
	p := NewPendingCalls()
	now := time.Now()
	p.Add(1, "add", now, now)
	p.Add(2, "add", now, now)
	if _, _, ok := p.Deliver(protocol.Message{Sequence: 3}); ok {
		t.Fatalf("unknown sequence with several pending calls must be dropped")
	}
	p.Remove(1)
	p.Remove(2)
	if p.Len() != 0 {
		t.Fatalf("remove failed")
	}
}
