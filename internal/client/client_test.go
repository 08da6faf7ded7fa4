package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/danmuck/atrpc/internal/protocol/payload"
	"github.com/danmuck/atrpc/internal/server"
	"github.com/danmuck/atrpc/internal/testutil/testlog"
)

func startServer(t *testing.T, addr string) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.ListenAddr = addr
	s := server.New(cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.Session.CallTimeout = 3 * time.Second
	cfg.Session.Backoff.InitialDelay = 20 * time.Millisecond
	cfg.Session.Backoff.MaxDelay = 100 * time.Millisecond
	cfg.Session.Backoff.Jitter = false
	return cfg
}

// fakeServer accepts one connection and answers each request frame with reply.
func fakeServer(t *testing.T, reply func(e *protocol.Engine, conn net.Conn, req protocol.Message)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		e := protocol.NewEngine(protocol.WithRole("fake"))
		for {
			msg, err := e.ReadMessage(conn)
			if err != nil {
				return
			}
			reply(e, conn, msg)
		}
	}()
	return ln.Addr().String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCallOnceScenarios(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, "127.0.0.1:0")
	cfg := testConfig(s.Addr().String())
	ctx := context.Background()

	raw, err := CallOnce(ctx, cfg, "add", 10, 20)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if v, err := DecodeFloat(raw); err != nil || v != 30 {
		t.Fatalf("add result=%s err=%v", raw, err)
	}

	_, err = CallOnce(ctx, cfg, "power2", 3)
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) || remote.Message != "unknown function: power2" {
		t.Fatalf("expected unknown function remote error, got %v", err)
	}

	_, err = CallOnce(ctx, cfg, "divide", 1, 0)
	if !errors.Is(err, protocol.ErrRemote) || !strings.Contains(err.Error(), "division by zero") {
		t.Fatalf("expected division by zero, got %v", err)
	}
}

func TestCallOnceDialFailure(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = CallOnce(context.Background(), testConfig(addr), "add", 1, 2)
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := CallOnce(context.Background(), Config{}, "add"); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestCallOnceTimeout(t *testing.T) {
	testlog.Start(t)
	addr := fakeServer(t, func(*protocol.Engine, net.Conn, protocol.Message) {})
	cfg := testConfig(addr)
	cfg.Session.CallTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := CallOnce(context.Background(), cfg, "add", 1, 2)
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout took too long: %s", time.Since(start))
	}
}

func TestClientCallStatsAndHistory(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, "127.0.0.1:0")
	c, err := New(testConfig(s.Addr().String()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if !c.IsConnected() {
		t.Fatalf("status=%s", c.Status())
	}
	v, err := c.CallFloat(ctx, "add", 10, 20)
	if err != nil || v != 30 {
		t.Fatalf("add got=%v err=%v", v, err)
	}
	if _, err := c.Call(ctx, "power2", 2); !errors.Is(err, protocol.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}

	st := c.Stats()
	if st.Sent != 2 || st.Received != 2 || st.LastActivity.IsZero() {
		t.Fatalf("unexpected stats: %+v", st)
	}
	hist := c.History()
	if len(hist) != 2 || !hist[1].Flags.Has(frame.FlagError) {
		t.Fatalf("unexpected history: %+v", hist)
	}
	c.ClearHistory()
	if len(c.History()) != 0 {
		t.Fatalf("history not cleared")
	}
	if len(c.Pending()) != 0 {
		t.Fatalf("pending calls left behind: %+v", c.Pending())
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, "127.0.0.1:0")
	c, err := New(testConfig(s.Addr().String()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	const workers, perWorker = 10, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				got, err := c.CallFloat(context.Background(), "mul", w, i)
				if err != nil {
					errs <- err
					return
				}
				if got != float64(w*i) {
					errs <- errors.New("wrong product")
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent call: %v", err)
	}
	if st := c.Stats(); st.Sent != workers*perWorker || st.Received != workers*perWorker {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestClientNotConnected(t *testing.T) {
	testlog.Start(t)
	c, err := New(testConfig("127.0.0.1:1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Call(context.Background(), "add", 1, 2)
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("status=%s", c.Status())
	}
}

func TestClientStatusCallbacks(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, "127.0.0.1:0")
	c, err := New(testConfig(s.Addr().String()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var mu sync.Mutex
	var seen []Status
	c.OnStatus(func(st Status) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should be a no-op: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusConnecting, StatusConnected, StatusDisconnected}
	if len(seen) != len(want) {
		t.Fatalf("statuses got=%v want=%v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("statuses got=%v want=%v", seen, want)
		}
	}
}

func TestClientAcceptsMismatchedSequence(t *testing.T) {
	testlog.Start(t)
	addr := fakeServer(t, func(e *protocol.Engine, conn net.Conn, req protocol.Message) {
		body, _ := payload.JSON{}.EncodeResponse(payload.Response{Status: payload.StatusSuccess, Result: []byte("7")})
		_, _ = e.WriteMessage(conn, frame.FlagResponse, body, req.Sequence+100)
	})
	c, err := New(testConfig(addr))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	v, err := c.CallFloat(context.Background(), "anything")
	if err != nil || v != 7 {
		t.Fatalf("lenient correlation got=%v err=%v", v, err)
	}
}

func TestClientOnMessageFiresPerFrame(t *testing.T) {
	testlog.Start(t)
	addr := fakeServer(t, func(e *protocol.Engine, conn net.Conn, req protocol.Message) {
		notice, _ := payload.JSON{}.EncodeResponse(payload.Failure("notice"))
		_, _ = e.WriteMessage(conn, frame.FlagRequest, notice, 0)
		body, _ := payload.JSON{}.EncodeResponse(payload.Response{Status: payload.StatusSuccess, Result: []byte("1")})
		_, _ = e.WriteMessage(conn, frame.FlagResponse, body, req.Sequence)
	})
	c, err := New(testConfig(addr))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var (
		mu   sync.Mutex
		seen []protocol.Message
	)
	c.OnMessage(func(msg protocol.Message) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg)
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	for i := 0; i < 3; i++ {
		if _, err := c.Call(context.Background(), "ping"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	waitFor(t, "six frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 6
	})
	mu.Lock()
	defer mu.Unlock()
	responses := 0
	for _, msg := range seen {
		if msg.IsResponse() {
			responses++
		}
	}
	if responses != 3 || c.Stats().Received != 6 || len(c.History()) != 6 {
		t.Fatalf("responses=%d received=%d history=%d", responses, c.Stats().Received, len(c.History()))
	}
}

func TestClientStrictChecksumKeepsConnection(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	addr := fakeServer(t, func(e *protocol.Engine, conn net.Conn, req protocol.Message) {
		body, _ := payload.JSON{}.EncodeResponse(payload.Response{Status: payload.StatusSuccess, Result: []byte("5")})
		packet := e.Pack(frame.FlagResponse, body, req.Sequence)
		if calls.Add(1) == 1 {
			packet[len(packet)-1] ^= 0x01
		}
		_, _ = conn.Write(packet)
	})
	cfg := testConfig(addr)
	cfg.ChecksumPolicy = protocol.ChecksumStrict
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var statuses []Status
	var mu sync.Mutex
	c.OnStatus(func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, st)
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if _, err := c.Call(context.Background(), "add", 2, 3); !errors.Is(err, protocol.ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
	v, err := c.CallFloat(context.Background(), "add", 2, 3)
	if err != nil || v != 5 {
		t.Fatalf("second call got=%v err=%v", v, err)
	}
	if !c.IsConnected() {
		t.Fatalf("connection dropped after checksum mismatch: %s", c.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	for _, st := range statuses {
		if st == StatusError {
			t.Fatalf("status went to error: %v", statuses)
		}
	}
}

func TestClientCallTimeout(t *testing.T) {
	testlog.Start(t)
	addr := fakeServer(t, func(*protocol.Engine, net.Conn, protocol.Message) {})
	cfg := testConfig(addr)
	cfg.Session.CallTimeout = 80 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if _, err := c.Call(context.Background(), "add", 1, 2); !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Call(ctx, "add", 1, 2); !errors.Is(err, protocol.ErrTimeout) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled timeout, got %v", err)
	}
	if !c.IsConnected() {
		t.Fatalf("a timed out call must not drop the connection")
	}
}

func TestClientReconnects(t *testing.T) {
	testlog.Start(t)
	first := startServer(t, "127.0.0.1:0")
	addr := first.Addr().String()

	cfg := testConfig(addr)
	cfg.Reconnect = true
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if err := first.Stop(); err != nil {
		t.Fatalf("stop first server: %v", err)
	}
	waitFor(t, "connection loss", func() bool { return !c.IsConnected() })
	if _, err := c.Call(context.Background(), "add", 1, 2); !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected transport error while down, got %v", err)
	}

	_ = startServer(t, addr)
	waitFor(t, "reconnect", c.IsConnected)
	v, err := c.CallFloat(context.Background(), "add", 2, 3)
	if err != nil || v != 5 {
		t.Fatalf("call after reconnect got=%v err=%v", v, err)
	}
}

func TestClientReconnectGivesUp(t *testing.T) {
	testlog.Start(t)
	s := startServer(t, "127.0.0.1:0")
	cfg := testConfig(s.Addr().String())
	cfg.Reconnect = true
	cfg.MaxReconnectAttempts = 2
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	var mu sync.Mutex
	dials := 0
	c.OnStatus(func(st Status) {
		if st == StatusConnecting {
			mu.Lock()
			dials++
			mu.Unlock()
		}
	})
	_ = s.Stop()
	waitFor(t, "redial to give up", func() bool {
		mu.Lock()
		n := dials
		mu.Unlock()
		c.mu.Lock()
		defer c.mu.Unlock()
		return n == cfg.MaxReconnectAttempts && !c.reconnecting && c.status == StatusError
	})
}

func TestHistoryEvictsOldest(t *testing.T) {
	testlog.Start(t)
	h := NewHistory(3)
	for seq := uint32(1); seq <= 5; seq++ {
		h.Add(time.Now(), protocol.Message{Flags: frame.FlagResponse, Sequence: seq})
	}
	got := h.Entries()
	if len(got) != 3 || h.Len() != 3 {
		t.Fatalf("unexpected history len=%d", len(got))
	}
	for i, want := range []uint32{3, 4, 5} {
		if got[i].Sequence != want {
			t.Fatalf("entry %d seq=%d want=%d", i, got[i].Sequence, want)
		}
	}
	h.Clear()
	if h.Len() != 0 {
		t.Fatalf("clear failed")
	}
}

func TestCallDeadlinePicksEarlier(t *testing.T) {
	testlog.Start(t)
	now := time.Now()
	if got := callDeadline(context.Background(), now, 0); !got.IsZero() {
		t.Fatalf("no timeout should yield zero deadline: %v", got)
	}
	if got := callDeadline(context.Background(), now, time.Second); !got.Equal(now.Add(time.Second)) {
		t.Fatalf("timeout deadline got=%v", got)
	}
	ctx, cancel := context.WithDeadline(context.Background(), now.Add(10*time.Millisecond))
	defer cancel()
	if got := callDeadline(ctx, now, time.Second); !got.Equal(now.Add(10 * time.Millisecond)) {
		t.Fatalf("ctx deadline should win: %v", got)
	}
}

func TestStatusString(t *testing.T) {
	testlog.Start(t)
	if StatusConnected.String() != "connected" || Status(42).String() != "status(42)" {
		t.Fatalf("unexpected status strings")
	}
}

func TestClientTLVCodec(t *testing.T) {
	testlog.Start(t)
	scfg := server.DefaultConfig()
	scfg.ListenAddr = "127.0.0.1:0"
	scfg.Codec = payload.CodecTLV
	s := server.New(scfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	cfg := testConfig(s.Addr().String())
	cfg.Codec = payload.CodecTLV
	ctx := context.Background()

	raw, err := CallOnce(ctx, cfg, "subtract", 50, 8)
	if err != nil {
		t.Fatalf("call once: %v", err)
	}
	if v, err := DecodeFloat(raw); err != nil || v != 42 {
		t.Fatalf("call once got=%v err=%v", v, err)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()
	if v, err := c.CallFloat(ctx, "add", 1.5, 2.5); err != nil || v != 4 {
		t.Fatalf("tlv add got=%v err=%v", v, err)
	}
	var remote *protocol.RemoteError
	if _, err := c.Call(ctx, "nope"); !errors.As(err, &remote) || remote.Message != "unknown function: nope" {
		t.Fatalf("expected remote error, got %v", err)
	}

	cfg.Codec = "yaml"
	if _, err := New(cfg); err == nil {
		t.Fatalf("unknown codec accepted")
	}
}
