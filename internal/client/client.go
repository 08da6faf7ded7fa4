// Package client calls functions on an AT protocol server.
//
// CallOnce is a single dial-call-close exchange. Client keeps one connection open,
// routes responses by sequence number and can redial after the connection drops.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/atrpc/internal/logging"
	"github.com/danmuck/atrpc/internal/observability"
	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/danmuck/atrpc/internal/protocol/payload"
	"github.com/danmuck/atrpc/internal/protocol/session"
	"github.com/rs/zerolog"
)

var errRedialStopped = errors.New("client: redial stopped")

// Status is the connection state reported to OnStatus callbacks.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Stats are traffic counters since New.
type Stats struct {
	Sent         uint64
	Received     uint64
	LastActivity time.Time
}

type Option func(*Client)

func WithCodec(c payload.Codec) Option {
	return func(cl *Client) {
		if c != nil {
			cl.codec = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

type Client struct {
	cfg     Config
	engine  *protocol.Engine
	codec   payload.Codec
	logger  zerolog.Logger
	pending *session.PendingCalls
	history *History

	// connMu serializes connect, disconnect and redial.
	connMu sync.Mutex
	// callMu keeps one call in flight per connection.
	callMu sync.Mutex

	mu           sync.Mutex
	conn         net.Conn
	readerDone   chan struct{}
	status       Status
	closed       bool
	reconnecting bool
	stopRedial   chan struct{}
	onStatus     func(Status)
	onMessage    func(protocol.Message)

	sent         atomic.Uint64
	received     atomic.Uint64
	lastActivity atomic.Int64
}

func New(cfg Config, opts ...Option) (*Client, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     cfg,
		engine:  cfg.newEngine(),
		codec:   cfg.newCodec(),
		logger:  logging.Component("client"),
		pending: session.NewPendingCalls(),
		history: NewHistory(cfg.HistoryLimit),
		closed:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("addr", cfg.Address).Logger()
	observability.RegisterMetrics()
	return c, nil
}

// Connect dials the server and starts the receive loop. Connecting twice is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	c.closed = false
	if c.stopRedial == nil {
		c.stopRedial = make(chan struct{})
	}
	c.mu.Unlock()
	return c.connectLocked(ctx)
}

// connectLocked requires connMu.
func (c *Client) connectLocked(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setStatus(StatusConnecting)
	dialer := net.Dialer{Timeout: c.cfg.Session.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		c.setStatus(StatusError)
		return dialError(ctx, c.cfg.Address, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.readerDone = done
	c.mu.Unlock()
	c.touch()

	go c.readLoop(conn, done)
	c.logger.Info().Str("local", conn.LocalAddr().String()).Msg("connected")
	c.setStatus(StatusConnected)
	return nil
}

// Disconnect closes the connection and stops any redial in progress.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	c.closed = true
	if c.stopRedial != nil {
		close(c.stopRedial)
		c.stopRedial = nil
	}
	conn, done := c.conn, c.readerDone
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
		<-done
		c.logger.Info().Msg("disconnected")
	}
	c.setStatus(StatusDisconnected)
	return err
}

func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnStatus installs a callback run on every status change. It runs on the
// goroutine that caused the change and must not block.
func (c *Client) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// OnMessage installs a callback run on the receive goroutine for every frame
// read from the server, after it is added to History. It must not block.
func (c *Client) OnMessage(fn func(protocol.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *Client) setStatus(st Status) {
	c.mu.Lock()
	changed := c.status != st
	c.status = st
	cb := c.onStatus
	c.mu.Unlock()
	if changed && cb != nil {
		cb(st)
	}
}

// Call sends one request and waits for its response. Calls on one Client are serialized.
// Errors match protocol.ErrTimeout, protocol.ErrTransport, protocol.ErrRemote or,
// under the strict checksum policy, protocol.ErrChecksumMismatch.
func (c *Client) Call(ctx context.Context, name string, args ...any) (result json.RawMessage, err error) {
	start := time.Now()
	ctx, span := observability.StartCallSpan(ctx, name, c.cfg.Address)
	defer func() {
		observability.EndSpan(span, err)
		observability.RecordClientCall(name, callOutcome(err), time.Since(start))
	}()

	body, err := c.codec.EncodeRequest(name, args...)
	if err != nil {
		return nil, err
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	conn, done := c.conn, c.readerDone
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	now := time.Now()
	seq := c.engine.NextSequence()
	deadline := callDeadline(ctx, now, c.cfg.Session.CallTimeout)
	call := c.pending.Add(seq, name, now, deadline)
	defer c.pending.Remove(seq)

	if d := c.cfg.Session.WriteTimeout; d > 0 {
		_ = conn.SetWriteDeadline(session.Deadline(now, d))
	}
	if _, err := c.engine.WriteMessage(conn, frame.FlagRequest, body, seq); err != nil {
		c.logger.Error().Err(err).Uint32("seq", seq).Str("func", name).Msg("send failed")
		_ = conn.Close()
		return nil, err
	}
	c.sent.Add(1)
	c.touch()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case reply := <-call.Done():
		return c.settle(reply)
	case <-timeout:
		return nil, fmt.Errorf("%w: call %s seq=%d after %s", protocol.ErrTimeout, name, seq, deadline.Sub(now))
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: call %s seq=%d: %w", protocol.ErrTimeout, name, seq, ctx.Err())
	case <-done:
		select {
		case reply := <-call.Done():
			return c.settle(reply)
		default:
		}
		return nil, fmt.Errorf("%w: connection lost waiting for seq=%d", protocol.ErrTransport, seq)
	}
}

func (c *Client) settle(reply session.Reply) (json.RawMessage, error) {
	if reply.Err != nil {
		return nil, reply.Err
	}
	return decodeReply(c.codec, reply.Message)
}

// CallFloat is Call for functions returning a number.
func (c *Client) CallFloat(ctx context.Context, name string, args ...any) (float64, error) {
	raw, err := c.Call(ctx, name, args...)
	if err != nil {
		return 0, err
	}
	return DecodeFloat(raw)
}

func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	for {
		msg, err := c.engine.ReadMessage(conn)
		if errors.Is(err, protocol.ErrChecksumMismatch) {
			// The frame was read whole, so the stream is still aligned.
			c.received.Add(1)
			c.touch()
			c.rejectFrame(msg, err)
			continue
		}
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		now := time.Now()
		c.received.Add(1)
		c.lastActivity.Store(now.UnixNano())
		c.history.Add(now, msg)

		c.mu.Lock()
		onMessage := c.onMessage
		c.mu.Unlock()
		if onMessage != nil {
			onMessage(msg)
		}

		if !msg.IsResponse() {
			c.logger.Warn().Uint32("seq", msg.Sequence).Stringer("flags", msg.Flags).Msg("ignoring non-response frame")
			continue
		}
		call, mismatched, ok := c.pending.Deliver(msg)
		switch {
		case !ok:
			c.logger.Warn().Uint32("seq", msg.Sequence).Msg("response for unknown sequence dropped")
		case mismatched:
			c.logger.Warn().
				Uint32("expected", call.Sequence).
				Uint32("received", msg.Sequence).
				Msg("sequence mismatch, delivering to pending call")
		}
	}
}

// rejectFrame fails the pending call a corrupt response was meant for.
func (c *Client) rejectFrame(msg protocol.Message, err error) {
	if !msg.IsResponse() {
		c.logger.Warn().Err(err).Stringer("flags", msg.Flags).Msg("dropping non-response frame with bad checksum")
		return
	}
	if _, _, ok := c.pending.Fail(msg.Sequence, err); !ok {
		c.logger.Warn().Err(err).Uint32("seq", msg.Sequence).Msg("corrupt response for unknown sequence dropped")
		return
	}
	c.logger.Warn().Err(err).Uint32("seq", msg.Sequence).Msg("rejected response with bad checksum")
}

func (c *Client) connectionLost(conn net.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()
	_ = conn.Close()
	if closed {
		return
	}

	c.logger.Warn().Err(err).Msg("connection lost")
	c.setStatus(StatusError)
	if c.cfg.Reconnect {
		go c.redial()
	}
}

// redial reconnects with backoff until it succeeds, the attempt budget runs out,
// or Disconnect is called.
func (c *Client) redial() {
	c.mu.Lock()
	if c.reconnecting || c.closed || c.stopRedial == nil {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	stop := c.stopRedial
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	backoff := session.NewBackoff(c.cfg.Session.Backoff)
	for {
		delay := backoff.Next()
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		observability.RecordClientReconnect()
		err := c.redialOnce(stop)
		if errors.Is(err, errRedialStopped) {
			return
		}
		if err == nil {
			c.logger.Info().Int("attempt", backoff.Attempt()).Msg("reconnected")
			return
		}
		c.logger.Warn().Err(err).Int("attempt", backoff.Attempt()).Dur("delay", delay).Msg("reconnect failed")
		if limit := c.cfg.MaxReconnectAttempts; limit > 0 && backoff.Attempt() >= limit {
			c.logger.Error().Int("attempts", limit).Msg("giving up reconnect")
			c.setStatus(StatusError)
			return
		}
	}
}

func (c *Client) redialOnce(stop chan struct{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	select {
	case <-stop:
		return errRedialStopped
	default:
	}
	return c.connectLocked(context.Background())
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) Stats() Stats {
	st := Stats{
		Sent:     c.sent.Load(),
		Received: c.received.Load(),
	}
	if ns := c.lastActivity.Load(); ns != 0 {
		st.LastActivity = time.Unix(0, ns)
	}
	return st
}

// History returns received frames, oldest first.
func (c *Client) History() []HistoryEntry {
	return c.history.Entries()
}

func (c *Client) ClearHistory() {
	c.history.Clear()
}

// Pending lists calls awaiting a response.
func (c *Client) Pending() []session.PendingCall {
	return c.pending.List()
}

func (c *Client) Config() Config {
	return c.cfg
}
