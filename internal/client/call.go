package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/atrpc/internal/logging"
	"github.com/danmuck/atrpc/internal/observability"
	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/danmuck/atrpc/internal/protocol/payload"
)

// CallOnce dials cfg.Address, performs one call and closes the connection.
func CallOnce(ctx context.Context, cfg Config, name string, args ...any) (result json.RawMessage, err error) {
	cfg, err = cfg.normalize()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := observability.StartCallSpan(ctx, name, cfg.Address)
	defer func() {
		observability.EndSpan(span, err)
		observability.RecordClientCall(name, callOutcome(err), time.Since(start))
	}()

	logger := logging.Component("client").With().Str("addr", cfg.Address).Logger()
	codec := cfg.newCodec()
	body, err := codec.EncodeRequest(name, args...)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.Session.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, dialError(ctx, cfg.Address, err)
	}
	defer conn.Close()

	deadline := callDeadline(ctx, time.Now(), cfg.Session.CallTimeout)
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	engine := cfg.newEngine()
	seq, err := engine.WriteMessage(conn, frame.FlagRequest, body, 0)
	if err != nil {
		return nil, ctxError(ctx, err)
	}
	for {
		msg, err := engine.ReadMessage(conn)
		if err != nil {
			return nil, ctxError(ctx, err)
		}
		if !msg.IsResponse() {
			logger.Warn().Uint32("seq", msg.Sequence).Stringer("flags", msg.Flags).Msg("ignoring non-response frame")
			continue
		}
		if msg.Sequence != seq {
			logger.Warn().Uint32("sent", seq).Uint32("received", msg.Sequence).Msg("sequence mismatch, accepting response")
		}
		return decodeReply(codec, msg)
	}
}

// decodeReply turns a response frame into its result or a *protocol.RemoteError.
func decodeReply(codec payload.Codec, msg protocol.Message) (json.RawMessage, error) {
	resp, err := codec.DecodeResponse(msg.Body)
	if err != nil {
		if msg.IsError() {
			return nil, &protocol.RemoteError{Sequence: msg.Sequence, Message: string(msg.Body)}
		}
		return nil, fmt.Errorf("%w: seq=%d: %w", protocol.ErrProtocol, msg.Sequence, err)
	}
	if msg.IsError() || resp.IsError() {
		return nil, &protocol.RemoteError{Sequence: msg.Sequence, Message: resp.Message}
	}
	return resp.Result, nil
}

// DecodeFloat reads a numeric call result.
func DecodeFloat(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: result %s is not a number", payload.ErrInvalidResponse, raw)
	}
	return v, nil
}

// callDeadline is the earlier of now+timeout and the ctx deadline. Zero means none.
func callDeadline(ctx context.Context, now time.Time, timeout time.Duration) time.Time {
	var deadline time.Time
	if timeout > 0 {
		deadline = now.Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

func dialError(ctx context.Context, addr string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: dial %s: %w", protocol.ErrTimeout, addr, ctx.Err())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: dial %s: %w", protocol.ErrTimeout, addr, err)
	}
	return fmt.Errorf("%w: dial %s: %w", protocol.ErrTransport, addr, err)
}

// ctxError attributes an I/O failure to ctx when ctx ended first.
func ctxError(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		return fmt.Errorf("%w: %w", protocol.ErrTimeout, cerr)
	}
	return err
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, protocol.ErrRemote):
		return "remote_error"
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrTransport):
		return "transport_error"
	default:
		return "error"
	}
}
