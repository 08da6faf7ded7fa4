package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/atrpc/internal/observability"
	"github.com/danmuck/atrpc/internal/protocol"
	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/danmuck/atrpc/internal/protocol/payload"
	"github.com/danmuck/atrpc/internal/protocol/session"
	"github.com/danmuck/atrpc/internal/registry"
	"github.com/rs/zerolog"
)

// handleConn serves requests on one connection until the peer leaves, a framing
// error occurs, or the server stops.
func (s *Server) handleConn(ctx context.Context, rec *connRecord) {
	logger := s.logger.With().
		Uint64("conn_id", rec.id).
		Str("remote", rec.remoteAddr).
		Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("connection handler panic")
		}
		cancel()
		_ = rec.conn.Close()
		remaining := s.untrack(rec)
		logger.Info().Int("active", remaining).Msg("client disconnected")
		s.handlers.Done()
	}()

	logger.Info().Int("active", s.ConnectionCount()).Msg("client connected")
	for {
		if d := s.cfg.Session.ReadTimeout; d > 0 {
			_ = rec.conn.SetReadDeadline(session.Deadline(time.Now(), d))
		}
		msg, err := s.engine.ReadMessage(rec.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrChecksumMismatch) {
				if !msg.IsRequest() {
					logger.Warn().Err(err).Stringer("flags", msg.Flags).Msg("dropping non-request frame with bad checksum")
					continue
				}
				logger.Warn().Err(err).Msg("rejecting request with bad checksum")
				if !s.reply(rec, logger, frame.FlagResponse|frame.FlagError, s.failureBody("checksum mismatch"), msg.Sequence) {
					return
				}
				continue
			}
			s.logReadExit(logger, err)
			return
		}

		if !msg.IsRequest() {
			logger.Warn().
				Uint32("seq", msg.Sequence).
				Stringer("flags", msg.Flags).
				Msg("ignoring non-request frame")
			continue
		}
		rec.requests.Add(1)

		flags, body := s.dispatch(ctx, rec, msg, logger)
		if !s.reply(rec, logger, flags, body, msg.Sequence) {
			return
		}
	}
}

func (s *Server) logReadExit(logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug().Msg("peer closed connection")
	case !s.running.Load():
		logger.Debug().Err(err).Msg("connection closed by shutdown")
	case errors.Is(err, protocol.ErrTimeout):
		logger.Info().Dur("read_timeout", s.cfg.Session.ReadTimeout).Msg("idle timeout")
	default:
		logger.Warn().Err(err).Msg("read frame failed, closing connection")
	}
}

// reply writes one response frame. It reports false when the connection is unusable.
func (s *Server) reply(rec *connRecord, logger zerolog.Logger, flags frame.Flags, body []byte, seq uint32) bool {
	if d := s.cfg.Session.WriteTimeout; d > 0 {
		_ = rec.conn.SetWriteDeadline(session.Deadline(time.Now(), d))
	}
	if _, err := s.engine.WriteMessage(rec.conn, flags, body, seq); err != nil {
		if s.running.Load() {
			logger.Error().Err(err).Uint32("seq", seq).Msg("send response failed")
		}
		return false
	}
	return true
}

// dispatch decodes one request, runs it and returns the response flags and body.
func (s *Server) dispatch(ctx context.Context, rec *connRecord, msg protocol.Message, logger zerolog.Logger) (frame.Flags, []byte) {
	start := time.Now()
	req, err := s.codec.DecodeRequest(msg.Body)
	if err != nil {
		logger.Warn().Err(err).Uint32("seq", msg.Sequence).Msg("invalid request payload")
		observability.RecordDispatch("invalid", "error", time.Since(start))
		return frame.FlagResponse | frame.FlagError, s.failureBody(fmt.Sprintf("invalid request payload: %v", err))
	}

	ctx, span := observability.StartDispatchSpan(ctx, req.Func, msg.Sequence, rec.id)
	result, err := s.registry.Call(ctx, req.Func, req.Args)
	observability.EndSpan(span, err)

	label := req.Func
	if errors.Is(err, registry.ErrUnknownFunc) {
		label = "unknown"
	}
	if err != nil {
		observability.RecordDispatch(label, "error", time.Since(start))
		var panicErr *registry.PanicError
		if errors.As(err, &panicErr) {
			logger.Error().Err(err).Bytes("stack", panicErr.Stack).Str("func", req.Func).Msg("handler panic")
		} else {
			logger.Warn().Err(err).Uint32("seq", msg.Sequence).Str("func", req.Func).Msg("call failed")
		}
		return frame.FlagResponse | frame.FlagError, s.failureBody(failureMessage(req.Func, err))
	}

	resp, err := payload.Success(result)
	if err == nil {
		var body []byte
		if body, err = s.codec.EncodeResponse(resp); err == nil {
			observability.RecordDispatch(label, "success", time.Since(start))
			logger.Debug().
				Uint32("seq", msg.Sequence).
				Str("func", req.Func).
				Dur("duration", time.Since(start)).
				Msg("call ok")
			return frame.FlagResponse, body
		}
	}
	logger.Error().Err(err).Str("func", req.Func).Msg("encode result failed")
	observability.RecordDispatch(label, "error", time.Since(start))
	return frame.FlagResponse | frame.FlagError, s.failureBody(fmt.Sprintf("encode result: %v", err))
}

// failureMessage is the text sent back to the caller for err.
func failureMessage(fn string, err error) string {
	switch {
	case errors.Is(err, registry.ErrUnknownFunc):
		return "unknown function: " + fn
	case errors.Is(err, registry.ErrHandlerPanic):
		return "internal error in " + fn
	}
	return strings.TrimSpace(err.Error())
}

func (s *Server) failureBody(msg string) []byte {
	body, err := s.codec.EncodeResponse(payload.Failure(msg))
	if err != nil {
		return []byte(`{"status":"error","message":"internal error"}`)
	}
	return body
}
