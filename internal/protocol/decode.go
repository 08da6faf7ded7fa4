package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/atrpc/internal/observability"
	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/danmuck/atrpc/internal/protocol/transport"
)

// Unpack validates a complete frame and returns its message.
// The body is copied out of b. Under ChecksumStrict a mismatch returns the flags and
// sequence without a body, so the caller can still answer the request.
func (e *Engine) Unpack(b []byte) (Message, error) {
	h, err := frame.DecodeHeader(b)
	if err != nil {
		observability.RecordFrameError(e.role, "short_header")
		return Message{}, fmt.Errorf("%w: %w", ErrFrame, err)
	}
	if h.Tag != frame.ProtocolTag {
		observability.RecordFrameError(e.role, "invalid_tag")
		return Message{}, fmt.Errorf("%w: got 0x%04X want 0x%04X", ErrInvalidTag, h.Tag, frame.ProtocolTag)
	}
	end := uint64(frame.HeaderLen) + uint64(h.BodyLen)
	if uint64(len(b)) < end {
		observability.RecordFrameError(e.role, "truncated_body")
		return Message{}, fmt.Errorf("%w: have %d bytes, need %d", ErrTruncatedBody, len(b), end)
	}

	body := make([]byte, h.BodyLen)
	copy(body, b[frame.HeaderLen:end])
	msg := Message{Flags: h.Flags, Sequence: h.Sequence, Body: body}

	if got := e.table.Compute(body); got != h.Checksum {
		observability.RecordChecksumMismatch(e.role)
		if e.policy == ChecksumStrict {
			return Message{Flags: h.Flags, Sequence: h.Sequence}, fmt.Errorf("%w: seq=%d received=0x%08X calculated=0x%08X", ErrChecksumMismatch, h.Sequence, h.Checksum, got)
		}
		e.logger.Warn().
			Uint32("seq", h.Sequence).
			Str("received", fmt.Sprintf("0x%08X", h.Checksum)).
			Str("calculated", fmt.Sprintf("0x%08X", got)).
			Msg("checksum mismatch, proceeding")
	}

	e.logger.Debug().
		Uint32("seq", msg.Sequence).
		Stringer("flags", msg.Flags).
		Uint32("len", h.BodyLen).
		Msg("unpacked frame")
	return msg, nil
}

// ReadMessage reads one frame from r: header, declared body, then Unpack.
// A peer that closes cleanly between frames yields an error matching both ErrTransport and io.EOF.
func (e *Engine) ReadMessage(r io.Reader) (Message, error) {
	var hdr [frame.HeaderLen]byte
	if n, err := transport.RecvInto(r, hdr[:]); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Message{}, fmt.Errorf("%w: peer closed: %w", ErrTransport, io.EOF)
		}
		return Message{}, ioError(fmt.Sprintf("read header got=%d", n), err)
	}

	bodyLen, err := frame.PeekBodyLen(hdr[:])
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrFrame, err)
	}
	if err := e.limits.CheckBodyLen(bodyLen); err != nil {
		observability.RecordFrameError(e.role, "body_too_large")
		return Message{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	packet := make([]byte, frame.HeaderLen+int(bodyLen))
	copy(packet, hdr[:])
	if n, err := transport.RecvInto(r, packet[frame.HeaderLen:]); err != nil {
		return Message{}, ioError(fmt.Sprintf("read body got=%d/%d", n, bodyLen), err)
	}
	return e.Unpack(packet)
}
