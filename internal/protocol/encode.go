package protocol

import (
	"fmt"
	"io"

	"github.com/danmuck/atrpc/internal/protocol/frame"
	"github.com/danmuck/atrpc/internal/protocol/transport"
)

// Pack builds header+body. A zero seq allocates the next sequence number.
func (e *Engine) Pack(flags frame.Flags, body []byte, seq uint32) []byte {
	if seq == 0 {
		seq = e.NextSequence()
	}
	h := frame.Header{
		Tag:      frame.ProtocolTag,
		Flags:    flags,
		Sequence: seq,
		BodyLen:  uint32(len(body)),
		Checksum: e.table.Compute(body),
	}
	packet := make([]byte, frame.HeaderLen+len(body))
	frame.PutHeader(packet, h)
	copy(packet[frame.HeaderLen:], body)

	e.logger.Debug().
		Uint32("seq", seq).
		Stringer("flags", flags).
		Int("len", len(body)).
		Str("checksum", fmt.Sprintf("0x%08X", h.Checksum)).
		Msg("packed frame")
	return packet
}

// WriteMessage packs and sends one frame and returns the sequence it carried.
func (e *Engine) WriteMessage(w io.Writer, flags frame.Flags, body []byte, seq uint32) (uint32, error) {
	if seq == 0 {
		seq = e.NextSequence()
	}
	packet := e.Pack(flags, body, seq)
	n, err := transport.SendAll(w, packet)
	if err != nil {
		return seq, ioError(fmt.Sprintf("send frame seq=%d sent=%d/%d", seq, n, len(packet)), err)
	}
	return seq, nil
}
