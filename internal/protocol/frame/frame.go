package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	HeaderLen          = 16
	ProtocolTag uint16 = 0x4154 // 'A' 'T'
)

// Flags is the header bitmask. Bits are independent.
type Flags uint16

const (
	FlagRequest  Flags = 0x0001
	FlagResponse Flags = 0x0002
	FlagError    Flags = 0x0004
)

var (
	ErrShortHeader  = errors.New("frame: short fixed header")
	ErrBodyTooLarge = errors.New("frame: body too large")
)

// Header is the fixed wire header.
type Header struct {
	Tag      uint16
	Flags    Flags
	Sequence uint32
	BodyLen  uint32
	Checksum uint32
}

// Limits constrains decode memory use.
type Limits struct {
	MaxBodyBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes: 10 * 1024 * 1024,
	}
}

// CheckBodyLen rejects declared lengths above the limit. Zero disables the check.
func (l Limits) CheckBodyLen(n uint32) error {
	if l.MaxBodyBytes > 0 && n > l.MaxBodyBytes {
		return fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, n, l.MaxBodyBytes)
	}
	return nil
}

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

func (f Flags) String() string {
	if f == 0 {
		return "NONE"
	}
	parts := make([]string, 0, 3)
	if f.Has(FlagRequest) {
		parts = append(parts, "REQUEST")
	}
	if f.Has(FlagResponse) {
		parts = append(parts, "RESPONSE")
	}
	if f.Has(FlagError) {
		parts = append(parts, "ERROR")
	}
	if rest := f &^ (FlagRequest | FlagResponse | FlagError); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%04X", uint16(rest)))
	}
	return strings.Join(parts, "|")
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	return buf
}

// PutHeader writes h into the first HeaderLen bytes of buf.
func PutHeader(buf []byte, h Header) {
	_ = buf[HeaderLen-1]
	binary.BigEndian.PutUint16(buf[0:2], h.Tag)
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Flags))
	binary.BigEndian.PutUint32(buf[4:8], h.Sequence)
	binary.BigEndian.PutUint32(buf[8:12], h.BodyLen)
	binary.BigEndian.PutUint32(buf[12:16], h.Checksum)
}

// DecodeHeader extracts the five header fields. It does not validate the tag.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(b))
	}
	return Header{
		Tag:      binary.BigEndian.Uint16(b[0:2]),
		Flags:    Flags(binary.BigEndian.Uint16(b[2:4])),
		Sequence: binary.BigEndian.Uint32(b[4:8]),
		BodyLen:  binary.BigEndian.Uint32(b[8:12]),
		Checksum: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// PeekBodyLen reads body_length from raw header bytes without further validation.
func PeekBodyLen(b []byte) (uint32, error) {
	if len(b) < HeaderLen {
		return 0, fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(b))
	}
	return binary.BigEndian.Uint32(b[8:12]), nil
}
