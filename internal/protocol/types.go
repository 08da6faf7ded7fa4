package protocol

import "github.com/danmuck/atrpc/internal/protocol/frame"

// Message is the logical unit exchanged: flags, sequence and opaque body.
type Message struct {
	Flags    frame.Flags
	Sequence uint32
	Body     []byte
}

func (m Message) IsRequest() bool {
	return m.Flags.Has(frame.FlagRequest)
}

func (m Message) IsResponse() bool {
	return m.Flags.Has(frame.FlagResponse)
}

func (m Message) IsError() bool {
	return m.Flags.Has(frame.FlagError)
}

// ChecksumPolicy selects how Unpack treats a body whose checksum does not match.
type ChecksumPolicy int

const (
	// ChecksumLenient logs the mismatch and returns the body.
	ChecksumLenient ChecksumPolicy = iota
	// ChecksumStrict rejects the message with ErrChecksumMismatch.
	ChecksumStrict
)

func (p ChecksumPolicy) String() string {
	switch p {
	case ChecksumStrict:
		return "strict"
	default:
		return "lenient"
	}
}

// ParseChecksumPolicy accepts "lenient" (or empty) and "strict".
func ParseChecksumPolicy(raw string) (ChecksumPolicy, bool) {
	switch raw {
	case "", "lenient":
		return ChecksumLenient, true
	case "strict":
		return ChecksumStrict, true
	default:
		return ChecksumLenient, false
	}
}
