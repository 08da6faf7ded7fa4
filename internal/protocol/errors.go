package protocol

import (
	"errors"
	"fmt"
	"net"
)

// Error kinds. Concrete errors wrap exactly one kind and are matched with errors.Is.
var (
	ErrFrame            = errors.New("protocol: frame error")
	ErrProtocol         = errors.New("protocol: protocol error")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrDispatch         = errors.New("protocol: dispatch error")
	ErrTransport        = errors.New("protocol: transport error")
	ErrTimeout          = errors.New("protocol: timeout")
	ErrRemote           = errors.New("protocol: remote error")
)

var (
	ErrInvalidTag    = fmt.Errorf("%w: invalid protocol tag", ErrProtocol)
	ErrTruncatedBody = fmt.Errorf("%w: frame shorter than declared body", ErrProtocol)
)

// RemoteError carries the failure message returned by the peer.
type RemoteError struct {
	Sequence uint32
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("protocol: remote error (seq=%d): %s", e.Sequence, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// ioError tags a socket failure as a timeout or a transport error.
func ioError(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// IsFatal reports whether err must terminate the connection it occurred on.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFrame) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrTimeout)
}
