// Package transport moves whole buffers over a connected byte stream.
//
// It performs no framing. Callers treat a short result as a framing failure.
package transport

import (
	"errors"
	"io"
)

// SendAll writes b until it is fully sent or the writer fails, and returns the bytes sent.
func SendAll(w io.Writer, b []byte) (int, error) {
	sent := 0
	for sent < len(b) {
		n, err := w.Write(b[sent:])
		if n > 0 {
			sent += n
		}
		if err != nil {
			return sent, err
		}
		if n == 0 {
			return sent, io.ErrShortWrite
		}
	}
	return sent, nil
}

// RecvAll reads exactly n bytes. On peer close or error it returns the short result.
func RecvAll(r io.Reader, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	got, err := RecvInto(r, buf)
	return buf[:got], err
}

// RecvInto fills buf completely and returns the logical length read.
// A clean close before any byte returns io.EOF; a close mid-buffer returns io.ErrUnexpectedEOF.
func RecvInto(r io.Reader, buf []byte) (int, error) {
	got, err := io.ReadFull(r, buf)
	if err != nil && got > 0 && errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return got, err
}
