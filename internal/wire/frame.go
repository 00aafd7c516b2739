// Package wire implements the native-messaging framing used between the
// browser extension and this helper: a 4-byte little-endian length header
// followed by exactly that many bytes of UTF-8 JSON.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Native-messaging frame size limits.
const (
	MaxRequestSize  = 8 * 1024
	MaxResponseSize = 1024 * 1024
	headerSize      = 4
)

// ReadFrame reads one length-prefixed frame from r, enforcing maxSize on
// the declared body length. Truncated reads surface io.ErrUnexpectedEOF,
// which the caller maps to a FramingError; io.EOF is returned only if the
// stream ended before any byte of the frame was read.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var lenBuf [headerSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > maxSize {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", length, maxSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			// The header was read, so an empty body is still a truncation.
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteFrame writes body as one length-prefixed frame to w.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [headerSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}
