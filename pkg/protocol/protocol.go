// Package protocol implements the length-prefixed JSON framing shared by the
// client channel, the admin channel, and both CLIs. Every frame is a 4-byte
// big-endian unsigned length followed by exactly that many bytes of UTF-8
// JSON. A receiver either gets a complete frame or a terminal error; partial
// frames never escape this package.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize caps the payload length on both send and receive. A peer
// announcing a larger frame is treated as a protocol error.
const MaxFrameSize = 16 << 20 // 16 MiB

const prefixLen = 4

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ErrTruncated is returned when the stream ends inside a frame: after a
// partial length prefix or before the announced payload length arrived.
// A clean close between frames is reported as io.EOF instead.
var ErrTruncated = errors.New("truncated frame")

// Send serializes v as JSON and writes it as one length-prefixed frame.
func Send(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, prefixLen+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[prefixLen:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Receive reads one complete frame and returns its raw payload bytes.
// It returns io.EOF when the peer closed the connection between frames,
// which callers must treat as a normal disconnect rather than an error.
func Receive(r io.Reader) ([]byte, error) {
	prefix := make([]byte, prefixLen)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short length prefix", ErrTruncated)
		}
		return nil, fmt.Errorf("reading length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: announced %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got fewer than %d payload bytes", ErrTruncated, length)
		}
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return payload, nil
}

// ReceiveInto reads one frame and unmarshals it into v.
func ReceiveInto(r io.Reader, v any) error {
	payload, err := Receive(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}
