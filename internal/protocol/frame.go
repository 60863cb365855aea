package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload a 2-byte length prefix can describe.
const MaxFrameSize = 1<<16 - 1

// frameHeaderSize is the size of the length prefix.
const frameHeaderSize = 2

// FramingError describes a frame that could not be read or written in full. On the read side it
// means the stream ended or failed part way through a frame; the connection is considered closed.
type FramingError struct {
	// Expected is the number of bytes the frame (header or payload) called for.
	Expected int
	// Received is the number of bytes actually transferred.
	Received int
	Err      error
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	return fmt.Sprintf(
		"protocol: incomplete frame: expected=%d received=%d err=%v",
		e.Expected,
		e.Received,
		e.Err,
	)
}

// Unwrap returns the underlying I/O error.
func (e *FramingError) Unwrap() error {
	return e.Err
}

// EncodeFrame prefixes payload with its length.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, &FramingError{
			Expected: MaxFrameSize,
			Received: len(payload),
			Err:      errors.New("payload exceeds maximum frame size"),
		}
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	return frame, nil
}

// WriteFrame writes payload to w as a single frame with one Write call, so concurrent writers
// serialized on w never interleave partial frames.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	n, err := w.Write(frame)
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &FramingError{Expected: len(frame), Received: n, Err: err}
	}

	return nil
}

// ReadFrame reads one frame from r and returns its payload. It returns io.EOF if the stream ends
// cleanly, i.e. no byte of the header or of the payload could be read. A stream that ends or
// fails after part of the header or payload has been read yields a *FramingError.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte

	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FramingError{Expected: frameHeaderSize, Received: n, Err: err}
	}

	length := int(binary.BigEndian.Uint16(header[:]))
	payload := make([]byte, length)

	if length == 0 {
		return payload, nil
	}

	n, err = io.ReadFull(r, payload)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FramingError{Expected: length, Received: n, Err: err}
	}

	return payload, nil
}
