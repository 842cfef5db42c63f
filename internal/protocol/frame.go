// Package protocol implements the relay wire format: each frame is a 10-byte
// ASCII decimal length header, left-justified and space-padded, followed by
// exactly that many bytes of UTF-8 JSON.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// HeaderLength is the fixed size of the frame length header.
	HeaderLength = 10
	// readChunk bounds how many payload bytes a single read may return.
	readChunk = 4096
	// MaxFrameBytes rejects headers that declare an absurd payload before any
	// allocation happens. Group file transfers are base64 blobs, so the cap is
	// generous.
	MaxFrameBytes = 64 << 20
)

// ErrBadHeader reports a header that is not a well-formed decimal length.
var ErrBadHeader = errors.New("malformed frame header")

// EncodeFrame marshals v and prepends the length header. The result is meant
// to be written with a single Write call.
func EncodeFrame(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	frame := make([]byte, 0, HeaderLength+len(body))
	frame = append(frame, []byte(fmt.Sprintf("%-*d", HeaderLength, len(body)))...)
	frame = append(frame, body...)
	return frame, nil
}

// WriteFrame encodes v and writes header+payload as one write.
func WriteFrame(w io.Writer, v any) error {
	frame, err := EncodeFrame(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame blocks for a full header, parses the declared length, and
// accumulates payload bytes across repeated partial reads until the frame is
// complete. Short reads and non-numeric headers are returned as errors; the
// caller treats every error as a disconnect, no resynchronization is
// attempted.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length, err := strconv.Atoi(strings.TrimSpace(string(header)))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadHeader, string(header))
	}
	if length > MaxFrameBytes {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrBadHeader, length)
	}

	payload := make([]byte, 0, length)
	buf := make([]byte, readChunk)
	for len(payload) < length {
		want := length - len(payload)
		if want > readChunk {
			want = readChunk
		}
		n, err := r.Read(buf[:want])
		payload = append(payload, buf[:n]...)
		// An error delivered alongside the final chunk does not truncate
		// the frame.
		if err != nil && len(payload) < length {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return payload, nil
}
