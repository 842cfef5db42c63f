package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Envelope{Type: TypePrivate, To: "bob", Content: "hello there"}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	out, err := DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if out.Type != TypePrivate || out.To != "bob" || out.Content != "hello there" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestFrameHeaderShape(t *testing.T) {
	frame, err := EncodeFrame(map[string]string{"type": "login"})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	header := string(frame[:HeaderLength])
	if header != fmt.Sprintf("%-10d", len(frame)-HeaderLength) {
		t.Fatalf("unexpected header %q", header)
	}
	if strings.TrimSpace(header) != fmt.Sprint(len(frame)-HeaderLength) {
		t.Fatalf("header does not declare body length: %q", header)
	}
}

func TestReadFrameAccumulatesPartialReads(t *testing.T) {
	body := strings.Repeat("x", 3*readChunk+17)
	frame := fmt.Sprintf("%-10d%s", len(body), body)

	// Reader that returns at most 100 bytes per call.
	payload, err := ReadFrame(iotest{r: strings.NewReader(frame), max: 100})
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(payload) != body {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(payload), len(body))
	}
}

func TestReadFrameBadHeader(t *testing.T) {
	cases := []string{
		"notanumber",
		"-5        ",
		"          ",
	}
	for _, header := range cases {
		_, err := ReadFrame(strings.NewReader(header + "payload"))
		if !errors.Is(err, ErrBadHeader) {
			t.Fatalf("header %q: expected ErrBadHeader, got %v", header, err)
		}
	}
}

func TestReadFrameTruncated(t *testing.T) {
	// Declares 100 bytes but carries 3.
	_, err := ReadFrame(strings.NewReader("100       abc"))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}

	// Header itself cut short.
	_, err = ReadFrame(strings.NewReader("12"))
	if err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestReadFrameFinalChunkWithEOF(t *testing.T) {
	body := `{"type":"login"}`
	frame := fmt.Sprintf("%-10d%s", len(body), body)

	// The last bytes arrive together with io.EOF instead of on the
	// following call. The frame is complete either way.
	payload, err := ReadFrame(eagerEOF{strings.NewReader(frame)})
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(payload) != body {
		t.Fatalf("payload mismatch: %q", payload)
	}
}

func TestReadFrameOversizedDeclaration(t *testing.T) {
	header := fmt.Sprintf("%-10d", MaxFrameBytes+1)
	_, err := ReadFrame(strings.NewReader(header))
	if !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected ErrBadHeader for oversized declaration, got %v", err)
	}
}

// eagerEOF reports io.EOF alongside the bytes that drain the reader.
type eagerEOF struct {
	r *strings.Reader
}

func (e eagerEOF) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == nil && e.r.Len() == 0 {
		err = io.EOF
	}
	return n, err
}

// iotest caps the size of individual reads to exercise accumulation.
type iotest struct {
	r   io.Reader
	max int
}

func (c iotest) Read(p []byte) (int, error) {
	if len(p) > c.max {
		p = p[:c.max]
	}
	return c.r.Read(p)
}
