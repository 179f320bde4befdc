// Package wire implements the brokerage protocol's framing primitives:
// every message is sent as one or two independent length-prefixed
// chunks over a raw TCP stream, little-endian throughout, with no
// compression and no encryption.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Sentinel errors, matching the taxonomy in the specification's error
// handling design. Callers use errors.Is against these.
var (
	// ErrCorruptFrame is returned when a declared size or flag is
	// inconsistent with what was actually read.
	ErrCorruptFrame = errors.New("wire: corrupt frame")
	// ErrUnknownMessage is returned when a header names a message type
	// the codec does not recognize at all (not even to skip).
	ErrUnknownMessage = errors.New("wire: unknown message type")
)

// MaxChunkSize bounds a single length-prefixed chunk to guard against a
// corrupt or hostile length prefix causing an unbounded allocation.
// Payloads (file transfer, worker list) are expected to stay well under
// this; it exists purely as a sanity ceiling.
const MaxChunkSize = 64 << 20 // 64 MiB

// WriteChunk writes a single length-prefixed chunk: a 4-byte
// little-endian length followed by the raw bytes.
func WriteChunk(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write chunk body: %w", err)
	}
	return nil
}

// ReadChunk reads a single length-prefixed chunk written by WriteChunk.
func ReadChunk(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxChunkSize {
		return nil, fmt.Errorf("%w: chunk length %d exceeds maximum", ErrCorruptFrame, n)
	}
	if n == 0 {
		return nil, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: read chunk body: %w", err)
	}
	return body, nil
}

// SendMessage writes a fixed-size message body as a single framed
// chunk. Used when the message declares has_payload=false.
func SendMessage(w io.Writer, body []byte) error {
	return WriteChunk(w, body)
}

// SendMessageWithPayload writes the fixed-size body as one chunk
// followed immediately by the payload as a second, independent chunk.
// Used when the message declares has_payload=true.
func SendMessageWithPayload(w io.Writer, body, payload []byte) error {
	if err := WriteChunk(w, body); err != nil {
		return err
	}
	return WriteChunk(w, payload)
}

// Reader wraps a buffered reader for convenient repeated ReadChunk
// calls on a connection's read loop.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r in a buffered reader sized for typical brokerage
// traffic (small headers, occasional worker-list payloads).
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// ReadChunk reads the next length-prefixed chunk.
func (rd *Reader) ReadChunk() ([]byte, error) {
	return ReadChunk(rd.br)
}

// AppendString encodes a string as { u32 length; raw bytes }, the
// format used for strings packed into payload streams.
func AppendString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

// AppendUint32 appends a little-endian u32.
func AppendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// StringReader reads length-prefixed strings and integers packed
// tightly into a payload buffer, tracking an offset across calls.
type StringReader struct {
	buf []byte
	off int
}

// NewStringReader creates a reader over a payload buffer.
func NewStringReader(buf []byte) *StringReader {
	return &StringReader{buf: buf}
}

// ReadString reads one { u32 length; raw bytes } string.
func (r *StringReader) ReadString() (string, error) {
	if r.off+4 > len(r.buf) {
		return "", fmt.Errorf("%w: truncated string length", ErrCorruptFrame)
	}
	n := binary.LittleEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	if uint64(r.off)+uint64(n) > uint64(len(r.buf)) {
		return "", fmt.Errorf("%w: truncated string body", ErrCorruptFrame)
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

// ReadUint32 reads one little-endian u32.
func (r *StringReader) ReadUint32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated uint32", ErrCorruptFrame)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

// Remaining returns the number of unread bytes.
func (r *StringReader) Remaining() int {
	return len(r.buf) - r.off
}

// ExpectExhausted returns ErrCorruptFrame if any bytes remain unread;
// per the specification, a MsgWorkerList payload declaring count==N
// must consume the payload fully.
func (r *StringReader) ExpectExhausted() error {
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes in payload", ErrCorruptFrame, r.Remaining())
	}
	return nil
}
