package rpc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/lspwire/internal/protocol"
)

// maxContentLength bounds a single frame body. Anything larger is
// treated as framing corruption rather than a legitimate message.
const maxContentLength = 128 << 20

// Reader decodes length-prefixed JSON-RPC frames from a byte stream.
// It buffers internally, so a frame split across transport reads is
// reassembled before being decoded.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a frame reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Read blocks until one complete frame is available and returns the
// decoded message. I/O errors from the underlying stream are returned
// as-is. Framing problems are returned as *ProtocolError: fatal when
// the header is malformed (the stream position is no longer known),
// non-fatal when a fully-consumed body fails to decode.
func (r *Reader) Read() (protocol.Message, error) {
	length := -1
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed header line %q", line), Fatal: true}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "content-length":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, &ProtocolError{Reason: fmt.Sprintf("invalid Content-Length %q", strings.TrimSpace(value)), Fatal: true}
			}
			length = n
		case "content-type":
			// Accepted and ignored; the body is always UTF-8 JSON.
		default:
			// Unknown headers are ignored per the base protocol.
		}
	}

	if length < 0 {
		return nil, &ProtocolError{Reason: "missing Content-Length header", Fatal: true}
	}
	if length > maxContentLength {
		return nil, &ProtocolError{Reason: fmt.Sprintf("Content-Length %d exceeds limit", length), Fatal: true}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r.br, body); err != nil {
		return nil, err
	}

	msg, err := protocol.DecodeMessage(body)
	if err != nil {
		// The frame was fully consumed, so the stream is still in sync.
		return nil, &ProtocolError{Reason: "undecodable frame body", Err: err}
	}
	return msg, nil
}

// Writer encodes messages as length-prefixed frames. Writes are
// serialized by an internal mutex so concurrent senders never
// interleave header and body bytes.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a frame writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes msg and writes one complete frame.
func (fw *Writer) Write(msg protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fmt.Fprintf(fw.w, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}
