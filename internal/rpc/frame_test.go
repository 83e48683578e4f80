package rpc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/dshills/lspwire/internal/protocol"
)

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func TestReader_SingleFrame(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"initialized","params":{}}`
	r := NewReader(strings.NewReader(frame(body)))

	msg, err := r.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	n, ok := msg.(*protocol.Notification)
	if !ok {
		t.Fatalf("Read() = %T, want *Notification", msg)
	}
	if n.Method != "initialized" {
		t.Errorf("Method = %q", n.Method)
	}

	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("second Read() error = %v, want EOF", err)
	}
}

func TestReader_BackToBackFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(frame(`{"jsonrpc":"2.0","id":1,"result":null}`))
	buf.WriteString(frame(`{"jsonrpc":"2.0","id":2,"result":null}`))
	r := NewReader(&buf)

	for want := int64(1); want <= 2; want++ {
		msg, err := r.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		resp, ok := msg.(*protocol.Response)
		if !ok {
			t.Fatalf("Read() = %T, want *Response", msg)
		}
		if resp.ID != protocol.NumberID(want) {
			t.Errorf("ID = %s, want %d", resp.ID, want)
		}
	}
}

func TestReader_ExtraHeadersIgnored(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"x"}`
	raw := fmt.Sprintf(
		"Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nContent-Length: %d\r\nX-Custom: y\r\n\r\n%s",
		len(body), body)

	msg, err := NewReader(strings.NewReader(raw)).Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if _, ok := msg.(*protocol.Notification); !ok {
		t.Errorf("Read() = %T, want *Notification", msg)
	}
}

func TestReader_ChunkedDelivery(t *testing.T) {
	raw := frame(`{"jsonrpc":"2.0","method":"x"}`)
	pr, pw := io.Pipe()

	go func() {
		// Drip the frame a few bytes at a time.
		for i := 0; i < len(raw); i += 7 {
			end := i + 7
			if end > len(raw) {
				end = len(raw)
			}
			pw.Write([]byte(raw[i:end]))
		}
		pw.Close()
	}()

	msg, err := NewReader(pr).Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if _, ok := msg.(*protocol.Notification); !ok {
		t.Errorf("Read() = %T, want *Notification", msg)
	}
}

func TestReader_FatalErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no colon in header", "Content-Length 10\r\n\r\n0123456789"},
		{"missing content length", "Content-Type: application/json\r\n\r\n{}"},
		{"negative content length", "Content-Length: -5\r\n\r\n"},
		{"non numeric content length", "Content-Length: ten\r\n\r\n"},
		{"oversized content length", "Content-Length: 999999999999\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.raw)).Read()
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("Read() error = %v, want *ProtocolError", err)
			}
			if !perr.Fatal {
				t.Errorf("ProtocolError.Fatal = false, want true: %v", perr)
			}
		})
	}
}

func TestReader_BadBodyIsRecoverable(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(frame(`{not json`))
	buf.WriteString(frame(`{"jsonrpc":"2.0","method":"after"}`))
	r := NewReader(&buf)

	_, err := r.Read()
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("Read() error = %v, want *ProtocolError", err)
	}
	if perr.Fatal {
		t.Fatalf("ProtocolError.Fatal = true, want recoverable: %v", perr)
	}

	// The bad frame was fully consumed; the next one decodes cleanly.
	msg, err := r.Read()
	if err != nil {
		t.Fatalf("Read() after bad body error = %v", err)
	}
	n, ok := msg.(*protocol.Notification)
	if !ok || n.Method != "after" {
		t.Errorf("Read() = %#v, want notification %q", msg, "after")
	}
}

func TestReader_TruncatedBody(t *testing.T) {
	raw := "Content-Length: 50\r\n\r\n{\"jsonrpc\":\"2.0\""
	_, err := NewReader(strings.NewReader(raw)).Read()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Read() error = %v, want ErrUnexpectedEOF", err)
	}
}

func TestWriter_FrameFormat(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.Write(&protocol.Notification{Method: "initialized", Params: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := buf.String()
	header, body, ok := strings.Cut(out, "\r\n\r\n")
	if !ok {
		t.Fatalf("no header separator in %q", out)
	}
	var length int
	if _, err := fmt.Sscanf(header, "Content-Length: %d", &length); err != nil {
		t.Fatalf("bad header %q: %v", header, err)
	}
	if length != len(body) {
		t.Errorf("Content-Length = %d, body is %d bytes", length, len(body))
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	req := &protocol.Request{ID: protocol.NumberID(7), Method: "shutdown"}
	if err := w.Write(req); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	msg, err := NewReader(&buf).Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got, ok := msg.(*protocol.Request)
	if !ok {
		t.Fatalf("Read() = %T, want *Request", msg)
	}
	if got.ID != req.ID || got.Method != req.Method {
		t.Errorf("round trip = %+v, want %+v", got, req)
	}
}
