package protocol

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Version is the JSON-RPC protocol version carried by every message.
const Version = "2.0"

// idKind discriminates the wire representation of an ID.
type idKind uint8

const (
	idNone idKind = iota
	idNumber
	idString
)

// ID is a JSON-RPC correlation id: a number or a string.
// The zero value means "no id" and is how notifications are told apart
// from requests on the wire.
type ID struct {
	number int64
	name   string
	kind   idKind
}

// NumberID returns a numeric ID.
func NumberID(n int64) ID {
	return ID{number: n, kind: idNumber}
}

// StringID returns a string ID.
func StringID(s string) ID {
	return ID{name: s, kind: idString}
}

// IsZero reports whether the ID is absent.
func (id ID) IsZero() bool {
	return id.kind == idNone
}

// Number returns the numeric value and whether the ID is numeric.
func (id ID) Number() (int64, bool) {
	return id.number, id.kind == idNumber
}

// String returns a human-readable form for logging.
func (id ID) String() string {
	switch id.kind {
	case idNumber:
		return fmt.Sprintf("%d", id.number)
	case idString:
		return fmt.Sprintf("%q", id.name)
	default:
		return "<none>"
	}
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idNumber:
		return json.Marshal(id.number)
	case idString:
		return json.Marshal(id.name)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = NumberID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = StringID(s)
		return nil
	}
	return fmt.Errorf("id must be a number or a string, got %s", data)
}

// Message is one JSON-RPC message: *Request, *Response, or *Notification.
type Message interface {
	isMessage()
}

// Request is a call that expects exactly one Response with the same ID.
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

// Notification is a one-way message with no response.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Response carries the outcome of a Request. Exactly one of Result or
// Error is meaningful.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *ResponseError
}

func (*Request) isMessage()      {}
func (*Notification) isMessage() {}
func (*Response) isMessage()     {}

// wireMessage is the superset shape used for encoding and decoding.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// EncodeMessage serializes a message to its JSON-RPC wire form.
func EncodeMessage(m Message) ([]byte, error) {
	w := wireMessage{JSONRPC: Version}
	switch msg := m.(type) {
	case *Request:
		if msg.ID.IsZero() {
			return nil, fmt.Errorf("request %q has no id", msg.Method)
		}
		if msg.Method == "" {
			return nil, fmt.Errorf("request %s has no method", msg.ID)
		}
		id := msg.ID
		w.ID = &id
		w.Method = msg.Method
		w.Params = msg.Params
	case *Notification:
		if msg.Method == "" {
			return nil, fmt.Errorf("notification has no method")
		}
		w.Method = msg.Method
		w.Params = msg.Params
	case *Response:
		if msg.ID.IsZero() {
			return nil, fmt.Errorf("response has no id")
		}
		id := msg.ID
		w.ID = &id
		w.Error = msg.Error
		if msg.Error == nil {
			w.Result = msg.Result
			if w.Result == nil {
				// A success response must carry a result member.
				w.Result = json.RawMessage("null")
			}
		}
	default:
		return nil, fmt.Errorf("unknown message type %T", m)
	}
	return json.Marshal(&w)
}

// DecodeMessage parses a JSON-RPC message body and classifies it.
// It returns an error for invalid JSON, a missing or wrong "jsonrpc"
// version, or a body that satisfies none of the three message shapes.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if w.JSONRPC != Version {
		return nil, fmt.Errorf("missing or unsupported jsonrpc version %q", w.JSONRPC)
	}

	switch {
	case w.Method != "" && w.ID != nil:
		return &Request{ID: *w.ID, Method: w.Method, Params: w.Params}, nil
	case w.Method != "":
		return &Notification{Method: w.Method, Params: w.Params}, nil
	case w.ID != nil && (w.Result != nil || w.Error != nil):
		return &Response{ID: *w.ID, Result: w.Result, Error: w.Error}, nil
	default:
		return nil, fmt.Errorf("body is not a request, response, or notification")
	}
}
