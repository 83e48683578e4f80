package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/lspwire/internal/protocol"
)

// maxBadFrames is how many consecutive undecodable frames the read
// loop tolerates before declaring the stream unrecoverable.
const maxBadFrames = 5

// Handler processes an inbound server-initiated message. For requests
// the returned value (or error) becomes the response; for
// notifications both are ignored.
type Handler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Conn is one JSON-RPC connection over a duplex byte stream. The
// stream is externally supplied; Conn never spawns or kills the
// process behind it.
type Conn struct {
	reader *Reader
	writer *Writer
	closer io.Closer

	reg *registry

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	logger         *zap.Logger
	defaultTimeout time.Duration
	onClose        func(err error)
	onProtoErr     func(*ProtocolError)

	group     *errgroup.Group
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the connection logger.
func WithLogger(l *zap.Logger) ConnOption {
	return func(c *Conn) {
		c.logger = l
	}
}

// WithDefaultTimeout sets the deadline applied to Call when the caller
// does not choose one explicitly. Zero means no deadline.
func WithDefaultTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		c.defaultTimeout = d
	}
}

// WithOnClose sets a hook invoked once when the connection tears down.
// The argument is the transport error that caused teardown, or nil for
// a local Close.
func WithOnClose(fn func(err error)) ConnOption {
	return func(c *Conn) {
		c.onClose = fn
	}
}

// WithProtocolErrorHandler sets a hook invoked for non-fatal protocol
// anomalies (malformed bodies, responses with unknown ids). Useful for
// observability; the connection keeps running.
func WithProtocolErrorHandler(fn func(*ProtocolError)) ConnOption {
	return func(c *Conn) {
		c.onProtoErr = fn
	}
}

// NewConn creates a connection over the given stream. Call Go to start
// the read loop.
func NewConn(rw io.ReadWriteCloser, opts ...ConnOption) *Conn {
	c := &Conn{
		reader:   NewReader(rw),
		writer:   NewWriter(rw),
		closer:   rw,
		reg:      newRegistry(),
		handlers: make(map[string]Handler),
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Go starts the dedicated read goroutine.
func (c *Conn) Go(ctx context.Context) {
	c.group, ctx = errgroup.WithContext(ctx)
	c.group.Go(func() error {
		return c.readLoop(ctx)
	})
}

// Wait blocks until the read loop exits and returns its error, if any.
func (c *Conn) Wait() error {
	if c.group == nil {
		return nil
	}
	return c.group.Wait()
}

// Call sends a request and returns a handle that resolves when the
// response arrives. The connection's default timeout applies.
func (c *Conn) Call(ctx context.Context, method string, params any) (*Handle, error) {
	return c.CallWithTimeout(ctx, method, params, c.defaultTimeout)
}

// CallWithTimeout sends a request with an explicit deadline. A zero
// timeout disables the deadline.
func (c *Conn) CallWithTimeout(ctx context.Context, method string, params any, timeout time.Duration) (*Handle, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	h, err := c.reg.register(method, timeout, func(h *Handle) {
		c.logger.Debug("request timed out",
			zap.String("method", h.Method()),
			zap.String("id", h.ID().String()))
	})
	if err != nil {
		return nil, err
	}

	req := &protocol.Request{ID: h.ID(), Method: method, Params: raw}
	if err := c.writer.Write(req); err != nil {
		c.reg.fail(h.ID(), err)
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}
	return h, nil
}

// Notify sends a notification. No response is expected.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	if err := c.writer.Write(&protocol.Notification{Method: method, Params: raw}); err != nil {
		return fmt.Errorf("send %s notification: %w", method, err)
	}
	return nil
}

// Cancel resolves h locally with ErrCancelled and tells the peer with
// a best-effort $/cancelRequest. Local resolution is authoritative; a
// failed peer notification does not affect the outcome.
func (c *Conn) Cancel(h *Handle) {
	if !c.reg.fail(h.ID(), ErrCancelled) {
		return // already resolved
	}
	if err := c.Notify(context.Background(), protocol.MethodCancelRequest, protocol.CancelParams{ID: h.ID()}); err != nil {
		c.logger.Debug("cancel notification not delivered",
			zap.String("id", h.ID().String()), zap.Error(err))
	}
}

// Handle registers a handler for a server-initiated method. At most
// one handler per method; a later registration replaces the earlier
// one. The method "*" catches everything not otherwise handled.
func (c *Conn) Handle(method string, h Handler) {
	c.handlerMu.Lock()
	c.handlers[method] = h
	c.handlerMu.Unlock()
}

// Pending returns the number of in-flight requests.
func (c *Conn) Pending() int {
	return c.reg.size()
}

// IsClosed reports whether the connection has been torn down.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Close tears down the connection: every pending request resolves with
// ErrConnClosed and the underlying stream is closed.
func (c *Conn) Close() error {
	c.teardown(nil)
	return c.closeErr
}

// teardown runs exactly once. cause is the transport error that forced
// teardown, nil for a local Close.
func (c *Conn) teardown(cause error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.reg.failAll(ErrConnClosed)
		if c.closer != nil {
			c.closeErr = c.closer.Close()
		}
		if cause != nil {
			c.logger.Warn("connection torn down", zap.Error(cause))
		}
		if c.onClose != nil {
			c.onClose(cause)
		}
	})
}

// readLoop continuously decodes frames and dispatches them until the
// stream fails or the connection closes.
func (c *Conn) readLoop(ctx context.Context) error {
	badFrames := 0
	for {
		select {
		case <-ctx.Done():
			c.teardown(ctx.Err())
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		msg, err := c.reader.Read()
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) && !perr.Fatal {
				badFrames++
				c.observe(perr)
				if badFrames < maxBadFrames {
					continue
				}
				err = &ProtocolError{Reason: "too many consecutive malformed frames", Fatal: true, Err: perr}
			}
			if c.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				c.teardown(err)
				return nil
			}
			c.teardown(err)
			return err
		}
		badFrames = 0
		c.dispatch(ctx, msg)
	}
}

// dispatch routes one inbound message.
func (c *Conn) dispatch(ctx context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Response:
		if !c.reg.resolve(m.ID, m.Result, m.Error) {
			c.observe(&ProtocolError{Reason: fmt.Sprintf("response with unknown id %s", m.ID)})
		}
	case *protocol.Notification:
		if h := c.handler(m.Method); h != nil {
			// Handlers run off the read loop so a slow consumer
			// cannot stall response delivery.
			go func() {
				_, _ = h(ctx, m.Method, m.Params)
			}()
		} else {
			c.logger.Debug("unhandled notification", zap.String("method", m.Method))
		}
	case *protocol.Request:
		go c.serveRequest(ctx, m)
	}
}

// serveRequest answers a server-initiated request.
func (c *Conn) serveRequest(ctx context.Context, req *protocol.Request) {
	h := c.handler(req.Method)
	if h == nil {
		c.respond(req.ID, nil, protocol.NewResponseError(protocol.CodeMethodNotFound, "method %q not handled", req.Method))
		return
	}

	result, err := h(ctx, req.Method, req.Params)
	if err != nil {
		var respErr *protocol.ResponseError
		if !errors.As(err, &respErr) {
			respErr = protocol.NewResponseError(protocol.CodeInternalError, "%v", err)
		}
		c.respond(req.ID, nil, respErr)
		return
	}
	c.respond(req.ID, result, nil)
}

// respond writes a response frame for a server-initiated request.
func (c *Conn) respond(id protocol.ID, result any, respErr *protocol.ResponseError) {
	resp := &protocol.Response{ID: id, Error: respErr}
	if respErr == nil {
		raw, err := marshalParams(result)
		if err != nil {
			resp.Error = protocol.NewResponseError(protocol.CodeInternalError, "marshal result: %v", err)
		} else {
			resp.Result = raw
		}
	}
	if err := c.writer.Write(resp); err != nil {
		c.logger.Warn("response not delivered", zap.String("id", id.String()), zap.Error(err))
	}
}

// handler looks up the handler for method, falling back to "*".
func (c *Conn) handler(method string) Handler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	if h, ok := c.handlers[method]; ok {
		return h
	}
	return c.handlers["*"]
}

// observe surfaces a non-fatal protocol anomaly.
func (c *Conn) observe(perr *ProtocolError) {
	c.logger.Warn("protocol anomaly", zap.Error(perr))
	if c.onProtoErr != nil {
		c.onProtoErr(perr)
	}
}

// marshalParams converts params to raw JSON. nil params are omitted;
// raw JSON passes through untouched.
func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(params)
	}
}
