package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.lsp.dev/uri"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dshills/lspwire/internal/capability"
	"github.com/dshills/lspwire/internal/document"
	"github.com/dshills/lspwire/internal/protocol"
	"github.com/dshills/lspwire/internal/rpc"
)

// Client is the protocol engine for one logical LSP connection. It
// composes the frame codec, the request registry, the lifecycle state
// machine, the document store, and the capability negotiator behind a
// request/notify API.
//
// The transport is externally supplied; the Client never spawns or
// kills the server process. Multiple Clients may coexist in one
// process, each with its own registries.
type Client struct {
	conn   *rpc.Conn
	lc     lifecycle
	logger *zap.Logger

	// Configuration fixed at construction.
	clientCaps  json.RawMessage
	timeout     time.Duration
	rootPath    string
	folders     []protocol.WorkspaceFolder
	trace       string
	clientInfo  *protocol.ClientInfo
	initOptions any

	started sync.Once

	// Negotiated session state, written once during Initialize.
	mu         sync.RWMutex
	serverCaps json.RawMessage
	serverInfo *protocol.ServerInfo
	caps       capability.EffectiveSet
	docs       *document.Store

	// Diagnostics pushed by the server, keyed by URI.
	diagMu        sync.RWMutex
	diagnostics   map[uri.URI][]protocol.Diagnostic
	onDiagnostics func(uri.URI, []protocol.Diagnostic)

	// Serializes document notifications per URI so frames reach the
	// wire in the order their versions were committed.
	emits docLocks

	// User handlers chained after built-in notification processing.
	notifMu   sync.RWMutex
	notifUser map[string]func(params json.RawMessage)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithClientCapabilities replaces the default capability declaration
// sent in the initialize request.
func WithClientCapabilities(caps json.RawMessage) Option {
	return func(c *Client) {
		c.clientCaps = caps
	}
}

// WithRequestTimeout sets the default per-request deadline. Zero
// disables deadlines; timeout remains opt-in per request either way.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRootPath sets the workspace root sent in the initialize request.
func WithRootPath(path string) Option {
	return func(c *Client) {
		c.rootPath = path
	}
}

// WithWorkspaceFolders sets the workspace folders sent in the
// initialize request.
func WithWorkspaceFolders(folders []protocol.WorkspaceFolder) Option {
	return func(c *Client) {
		c.folders = folders
	}
}

// WithTrace sets the trace level requested from the server
// ("off", "messages", or "verbose").
func WithTrace(level string) Option {
	return func(c *Client) {
		c.trace = level
	}
}

// WithClientInfo identifies this client to the server.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientInfo = &protocol.ClientInfo{Name: name, Version: version}
	}
}

// WithInitializationOptions sets server-specific initialize options.
func WithInitializationOptions(opts any) Option {
	return func(c *Client) {
		c.initOptions = opts
	}
}

// WithDiagnosticsHandler sets a callback invoked whenever the server
// publishes diagnostics for a document.
func WithDiagnosticsHandler(fn func(docURI uri.URI, diags []protocol.Diagnostic)) Option {
	return func(c *Client) {
		c.onDiagnostics = fn
	}
}

// New creates a Client over the given duplex stream. The connection's
// read task starts on the first Initialize call.
func New(rw io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		logger:      zap.NewNop(),
		clientCaps:  protocol.DefaultClientCapabilities(),
		timeout:     30 * time.Second,
		trace:       "off",
		diagnostics: make(map[uri.URI][]protocol.Diagnostic),
		notifUser:   make(map[string]func(json.RawMessage)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.conn = rpc.NewConn(rw,
		rpc.WithLogger(c.logger),
		rpc.WithDefaultTimeout(c.timeout),
		rpc.WithOnClose(c.handleConnClose),
	)
	c.registerBuiltins()
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return c.lc.current()
}

// Initialize performs the LSP handshake: it sends the initialize
// request, negotiates effective capabilities from the response, sends
// the initialized notification, and moves the connection to Running.
// On a failed request the state reverts to Uninitialized so the caller
// may retry on the same connection.
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	if err := c.lc.transition(StateUninitialized, StateInitializing, protocol.MethodInitialize); err != nil {
		return nil, err
	}

	// The read task outlives this call; a deadline on the Initialize
	// ctx must not tear down the whole session later.
	c.started.Do(func() {
		c.conn.Go(context.WithoutCancel(ctx))
	})

	params := protocol.InitializeParams{
		ProcessID:             os.Getpid(),
		ClientInfo:            c.clientInfo,
		Capabilities:          c.clientCaps,
		InitializationOptions: c.initOptions,
		WorkspaceFolders:      c.folders,
		Trace:                 c.trace,
	}
	if c.rootPath != "" {
		params.RootURI = protocol.DocumentURI(uri.File(c.rootPath))
		params.RootPath = c.rootPath
	}

	h, err := c.conn.Call(ctx, protocol.MethodInitialize, params)
	if err != nil {
		c.revertInitialize()
		return nil, fmt.Errorf("initialize request: %w", err)
	}
	raw, err := h.Wait(ctx)
	if err != nil {
		c.revertInitialize()
		return nil, fmt.Errorf("initialize request: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.revertInitialize()
		return nil, fmt.Errorf("initialize result: %w", err)
	}

	// Effective capabilities are computed exactly here, at the
	// Initializing→Running edge, and are read-only afterwards.
	caps := capability.Negotiate(c.clientCaps, result.Capabilities)

	c.mu.Lock()
	c.serverCaps = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.caps = caps
	c.docs = document.NewStore(
		document.WithSyncKind(caps.SyncKind),
		document.WithSaveIncludeText(caps.SaveIncludeText),
		document.WithLogger(c.logger),
	)
	c.mu.Unlock()

	if err := c.conn.Notify(ctx, protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	if err := c.lc.transition(StateInitializing, StateRunning, protocol.MethodInitialized); err != nil {
		// The transport died mid-handshake and forced Stopped.
		return nil, err
	}

	if c.serverInfo != nil {
		c.logger.Debug("connection running",
			zap.String("server", c.serverInfo.Name),
			zap.String("version", c.serverInfo.Version))
	}
	return &result, nil
}

// revertInitialize undoes a failed handshake unless teardown already
// forced Stopped.
func (c *Client) revertInitialize() {
	_ = c.lc.transition(StateInitializing, StateUninitialized, protocol.MethodInitialize)
}

// Shutdown performs the orderly shutdown sequence: shutdown request,
// exit notification, connection close. The state moves through
// ShuttingDown to the terminal Stopped regardless of individual step
// failures; errors are aggregated.
func (c *Client) Shutdown(ctx context.Context) error {
	if c.lc.current() == StateStopped {
		return nil
	}
	if err := c.lc.transition(StateRunning, StateShuttingDown, protocol.MethodShutdown); err != nil {
		return err
	}

	var errs error
	if h, err := c.conn.Call(ctx, protocol.MethodShutdown, nil); err != nil {
		errs = multierr.Append(errs, err)
	} else if _, err := h.Wait(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	if err := c.conn.Notify(ctx, protocol.MethodExit, struct{}{}); err != nil {
		errs = multierr.Append(errs, err)
	}

	c.lc.forceStop()
	errs = multierr.Append(errs, c.conn.Close())
	return errs
}

// Call sends a request and decodes the response into result (which may
// be nil). It blocks until the response, a timeout, a cancellation, or
// connection teardown.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	h, err := c.CallAsync(ctx, method, params)
	if err != nil {
		return err
	}
	raw, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// CallAsync sends a request and returns its handle without waiting.
// The handle may be passed to Cancel.
func (c *Client) CallAsync(ctx context.Context, method string, params any) (*rpc.Handle, error) {
	if err := c.checkPassthrough(method); err != nil {
		return nil, err
	}
	if err := c.lc.guard(method); err != nil {
		return nil, err
	}
	return c.conn.Call(ctx, method, params)
}

// CallWithTimeout is CallAsync with an explicit per-request deadline,
// overriding the client default. Zero disables the deadline.
func (c *Client) CallWithTimeout(ctx context.Context, method string, params any, timeout time.Duration) (*rpc.Handle, error) {
	if err := c.checkPassthrough(method); err != nil {
		return nil, err
	}
	if err := c.lc.guard(method); err != nil {
		return nil, err
	}
	return c.conn.CallWithTimeout(ctx, method, params, timeout)
}

// Notify sends a notification, subject to the lifecycle guard: only
// exit is legal once shutdown has begun.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if err := c.checkPassthrough(method); err != nil {
		return err
	}
	if err := c.lc.guard(method); err != nil {
		return err
	}
	return c.conn.Notify(ctx, method, params)
}

// Cancel resolves the handle locally with a Cancelled outcome and
// notifies the server best-effort.
func (c *Client) Cancel(h *rpc.Handle) {
	c.conn.Cancel(h)
}

// checkPassthrough rejects methods that are driven by dedicated
// engine APIs rather than the generic primitives.
func (c *Client) checkPassthrough(method string) error {
	switch method {
	case protocol.MethodInitialize, protocol.MethodInitialized,
		protocol.MethodShutdown, protocol.MethodExit:
		return fmt.Errorf("method %q is driven by Initialize/Shutdown", method)
	case protocol.MethodDidOpen, protocol.MethodDidChange,
		protocol.MethodWillSave, protocol.MethodWillSaveWaitUntil,
		protocol.MethodDidSave, protocol.MethodDidClose:
		return fmt.Errorf("method %q is driven by the document APIs", method)
	}
	return nil
}

// --- Documents ---

// docLocks hands out one mutex per URI. Holding it across the store
// mutation and the notify keeps a document's frames in version order
// even when callers race.
type docLocks struct {
	mu sync.Mutex
	m  map[uri.URI]*sync.Mutex
}

func (l *docLocks) acquire(u uri.URI) *sync.Mutex {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[uri.URI]*sync.Mutex)
	}
	lk, ok := l.m[u]
	if !ok {
		lk = new(sync.Mutex)
		l.m[u] = lk
	}
	l.mu.Unlock()
	lk.Lock()
	return lk
}

func (l *docLocks) drop(u uri.URI) {
	l.mu.Lock()
	delete(l.m, u)
	l.mu.Unlock()
}

// OpenDocument begins tracking a document at version 1 and notifies
// the server, when open/close notifications were negotiated.
func (c *Client) OpenDocument(ctx context.Context, docURI uri.URI, languageID, text string) error {
	if err := c.lc.guard(protocol.MethodDidOpen); err != nil {
		return err
	}
	docs, caps := c.session()

	lk := c.emits.acquire(docURI)
	defer lk.Unlock()

	params, err := docs.Open(docURI, languageID, text)
	if err != nil {
		return err
	}
	if !caps.OpenClose {
		return nil
	}
	return c.conn.Notify(ctx, protocol.MethodDidOpen, params)
}

// ChangeDocument applies edits at the given version and emits a
// didChange notification. Versions must strictly increase per URI; a
// stale version fails and nothing is sent. When incremental sync was
// not negotiated the notification carries the full document text.
func (c *Client) ChangeDocument(ctx context.Context, docURI uri.URI, version int32, changes []protocol.TextDocumentContentChangeEvent) error {
	if err := c.lc.guard(protocol.MethodDidChange); err != nil {
		return err
	}
	docs, caps := c.session()

	lk := c.emits.acquire(docURI)
	defer lk.Unlock()

	params, err := docs.Change(docURI, version, changes)
	if err != nil {
		return err
	}
	if caps.SyncKind == protocol.TextDocumentSyncKindNone {
		// Local bookkeeping only; the server declined sync.
		return nil
	}
	return c.conn.Notify(ctx, protocol.MethodDidChange, params)
}

// WillSaveDocument announces an imminent save, when the server asked
// for willSave notifications. Without the capability the call is a
// no-op beyond validating that the document is open.
func (c *Client) WillSaveDocument(ctx context.Context, docURI uri.URI, reason protocol.TextDocumentSaveReason) error {
	if err := c.lc.guard(protocol.MethodWillSave); err != nil {
		return err
	}
	docs, caps := c.session()

	params, err := docs.WillSave(docURI, reason)
	if err != nil {
		return err
	}
	if !caps.WillSave {
		return nil
	}
	return c.conn.Notify(ctx, protocol.MethodWillSave, params)
}

// WillSaveWaitUntil asks the server for edits to apply before the
// document is saved. When the capability was not negotiated it returns
// no edits without touching the wire.
func (c *Client) WillSaveWaitUntil(ctx context.Context, docURI uri.URI, reason protocol.TextDocumentSaveReason) ([]protocol.TextEdit, error) {
	if err := c.lc.guard(protocol.MethodWillSaveWaitUntil); err != nil {
		return nil, err
	}
	docs, caps := c.session()

	params, err := docs.WillSave(docURI, reason)
	if err != nil {
		return nil, err
	}
	if !caps.WillSaveWaitUntil {
		return nil, nil
	}

	h, err := c.conn.Call(ctx, protocol.MethodWillSaveWaitUntil, params)
	if err != nil {
		return nil, err
	}
	raw, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var edits []protocol.TextEdit
	if err := json.Unmarshal(raw, &edits); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", protocol.MethodWillSaveWaitUntil, err)
	}
	return edits, nil
}

// SaveDocument emits a didSave notification when negotiated.
func (c *Client) SaveDocument(ctx context.Context, docURI uri.URI) error {
	if err := c.lc.guard(protocol.MethodDidSave); err != nil {
		return err
	}
	docs, caps := c.session()

	lk := c.emits.acquire(docURI)
	defer lk.Unlock()

	params, err := docs.Save(docURI)
	if err != nil {
		return err
	}
	if !caps.Save {
		return nil
	}
	return c.conn.Notify(ctx, protocol.MethodDidSave, params)
}

// CloseDocument stops tracking a document and notifies the server,
// when open/close notifications were negotiated.
func (c *Client) CloseDocument(ctx context.Context, docURI uri.URI) error {
	if err := c.lc.guard(protocol.MethodDidClose); err != nil {
		return err
	}
	docs, caps := c.session()

	lk := c.emits.acquire(docURI)
	defer lk.Unlock()

	params, err := docs.Close(docURI)
	if err != nil {
		return err
	}
	defer c.emits.drop(docURI)

	c.diagMu.Lock()
	delete(c.diagnostics, docURI)
	c.diagMu.Unlock()

	if !caps.OpenClose {
		return nil
	}
	return c.conn.Notify(ctx, protocol.MethodDidClose, params)
}

// Document returns a copy of the tracked state for an open document.
func (c *Client) Document(docURI uri.URI) (document.Document, bool) {
	c.mu.RLock()
	docs := c.docs
	c.mu.RUnlock()
	if docs == nil {
		return document.Document{}, false
	}
	return docs.Get(docURI)
}

// Documents returns the tracked state of every open document.
func (c *Client) Documents() []document.Document {
	c.mu.RLock()
	docs := c.docs
	c.mu.RUnlock()
	if docs == nil {
		return nil
	}
	return docs.All()
}

// --- Session state ---

// Capabilities returns the negotiated effective capability set. The
// zero value is returned before Initialize completes.
func (c *Client) Capabilities() capability.EffectiveSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

// ServerCapabilities returns the server's declared capabilities as raw
// JSON.
func (c *Client) ServerCapabilities() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

// ServerInfo returns the server's self-identification, if it sent one.
func (c *Client) ServerInfo() *protocol.ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// session snapshots the per-session document store and capabilities.
// Callers must have passed the lifecycle guard, which implies
// Initialize populated both.
func (c *Client) session() (*document.Store, capability.EffectiveSet) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs, c.caps
}

// --- Diagnostics ---

// Diagnostics returns the server's current diagnostics for a URI.
func (c *Client) Diagnostics(docURI uri.URI) []protocol.Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	return c.diagnostics[docURI]
}

// AllDiagnostics returns current diagnostics for every URI that has
// any.
func (c *Client) AllDiagnostics() map[uri.URI][]protocol.Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	out := make(map[uri.URI][]protocol.Diagnostic, len(c.diagnostics))
	for u, d := range c.diagnostics {
		out[u] = d
	}
	return out
}

// --- Event subscription ---

// OnNotification registers a handler for a server-initiated
// notification method. At most one handler per method; a later
// registration replaces the earlier one. For methods with built-in
// processing (diagnostics, log messages) the handler runs after the
// built-in bookkeeping.
func (c *Client) OnNotification(method string, fn func(params json.RawMessage)) {
	switch method {
	case protocol.MethodPublishDiagnostics, protocol.MethodLogMessage:
		c.notifMu.Lock()
		c.notifUser[method] = fn
		c.notifMu.Unlock()
	default:
		c.conn.Handle(method, func(_ context.Context, _ string, params json.RawMessage) (any, error) {
			fn(params)
			return nil, nil
		})
	}
}

// OnRequest registers a handler for a server-initiated request method.
// The returned value (or error) becomes the response. Later
// registrations replace earlier ones.
func (c *Client) OnRequest(method string, h rpc.Handler) {
	c.conn.Handle(method, h)
}

// --- Internal plumbing ---

// registerBuiltins wires the inbound methods the engine handles
// itself.
func (c *Client) registerBuiltins() {
	c.conn.Handle(protocol.MethodPublishDiagnostics, func(_ context.Context, _ string, params json.RawMessage) (any, error) {
		var p protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Warn("bad publishDiagnostics payload", zap.Error(err))
			return nil, nil
		}
		docURI := uri.URI(p.URI)

		c.diagMu.Lock()
		if len(p.Diagnostics) == 0 {
			delete(c.diagnostics, docURI)
		} else {
			c.diagnostics[docURI] = p.Diagnostics
		}
		handler := c.onDiagnostics
		c.diagMu.Unlock()

		if handler != nil {
			handler(docURI, p.Diagnostics)
		}
		c.forwardNotification(protocol.MethodPublishDiagnostics, params)
		return nil, nil
	})

	c.conn.Handle(protocol.MethodLogMessage, func(_ context.Context, _ string, params json.RawMessage) (any, error) {
		var p protocol.LogMessageParams
		if err := json.Unmarshal(params, &p); err == nil {
			switch p.Type {
			case protocol.MessageTypeError:
				c.logger.Error("server log", zap.String("message", p.Message))
			case protocol.MessageTypeWarning:
				c.logger.Warn("server log", zap.String("message", p.Message))
			default:
				c.logger.Debug("server log", zap.String("message", p.Message))
			}
		}
		c.forwardNotification(protocol.MethodLogMessage, params)
		return nil, nil
	})

	c.conn.Handle(protocol.MethodWorkspaceFolders, func(context.Context, string, json.RawMessage) (any, error) {
		if len(c.folders) == 0 {
			return nil, nil
		}
		return c.folders, nil
	})

	c.conn.Handle(protocol.MethodConfiguration, func(_ context.Context, _ string, params json.RawMessage) (any, error) {
		// No configuration store in the engine: answer null per item
		// so servers fall back to their defaults.
		var p struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewResponseError(protocol.CodeInvalidParams, "%v", err)
		}
		return make([]any, len(p.Items)), nil
	})

	c.conn.Handle(protocol.MethodRegisterCapability, func(context.Context, string, json.RawMessage) (any, error) {
		// Dynamic registration is acknowledged but not tracked;
		// effective capabilities are fixed at negotiation.
		return nil, nil
	})
}

// forwardNotification chains a built-in method to its user handler.
func (c *Client) forwardNotification(method string, params json.RawMessage) {
	c.notifMu.RLock()
	fn := c.notifUser[method]
	c.notifMu.RUnlock()
	if fn != nil {
		fn(params)
	}
}

// handleConnClose is invoked once when the transport tears down, from
// either direction. Every pending request has already been resolved
// with a ConnectionClosed outcome by the registry.
func (c *Client) handleConnClose(cause error) {
	c.lc.forceStop()
	if cause != nil {
		c.logger.Warn("transport closed", zap.Error(cause))
	} else {
		c.logger.Debug("transport closed")
	}
}
