package protocol

// Lifecycle methods. These are the only requests and notifications the
// engine gates on connection state.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"
)

// Document synchronization methods tracked by the document store.
const (
	MethodDidOpen           = "textDocument/didOpen"
	MethodDidChange         = "textDocument/didChange"
	MethodWillSave          = "textDocument/willSave"
	MethodWillSaveWaitUntil = "textDocument/willSaveWaitUntil"
	MethodDidSave           = "textDocument/didSave"
	MethodDidClose          = "textDocument/didClose"
)

// Protocol-level notifications.
const (
	MethodCancelRequest = "$/cancelRequest"
	MethodProgress      = "$/progress"
)

// Common server-initiated methods. The engine handles diagnostics and
// log messages itself; the rest dispatch to registered handlers.
const (
	MethodPublishDiagnostics     = "textDocument/publishDiagnostics"
	MethodLogMessage             = "window/logMessage"
	MethodShowMessage            = "window/showMessage"
	MethodShowMessageRequest     = "window/showMessageRequest"
	MethodWorkspaceFolders       = "workspace/workspaceFolders"
	MethodConfiguration          = "workspace/configuration"
	MethodRegisterCapability     = "client/registerCapability"
	MethodWorkDoneProgressCreate = "window/workDoneProgress/create"
)
