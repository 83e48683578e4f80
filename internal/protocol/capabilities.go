package protocol

import (
	json "github.com/goccy/go-json"
)

// defaultClientCapabilities is the capability set declared to servers
// when the caller does not supply its own. It mirrors what a
// full-featured editor front end advertises.
const defaultClientCapabilities = `{
  "textDocument": {
    "synchronization": {
      "dynamicRegistration": true,
      "willSave": true,
      "willSaveWaitUntil": true,
      "didSave": true
    },
    "publishDiagnostics": {
      "relatedInformation": true
    },
    "completion": {
      "dynamicRegistration": true,
      "completionItem": {"snippetSupport": false},
      "contextSupport": true
    },
    "hover": {
      "dynamicRegistration": true,
      "contentFormat": ["markdown", "plaintext"]
    },
    "signatureHelp": {
      "dynamicRegistration": true,
      "signatureInformation": {
        "documentationFormat": ["markdown", "plaintext"]
      }
    },
    "definition": {"dynamicRegistration": true, "linkSupport": true},
    "typeDefinition": {"dynamicRegistration": true, "linkSupport": true},
    "declaration": {"dynamicRegistration": true, "linkSupport": true},
    "implementation": {"dynamicRegistration": true, "linkSupport": true},
    "references": {"dynamicRegistration": true},
    "documentHighlight": {"dynamicRegistration": true},
    "documentSymbol": {
      "dynamicRegistration": true,
      "hierarchicalDocumentSymbolSupport": true
    },
    "codeAction": {"dynamicRegistration": true},
    "formatting": {"dynamicRegistration": true},
    "rangeFormatting": {"dynamicRegistration": true},
    "rename": {"dynamicRegistration": true}
  },
  "window": {
    "showMessage": {},
    "workDoneProgress": true
  },
  "workspace": {
    "symbol": {"dynamicRegistration": true},
    "workspaceFolders": true,
    "configuration": true,
    "didChangeConfiguration": {"dynamicRegistration": true}
  }
}`

// DefaultClientCapabilities returns a fresh copy of the default client
// capability declaration.
func DefaultClientCapabilities() json.RawMessage {
	return json.RawMessage(defaultClientCapabilities)
}
