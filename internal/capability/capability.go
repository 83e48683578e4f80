// Package capability merges client-declared and server-declared LSP
// capabilities into one effective feature set.
//
// Negotiation happens exactly once, at the Initializing→Running edge of
// the connection lifecycle. The result is an immutable value that
// downstream components consult instead of re-checking raw capability
// JSON at every call site.
package capability

import (
	"github.com/tidwall/gjson"

	"github.com/dshills/lspwire/internal/protocol"
)

// EffectiveSet is the negotiated feature set for one session. Fields
// are fixed after Negotiate returns; re-negotiation mid-connection is
// not part of the protocol.
type EffectiveSet struct {
	// Document synchronization. SyncKind and its satellites follow the
	// server declaration alone; the client has no per-kind declaration.
	SyncKind          protocol.TextDocumentSyncKind
	OpenClose         bool
	Save              bool
	SaveIncludeText   bool
	WillSave          bool
	WillSaveWaitUntil bool

	// Features requiring declaration by both sides.
	Completion         bool
	CompletionResolve  bool
	CompletionTriggers []string
	Hover              bool
	SignatureHelp      bool
	SignatureTriggers  []string
	Definition         bool
	TypeDefinition     bool
	Declaration        bool
	Implementation     bool
	References         bool
	DocumentHighlight  bool
	DocumentSymbol     bool
	WorkspaceSymbol    bool
	CodeAction         bool
	Formatting         bool
	RangeFormatting    bool
	Rename             bool
	RenamePrepare      bool

	// Diagnostics push is gated only on the client declaring interest.
	PublishDiagnostics    bool
	DiagnosticRelatedInfo bool

	// Workspace features.
	WorkspaceFolders bool
	Configuration    bool
}

// Incremental reports whether ranged didChange events may be sent.
func (e EffectiveSet) Incremental() bool {
	return e.SyncKind == protocol.TextDocumentSyncKindIncremental
}

// Negotiate computes the effective capabilities from the two declared
// sets. It is a pure function: identical inputs always produce an
// identical EffectiveSet.
//
// A feature is enabled only when both sides declare it, except
// features with no client-side declaration requirement (document sync
// behavior, trigger characters), which follow the server alone.
func Negotiate(clientCaps, serverCaps []byte) EffectiveSet {
	client := gjson.ParseBytes(clientCaps)
	server := gjson.ParseBytes(serverCaps)

	both := func(clientPath, serverPath string) bool {
		return client.Get(clientPath).Exists() && enabled(server.Get(serverPath))
	}

	e := EffectiveSet{
		Completion:        both("textDocument.completion", "completionProvider"),
		Hover:             both("textDocument.hover", "hoverProvider"),
		SignatureHelp:     both("textDocument.signatureHelp", "signatureHelpProvider"),
		Definition:        both("textDocument.definition", "definitionProvider"),
		TypeDefinition:    both("textDocument.typeDefinition", "typeDefinitionProvider"),
		Declaration:       both("textDocument.declaration", "declarationProvider"),
		Implementation:    both("textDocument.implementation", "implementationProvider"),
		References:        both("textDocument.references", "referencesProvider"),
		DocumentHighlight: both("textDocument.documentHighlight", "documentHighlightProvider"),
		DocumentSymbol:    both("textDocument.documentSymbol", "documentSymbolProvider"),
		WorkspaceSymbol:   both("workspace.symbol", "workspaceSymbolProvider"),
		CodeAction:        both("textDocument.codeAction", "codeActionProvider"),
		Formatting:        both("textDocument.formatting", "documentFormattingProvider"),
		RangeFormatting:   both("textDocument.rangeFormatting", "documentRangeFormattingProvider"),
		Rename:            both("textDocument.rename", "renameProvider"),

		PublishDiagnostics:    client.Get("textDocument.publishDiagnostics").Exists(),
		DiagnosticRelatedInfo: client.Get("textDocument.publishDiagnostics.relatedInformation").Bool(),

		WorkspaceFolders: client.Get("workspace.workspaceFolders").Bool() &&
			server.Get("workspace.workspaceFolders.supported").Bool(),
		Configuration: client.Get("workspace.configuration").Bool(),
	}

	if e.Completion {
		e.CompletionResolve = server.Get("completionProvider.resolveProvider").Bool()
		e.CompletionTriggers = stringSlice(server.Get("completionProvider.triggerCharacters"))
	}
	if e.SignatureHelp {
		e.SignatureTriggers = stringSlice(server.Get("signatureHelpProvider.triggerCharacters"))
	}
	if e.Rename {
		e.RenamePrepare = client.Get("textDocument.rename.prepareSupport").Bool() &&
			server.Get("renameProvider.prepareProvider").Bool()
	}

	negotiateSync(&e, server.Get("textDocumentSync"))
	return e
}

// negotiateSync interprets the server's textDocumentSync declaration,
// which may be a bare sync-kind number or an options object.
func negotiateSync(e *EffectiveSet, sync gjson.Result) {
	switch sync.Type {
	case gjson.Number:
		e.SyncKind = clampSyncKind(sync.Int())
		e.OpenClose = e.SyncKind != protocol.TextDocumentSyncKindNone
	case gjson.JSON:
		e.SyncKind = clampSyncKind(sync.Get("change").Int())
		e.OpenClose = sync.Get("openClose").Bool()
		e.WillSave = sync.Get("willSave").Bool()
		e.WillSaveWaitUntil = sync.Get("willSaveWaitUntil").Bool()
		save := sync.Get("save")
		switch {
		case save.Type == gjson.True:
			e.Save = true
		case save.IsObject():
			e.Save = true
			e.SaveIncludeText = save.Get("includeText").Bool()
		}
	default:
		// Absent or malformed: no document sync at all.
		e.SyncKind = protocol.TextDocumentSyncKindNone
	}
}

// clampSyncKind maps arbitrary numbers onto the three known kinds.
// Anything out of range degrades to full sync, the conservative choice
// that keeps the server's view consistent.
func clampSyncKind(n int64) protocol.TextDocumentSyncKind {
	switch protocol.TextDocumentSyncKind(n) {
	case protocol.TextDocumentSyncKindNone:
		return protocol.TextDocumentSyncKindNone
	case protocol.TextDocumentSyncKindIncremental:
		return protocol.TextDocumentSyncKindIncremental
	default:
		return protocol.TextDocumentSyncKindFull
	}
}

// enabled interprets a server provider declaration, which may be a
// bool or an options object.
func enabled(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.JSON:
		return v.IsObject() || v.IsArray()
	default:
		return false
	}
}

// stringSlice converts a JSON string array result.
func stringSlice(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	arr := v.Array()
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		out = append(out, item.String())
	}
	return out
}
