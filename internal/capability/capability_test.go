package capability

import (
	"reflect"
	"testing"

	"github.com/dshills/lspwire/internal/protocol"
)

func TestNegotiate_Conjunction(t *testing.T) {
	tests := []struct {
		name       string
		clientCaps string
		serverCaps string
		check      func(t *testing.T, e EffectiveSet)
	}{
		{
			name:       "both declare hover",
			clientCaps: `{"textDocument":{"hover":{}}}`,
			serverCaps: `{"hoverProvider":true}`,
			check: func(t *testing.T, e EffectiveSet) {
				if !e.Hover {
					t.Error("Hover = false, want true")
				}
			},
		},
		{
			name:       "server only hover",
			clientCaps: `{"textDocument":{}}`,
			serverCaps: `{"hoverProvider":true}`,
			check: func(t *testing.T, e EffectiveSet) {
				if e.Hover {
					t.Error("Hover = true, want false")
				}
			},
		},
		{
			name:       "client only hover",
			clientCaps: `{"textDocument":{"hover":{}}}`,
			serverCaps: `{}`,
			check: func(t *testing.T, e EffectiveSet) {
				if e.Hover {
					t.Error("Hover = true, want false")
				}
			},
		},
		{
			name:       "provider as options object",
			clientCaps: `{"textDocument":{"codeAction":{}}}`,
			serverCaps: `{"codeActionProvider":{"codeActionKinds":["quickfix"]}}`,
			check: func(t *testing.T, e EffectiveSet) {
				if !e.CodeAction {
					t.Error("CodeAction = false, want true")
				}
			},
		},
		{
			name:       "provider explicitly false",
			clientCaps: `{"textDocument":{"definition":{}}}`,
			serverCaps: `{"definitionProvider":false}`,
			check: func(t *testing.T, e EffectiveSet) {
				if e.Definition {
					t.Error("Definition = true, want false")
				}
			},
		},
		{
			name:       "completion triggers follow server",
			clientCaps: `{"textDocument":{"completion":{}}}`,
			serverCaps: `{"completionProvider":{"resolveProvider":true,"triggerCharacters":[".",":"]}}`,
			check: func(t *testing.T, e EffectiveSet) {
				if !e.Completion || !e.CompletionResolve {
					t.Errorf("Completion = %v, CompletionResolve = %v", e.Completion, e.CompletionResolve)
				}
				if want := []string{".", ":"}; !reflect.DeepEqual(e.CompletionTriggers, want) {
					t.Errorf("CompletionTriggers = %v, want %v", e.CompletionTriggers, want)
				}
			},
		},
		{
			name:       "no triggers without client completion",
			clientCaps: `{}`,
			serverCaps: `{"completionProvider":{"triggerCharacters":["."]}}`,
			check: func(t *testing.T, e EffectiveSet) {
				if e.Completion || e.CompletionTriggers != nil {
					t.Errorf("Completion = %v, triggers = %v", e.Completion, e.CompletionTriggers)
				}
			},
		},
		{
			name:       "diagnostics gated on client alone",
			clientCaps: `{"textDocument":{"publishDiagnostics":{"relatedInformation":true}}}`,
			serverCaps: `{}`,
			check: func(t *testing.T, e EffectiveSet) {
				if !e.PublishDiagnostics || !e.DiagnosticRelatedInfo {
					t.Errorf("PublishDiagnostics = %v, DiagnosticRelatedInfo = %v",
						e.PublishDiagnostics, e.DiagnosticRelatedInfo)
				}
			},
		},
		{
			name:       "workspace folders need both sides",
			clientCaps: `{"workspace":{"workspaceFolders":true}}`,
			serverCaps: `{"workspace":{"workspaceFolders":{"supported":true}}}`,
			check: func(t *testing.T, e EffectiveSet) {
				if !e.WorkspaceFolders {
					t.Error("WorkspaceFolders = false, want true")
				}
			},
		},
		{
			name:       "rename prepare needs both sides",
			clientCaps: `{"textDocument":{"rename":{"prepareSupport":true}}}`,
			serverCaps: `{"renameProvider":{"prepareProvider":true}}`,
			check: func(t *testing.T, e EffectiveSet) {
				if !e.Rename || !e.RenamePrepare {
					t.Errorf("Rename = %v, RenamePrepare = %v", e.Rename, e.RenamePrepare)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Negotiate([]byte(tt.clientCaps), []byte(tt.serverCaps))
			tt.check(t, e)
		})
	}
}

func TestNegotiate_Sync(t *testing.T) {
	tests := []struct {
		name       string
		serverCaps string
		wantKind   protocol.TextDocumentSyncKind
		wantOpen   bool
		wantSave   bool
		wantText   bool
		wantWill   bool
		wantWillWU bool
	}{
		{
			name:       "numeric incremental",
			serverCaps: `{"textDocumentSync":2}`,
			wantKind:   protocol.TextDocumentSyncKindIncremental,
			wantOpen:   true,
		},
		{
			name:       "numeric full",
			serverCaps: `{"textDocumentSync":1}`,
			wantKind:   protocol.TextDocumentSyncKindFull,
			wantOpen:   true,
		},
		{
			name:       "numeric none",
			serverCaps: `{"textDocumentSync":0}`,
			wantKind:   protocol.TextDocumentSyncKindNone,
		},
		{
			name:       "out of range degrades to full",
			serverCaps: `{"textDocumentSync":9}`,
			wantKind:   protocol.TextDocumentSyncKindFull,
			wantOpen:   true,
		},
		{
			name:       "options object",
			serverCaps: `{"textDocumentSync":{"openClose":true,"change":2,"save":{"includeText":true}}}`,
			wantKind:   protocol.TextDocumentSyncKindIncremental,
			wantOpen:   true,
			wantSave:   true,
			wantText:   true,
		},
		{
			name:       "options object with willSave",
			serverCaps: `{"textDocumentSync":{"openClose":true,"change":2,"save":true,"willSave":true,"willSaveWaitUntil":true}}`,
			wantKind:   protocol.TextDocumentSyncKindIncremental,
			wantOpen:   true,
			wantSave:   true,
			wantWill:   true,
			wantWillWU: true,
		},
		{
			name:       "options object save as bool",
			serverCaps: `{"textDocumentSync":{"openClose":true,"change":1,"save":true}}`,
			wantKind:   protocol.TextDocumentSyncKindFull,
			wantOpen:   true,
			wantSave:   true,
		},
		{
			name:       "absent declaration",
			serverCaps: `{}`,
			wantKind:   protocol.TextDocumentSyncKindNone,
		},
	}

	clientCaps := []byte(`{"textDocument":{"synchronization":{"didSave":true}}}`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Negotiate(clientCaps, []byte(tt.serverCaps))
			if e.SyncKind != tt.wantKind {
				t.Errorf("SyncKind = %v, want %v", e.SyncKind, tt.wantKind)
			}
			if e.OpenClose != tt.wantOpen {
				t.Errorf("OpenClose = %v, want %v", e.OpenClose, tt.wantOpen)
			}
			if e.Save != tt.wantSave {
				t.Errorf("Save = %v, want %v", e.Save, tt.wantSave)
			}
			if e.SaveIncludeText != tt.wantText {
				t.Errorf("SaveIncludeText = %v, want %v", e.SaveIncludeText, tt.wantText)
			}
			if e.WillSave != tt.wantWill {
				t.Errorf("WillSave = %v, want %v", e.WillSave, tt.wantWill)
			}
			if e.WillSaveWaitUntil != tt.wantWillWU {
				t.Errorf("WillSaveWaitUntil = %v, want %v", e.WillSaveWaitUntil, tt.wantWillWU)
			}
		})
	}
}

func TestNegotiate_Pure(t *testing.T) {
	clientCaps := protocol.DefaultClientCapabilities()
	serverCaps := []byte(`{"textDocumentSync":2,"hoverProvider":true,"completionProvider":{"triggerCharacters":["."]}}`)

	first := Negotiate(clientCaps, serverCaps)
	for i := 0; i < 10; i++ {
		if got := Negotiate(clientCaps, serverCaps); !reflect.DeepEqual(got, first) {
			t.Fatalf("Negotiate() not deterministic: %#v vs %#v", got, first)
		}
	}
}

func TestIncremental(t *testing.T) {
	inc := EffectiveSet{SyncKind: protocol.TextDocumentSyncKindIncremental}
	if !inc.Incremental() {
		t.Error("Incremental() = false for incremental kind")
	}
	if (EffectiveSet{SyncKind: protocol.TextDocumentSyncKindFull}).Incremental() {
		t.Error("Incremental() = true for full kind")
	}
}
