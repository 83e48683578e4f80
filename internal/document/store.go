// Package document tracks open-document state for one LSP session and
// produces correctly-ordered synchronization notifications.
//
// Each open URI carries a content snapshot and a monotonically
// increasing version. The store enforces the version order: a change
// that does not strictly increase the version is rejected, so didChange
// notifications for a single document always go out in version order.
package document

import (
	"fmt"
	"sync"
	"time"

	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/dshills/lspwire/internal/protocol"
)

// StateError reports a document-sync invariant violation: operating on
// a document that is not open, opening one twice, or supplying a stale
// version.
type StateError struct {
	URI    uri.URI
	Reason string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("document %s: %s", e.URI, e.Reason)
}

// Document is the tracked state of one open document.
type Document struct {
	URI        uri.URI
	LanguageID string
	Version    int32
	Content    string
	Dirty      bool
	OpenedAt   time.Time
	ModifiedAt time.Time
}

// Store owns the open-document map for one session.
type Store struct {
	mu   sync.RWMutex
	docs map[uri.URI]*Document

	// Fixed at construction from the negotiated capabilities.
	syncKind    protocol.TextDocumentSyncKind
	includeText bool

	logger *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSyncKind sets the negotiated synchronization kind. When the kind
// is not incremental, ranged edits supplied by callers are rewritten
// into full-document replacements before being emitted.
func WithSyncKind(k protocol.TextDocumentSyncKind) StoreOption {
	return func(s *Store) {
		s.syncKind = k
	}
}

// WithSaveIncludeText makes didSave notifications carry the document
// text, per the negotiated save capability.
func WithSaveIncludeText(include bool) StoreOption {
	return func(s *Store) {
		s.includeText = include
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates an empty document store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		docs:     make(map[uri.URI]*Document),
		syncKind: protocol.TextDocumentSyncKindFull,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncKind returns the store's negotiated sync kind.
func (s *Store) SyncKind() protocol.TextDocumentSyncKind {
	return s.syncKind
}

// Open creates document state at version 1 and returns the didOpen
// parameters to send.
func (s *Store) Open(docURI uri.URI, languageID, text string) (protocol.DidOpenTextDocumentParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[docURI]; exists {
		return protocol.DidOpenTextDocumentParams{}, &StateError{URI: docURI, Reason: "already open"}
	}

	now := time.Now()
	s.docs[docURI] = &Document{
		URI:        docURI,
		LanguageID: languageID,
		Version:    1,
		Content:    text,
		OpenedAt:   now,
		ModifiedAt: now,
	}
	s.logger.Debug("document opened", zap.String("uri", string(docURI)))

	return protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentURI(docURI),
			LanguageID: languageID,
			Version:    1,
			Text:       text,
		},
	}, nil
}

// Change applies edits at the given version and returns the didChange
// parameters to send. The version must strictly increase the
// document's current version; stale or duplicate versions fail with a
// StateError and nothing is emitted.
//
// When incremental sync was not negotiated, the returned parameters
// carry one full-text replacement regardless of the edits supplied, so
// the server's view stays consistent.
func (s *Store) Change(docURI uri.URI, version int32, changes []protocol.TextDocumentContentChangeEvent) (protocol.DidChangeTextDocumentParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[docURI]
	if !exists {
		return protocol.DidChangeTextDocumentParams{}, &StateError{URI: docURI, Reason: "not open"}
	}
	if version <= doc.Version {
		return protocol.DidChangeTextDocumentParams{},
			&StateError{URI: docURI, Reason: fmt.Sprintf("stale version %d (current %d)", version, doc.Version)}
	}

	content, err := applyChanges(doc.Content, changes)
	if err != nil {
		return protocol.DidChangeTextDocumentParams{}, &StateError{URI: docURI, Reason: err.Error()}
	}

	doc.Content = content
	doc.Version = version
	doc.Dirty = true
	doc.ModifiedAt = time.Now()

	out := changes
	if s.syncKind != protocol.TextDocumentSyncKindIncremental {
		out = []protocol.TextDocumentContentChangeEvent{{Text: content}}
	}

	return protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(docURI)},
			Version:                version,
		},
		ContentChanges: out,
	}, nil
}

// WillSave returns the willSave parameters for an open document. The
// document state is not touched; the save itself is reported by Save.
func (s *Store) WillSave(docURI uri.URI, reason protocol.TextDocumentSaveReason) (protocol.WillSaveTextDocumentParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.docs[docURI]; !exists {
		return protocol.WillSaveTextDocumentParams{}, &StateError{URI: docURI, Reason: "not open"}
	}
	return protocol.WillSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(docURI)},
		Reason:       reason,
	}, nil
}

// Save clears the dirty flag and returns the didSave parameters,
// embedding the text when the negotiated save capability asks for it.
func (s *Store) Save(docURI uri.URI) (protocol.DidSaveTextDocumentParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[docURI]
	if !exists {
		return protocol.DidSaveTextDocumentParams{}, &StateError{URI: docURI, Reason: "not open"}
	}
	doc.Dirty = false

	params := protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(docURI)},
	}
	if s.includeText {
		params.Text = doc.Content
	}
	return params, nil
}

// Close removes document state and returns the didClose parameters.
func (s *Store) Close(docURI uri.URI) (protocol.DidCloseTextDocumentParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[docURI]; !exists {
		return protocol.DidCloseTextDocumentParams{}, &StateError{URI: docURI, Reason: "not open"}
	}
	delete(s.docs, docURI)
	s.logger.Debug("document closed", zap.String("uri", string(docURI)))

	return protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(docURI)},
	}, nil
}

// Get returns a copy of the document state if open.
func (s *Store) Get(docURI uri.URI) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[docURI]
	if !exists {
		return Document{}, false
	}
	return *doc, true
}

// All returns every open document, in no particular order.
func (s *Store) All() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, *doc)
	}
	return docs
}

// Len returns the number of open documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
