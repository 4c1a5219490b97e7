// Package vault provides access to the note collection being searched.
//
// The Store interface is the host document store contract consumed by the
// retrieval pipeline: listing, reading, heading extraction and link-graph
// metadata. FSVault is the filesystem-backed implementation shipped with
// the CLI; hosts embedding vaultsearch as a library may supply their own.
package vault

import (
	"context"
	"time"
)

// DocumentInfo identifies a document and its last modification time.
type DocumentInfo struct {
	// Path is the vault-relative path of the document (slash-separated).
	Path string

	// MTime is the document's last modification time.
	MTime time.Time
}

// Heading is a document heading with its byte offset.
type Heading struct {
	// Text is the heading text without the leading markers.
	Text string

	// Level is the heading level (1-6).
	Level int

	// Offset is the byte offset of the heading line within the document.
	Offset int
}

// Store is the document store contract consumed by the retrieval pipeline.
type Store interface {
	// ListDocuments returns all documents in the vault.
	ListDocuments(ctx context.Context) ([]DocumentInfo, error)

	// ReadDocument returns the full content of a document.
	ReadDocument(ctx context.Context, path string) (string, error)

	// GetHeadings returns the ordered headings of a document.
	GetHeadings(ctx context.Context, path string) ([]Heading, error)

	// GetOutgoingLinks returns vault-relative paths the document links to.
	GetOutgoingLinks(ctx context.Context, path string) ([]string, error)

	// GetBacklinks returns vault-relative paths of documents linking to path.
	GetBacklinks(ctx context.Context, path string) ([]string, error)
}
