package storage

import (
	"context"

	"github.com/condorlabs/dteingest/core"
)

// LineItemStore persists extracted line items. All writes are upserts on
// the (rut_emisor, folio, vlr_codigo) uniqueness constraint so that repeated
// or concurrent runs converge instead of duplicating rows.
type LineItemStore interface {
	// Exists reports whether a row with the given business key is already
	// persisted. A missing row is false, not an error.
	Exists(ctx context.Context, issuerRUT, folio, productCode string) (bool, error)

	// Upsert writes a single line item, updating the existing row on a
	// business-key conflict.
	Upsert(ctx context.Context, item *core.LineItem) error

	// UpsertBatch writes a set of line items in one round trip, updating
	// existing rows on business-key conflicts.
	UpsertBatch(ctx context.Context, items []core.LineItem) error
}

// ProcessedFileLedger is the bookkeeping table asserting which files have
// been ingested. Filename is unique; conflicting registrations are ignored
// (first writer wins), so a file's original fingerprint is preserved.
type ProcessedFileLedger interface {
	// Find returns the ledger row for filename, or ErrNotFound.
	Find(ctx context.Context, filename string) (*core.ProcessedFile, error)

	// Register records a single processed file, ignoring the write if the
	// filename is already registered.
	Register(ctx context.Context, file *core.ProcessedFile) error

	// RegisterBatch records a set of processed files in one round trip,
	// ignoring filenames that are already registered.
	RegisterBatch(ctx context.Context, files []core.ProcessedFile) error
}

// BranchDirectory resolves branch and responsible-user enrichment for a
// document, keyed by (folio, issuer RUT). Read-only; maintained elsewhere.
type BranchDirectory interface {
	// BranchInfo returns the directory row for the document, or ErrNotFound.
	BranchInfo(ctx context.Context, folio, issuerRUT string) (*core.BranchInfo, error)
}

// Store bundles the three relations of the shared store behind one handle.
// Implementations must be safe for concurrent use by multiple workers.
type Store interface {
	LineItemStore
	ProcessedFileLedger
	BranchDirectory

	// Ping verifies connectivity to the store.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
