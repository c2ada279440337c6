// Package store defines the persistence contract of spec §6: loading and
// saving a document's current state, and replaying its operation history
// for late joiners. internal/store/sqlitestore and
// internal/store/redisstore are the two concrete backends.
package store

import (
	"context"
	"errors"

	"github.com/kolabdoc/collabedit/internal/ot"
)

// ErrNotFound is returned by LoadDocument when no document exists yet
// under the given id; it means "no saved content", not a backend failure.
var ErrNotFound = errors.New("store: document not found")

// Store is the persistence contract for document state and its operation
// log.
type Store interface {
	// LoadDocument returns the last saved state for documentID, or
	// ErrNotFound if none exists.
	LoadDocument(ctx context.Context, documentID string) (*ot.DocumentState, error)

	// SaveDocument persists documentState under documentID. Idempotent,
	// last-write-wins per documentId (spec §6).
	SaveDocument(ctx context.Context, documentID string, documentState *ot.DocumentState) error

	// LoadOperationHistory returns every persisted operation for
	// documentID with DocumentVersion > sinceVersion, in version order.
	LoadOperationHistory(ctx context.Context, documentID string, sinceVersion int) ([]ot.Operation, error)

	// AppendOperation records one operation to the persisted log (spec §6
	// "append-only log of operations with their metadata"). The session
	// manager does not call it; nothing in the server appends to the log.
	AppendOperation(ctx context.Context, documentID string, op ot.Operation) error

	// Close releases the backend's resources.
	Close() error
}
