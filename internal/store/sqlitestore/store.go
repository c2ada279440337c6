// Package sqlitestore implements internal/store.Store over SQLite,
// adapted from the teacher's pkg/database (mattn/go-sqlite3), generalized
// from a single plain-text-document table to the richer ot.DocumentState
// (formatting, checksum, title/language) plus an append-only operation
// log for loadOperationHistory.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/store"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open connects to the SQLite database at uri and runs migrations.
func Open(uri string) (*Store, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// LoadDocument implements store.Store.
func (s *Store) LoadDocument(ctx context.Context, documentID string) (*ot.DocumentState, error) {
	var (
		content, checksum, title, language, formattingJSON string
		version                                            int
		lastModified                                       int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT content, version, checksum, last_modified, formatting, title, language FROM document WHERE id = ?",
		documentID,
	).Scan(&content, &version, &checksum, &lastModified, &formattingJSON, &title, &language)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load %s: %w", documentID, err)
	}

	// encoding/json round-trips integer map keys through strconv on both
	// Marshal and Unmarshal, so the sparse position->attributes map needs
	// no manual re-keying.
	var formatting map[int]*ot.Attributes
	if err := json.Unmarshal([]byte(formattingJSON), &formatting); err != nil {
		return nil, fmt.Errorf("sqlitestore: decode formatting for %s: %w", documentID, err)
	}

	return &ot.DocumentState{
		ID:           documentID,
		Content:      content,
		Version:      version,
		Checksum:     checksum,
		LastModified: lastModified,
		Formatting:   formatting,
		Metadata:     ot.DocumentMetadata{Title: title, Language: language},
	}, nil
}

// SaveDocument implements store.Store: an upsert, last-write-wins.
func (s *Store) SaveDocument(ctx context.Context, documentID string, doc *ot.DocumentState) error {
	formattingJSON, err := json.Marshal(doc.Formatting)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode formatting for %s: %w", documentID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document (id, content, version, checksum, last_modified, formatting, title, language)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			version = excluded.version,
			checksum = excluded.checksum,
			last_modified = excluded.last_modified,
			formatting = excluded.formatting,
			title = excluded.title,
			language = excluded.language
	`, documentID, doc.Content, doc.Version, doc.Checksum, doc.LastModified, string(formattingJSON),
		doc.Metadata.Title, doc.Metadata.Language)
	if err != nil {
		return fmt.Errorf("sqlitestore: save %s: %w", documentID, err)
	}
	return nil
}

// AppendOperation implements store.Store.
func (s *Store) AppendOperation(ctx context.Context, documentID string, op ot.Operation) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode operation for %s: %w", documentID, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO operation_log (document_id, version, payload, recorded_at) VALUES (?, ?, ?, ?)",
		documentID, op.Metadata.DocumentVersion, string(payload), op.Metadata.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append operation for %s: %w", documentID, err)
	}
	return nil
}

// LoadOperationHistory implements store.Store.
func (s *Store) LoadOperationHistory(ctx context.Context, documentID string, sinceVersion int) ([]ot.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM operation_log WHERE document_id = ? AND version > ? ORDER BY version ASC",
		documentID, sinceVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load history for %s: %w", documentID, err)
	}
	defer rows.Close()

	var ops []ot.Operation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan history row for %s: %w", documentID, err)
		}
		var op ot.Operation
		if err := json.Unmarshal([]byte(payload), &op); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode history row for %s: %w", documentID, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

var _ store.Store = (*Store)(nil)
