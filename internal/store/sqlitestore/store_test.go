package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/store"
)

func TestSaveAndLoadDocumentRoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	doc := &ot.DocumentState{
		ID:       "doc-1",
		Content:  "hello world",
		Version:  3,
		Checksum: "abc",
		Formatting: map[int]*ot.Attributes{
			0: {Bold: boolPtr(true)},
		},
		Metadata: ot.DocumentMetadata{Title: "Untitled", Language: "go"},
	}
	require.NoError(t, s.SaveDocument(ctx, "doc-1", doc))

	loaded, err := s.LoadDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", loaded.Content)
	assert.Equal(t, 3, loaded.Version)
	assert.Equal(t, "go", loaded.Metadata.Language)
	require.NotNil(t, loaded.Formatting[0])
	assert.True(t, *loaded.Formatting[0].Bold)
}

func TestLoadDocumentMissingReturnsErrNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LoadDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAppendAndLoadOperationHistorySinceVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for v := 1; v <= 3; v++ {
		op := ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "x", Metadata: ot.Metadata{DocumentVersion: v}}
		require.NoError(t, s.AppendOperation(ctx, "doc-1", op))
	}

	ops, err := s.LoadOperationHistory(ctx, "doc-1", 1)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, 2, ops[0].Metadata.DocumentVersion)
	assert.Equal(t, 3, ops[1].Metadata.DocumentVersion)
}

func boolPtr(b bool) *bool { return &b }
