package history

import (
	"testing"

	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(kind ot.Kind, user string, ts int64, pos int, content string, length int) ot.Operation {
	return ot.Operation{
		Kind:     kind,
		Position: pos,
		Content:  content,
		Length:   length,
		Metadata: ot.Metadata{OperationID: "op-" + user + "-" + content, UserID: user, Timestamp: ts},
	}
}

// S6 — history compression: five contiguous same-user inserts within 5s
// fold into one.
func TestScenarioS6CompressionFoldsContiguousInserts(t *testing.T) {
	l := NewLog(DefaultMaxHistorySize, DefaultUndoStackSize)
	doc := ot.NewDocumentState("doc-s6", 0)

	letters := []string{"H", "e", "l", "l", "o"}
	pos := 0
	for i, ch := range letters {
		o := op(ot.KindInsert, "alice", int64(1000+i), pos, ch, 0)
		after, applied, err := ot.Apply(o, doc)
		require.NoError(t, err)
		l.RecordOperation(applied, doc, after)
		doc = after
		pos += len([]rune(ch))
	}

	assert.Equal(t, "Hello", doc.Content)
	l.CompressOperations()
	require.Len(t, l.Nodes(), 1)
	assert.Equal(t, "Hello", l.Nodes()[0].Operation.Content)
}

func TestCompressionNeverMergesDifferentUsers(t *testing.T) {
	l := NewLog(DefaultMaxHistorySize, DefaultUndoStackSize)
	doc := ot.NewDocumentState("doc", 0)

	a := op(ot.KindInsert, "alice", 1000, 0, "a", 0)
	afterA, appliedA, _ := ot.Apply(a, doc)
	l.RecordOperation(appliedA, doc, afterA)

	b := op(ot.KindInsert, "bob", 1001, 1, "b", 0)
	afterB, appliedB, _ := ot.Apply(b, afterA)
	l.RecordOperation(appliedB, afterA, afterB)

	l.CompressOperations()
	assert.Len(t, l.Nodes(), 2)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	l := NewLog(DefaultMaxHistorySize, DefaultUndoStackSize)
	doc := ot.NewDocumentState("doc", 0)

	insert := op(ot.KindInsert, "alice", 1000, 0, "abc", 0)
	after, applied, err := ot.Apply(insert, doc)
	require.NoError(t, err)
	l.RecordOperation(applied, doc, after)

	counter := 0
	nextID := func() string {
		counter++
		return "undo-op-" + itoa(counter)
	}

	undoOp, ok := PrepareUndo(l, "alice", 2000, nextID)
	require.True(t, ok)
	assert.Equal(t, ot.KindDelete, undoOp.Kind)
	assert.Equal(t, 0, undoOp.Position)
	assert.Equal(t, 3, undoOp.Length)

	restored, _, err := ot.Apply(undoOp, after)
	require.NoError(t, err)
	assert.Equal(t, "", restored.Content)

	redoOp, ok := PrepareRedo(l, "alice", 3000, nextID)
	require.True(t, ok)
	assert.Equal(t, ot.KindInsert, redoOp.Kind)
	assert.Equal(t, "abc", redoOp.Content)
}

func TestPrepareUndoEmptyStackReturnsFalse(t *testing.T) {
	l := NewLog(DefaultMaxHistorySize, DefaultUndoStackSize)
	_, ok := PrepareUndo(l, "nobody", 1000, func() string { return "x" })
	assert.False(t, ok)
}

func TestSnapshotsEvictOldestAutomaticFirst(t *testing.T) {
	snaps := NewSnapshots()
	doc := ot.NewDocumentState("doc", 0)
	for i := 0; i < MaxAutomaticSnapshots+3; i++ {
		snaps.Create(doc, ot.VectorClock{}, i, int64(i), "auto", true)
	}
	assert.LessOrEqual(t, len(snaps.All()), MaxAutomaticSnapshots)
	assert.Equal(t, int64(3), snaps.All()[0].Timestamp)
}

func TestSummarizeDiffReportsAddedRemoved(t *testing.T) {
	summary := SummarizeDiff("hello\n", "hello world\n")
	assert.NotEqual(t, "no change", summary)
}
