package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolabdoc/collabedit/internal/conflict"
	"github.com/kolabdoc/collabedit/internal/ot"
)

func newTestManager() *Manager {
	var opSeq, sessSeq int
	return NewManager(conflict.StrategyMerge,
		func() int64 { return 1000 },
		func() string { opSeq++; return "op-" + itoa(opSeq) },
		func() string { sessSeq++; return "sess-" + itoa(sessSeq) },
	)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func owner(userID string) *Participant {
	return &Participant{UserID: userID, Username: userID, Role: RoleOwner, Permissions: PermissionsForRole(RoleOwner)}
}

func editor(userID string) *Participant {
	return &Participant{UserID: userID, Username: userID, Role: RoleEditor, Permissions: PermissionsForRole(RoleEditor)}
}

func insertOp(userID string, pos int, content string) ot.Operation {
	return ot.Operation{Kind: ot.KindInsert, Position: pos, Content: content, Metadata: ot.Metadata{OperationID: "op-" + userID + "-" + content, UserID: userID}}
}

// S1 — two sessions created by the same manager are independent.
func TestCreateSessionIsIsolatedPerDocument(t *testing.T) {
	m := newTestManager()
	id1 := m.CreateSession("doc-1", nil, owner("alice"), DefaultSettings())
	id2 := m.CreateSession("doc-2", nil, owner("bob"), DefaultSettings())
	assert.NotEqual(t, id1, id2)

	s1, ok := m.Get(id1)
	require.True(t, ok)
	assert.Equal(t, "doc-1", s1.DocumentID)
}

// I5 — rejoin is idempotent: updates lastSeen instead of duplicating.
func TestJoinSessionRejoinUpdatesLastSeenNotCount(t *testing.T) {
	m := newTestManager()
	id := m.CreateSession("doc-1", nil, owner("alice"), DefaultSettings())

	require.NoError(t, m.JoinSession(id, editor("bob")))
	require.NoError(t, m.JoinSession(id, editor("bob")))

	s, _ := m.Get(id)
	assert.Len(t, s.Participants, 2) // alice (owner) + bob
}

func TestJoinSessionRejectsOverMaxParticipants(t *testing.T) {
	m := newTestManager()
	settings := DefaultSettings()
	settings.MaxParticipants = 1
	id := m.CreateSession("doc-1", nil, owner("alice"), settings)

	err := m.JoinSession(id, editor("bob"))
	assert.ErrorIs(t, err, ErrSessionFull)
}

// S2 — an edit applied by a non-editor (viewer) role is rejected.
func TestApplyOperationRejectsWhenPermissionDenied(t *testing.T) {
	m := newTestManager()
	id := m.CreateSession("doc-1", nil, owner("alice"), DefaultSettings())
	viewer := &Participant{UserID: "carol", Username: "carol", Role: RoleViewer, Permissions: PermissionsForRole(RoleViewer)}
	require.NoError(t, m.JoinSession(id, viewer))

	result := m.ApplyOperation(id, insertOp("carol", 0, "hi"), "carol")
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrPermissionDenied)
}

// S3 — a structurally invalid operation (negative position) is rejected
// without mutating document state.
func TestApplyOperationRejectsInvalidOperation(t *testing.T) {
	m := newTestManager()
	id := m.CreateSession("doc-1", nil, owner("alice"), DefaultSettings())

	before, _ := m.Get(id)
	beforeVersion := before.Document.Version

	bad := insertOp("alice", -1, "x")
	result := m.ApplyOperation(id, bad, "alice")
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrValidationFailed)

	after, _ := m.Get(id)
	assert.Equal(t, beforeVersion, after.Document.Version)
}

// S4 — a valid operation from the owner is applied and advances the
// document version and vector clock.
func TestApplyOperationAppliesValidInsert(t *testing.T) {
	m := newTestManager()
	id := m.CreateSession("doc-1", nil, owner("alice"), DefaultSettings())

	result := m.ApplyOperation(id, insertOp("alice", 0, "hello"), "alice")
	require.True(t, result.Success)
	assert.Equal(t, "hello", result.NewDocumentState.Content)

	s, _ := m.Get(id)
	assert.Equal(t, int64(1), s.VectorClock["alice"])
}

// S5 — concurrent inserts from two editors both land via pending-op
// transform, without one clobbering the other.
func TestApplyOperationTransformsAgainstPendingOps(t *testing.T) {
	m := newTestManager()
	id := m.CreateSession("doc-1", nil, owner("alice"), DefaultSettings())
	require.NoError(t, m.JoinSession(id, editor("bob")))

	results := m.SynchronizeOperations(id, []ot.Operation{
		insertOp("alice", 0, "A"),
		insertOp("bob", 0, "B"),
	})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success)
	}

	s, _ := m.Get(id)
	assert.Len(t, s.Document.Content, 2)
}

// Undo/redo round-trip: an applied insert can be undone then redone.
func TestUndoRedoRoundTrip(t *testing.T) {
	m := newTestManager()
	id := m.CreateSession("doc-1", nil, owner("alice"), DefaultSettings())

	applied := m.ApplyOperation(id, insertOp("alice", 0, "hi"), "alice")
	require.True(t, applied.Success)

	undone, err := m.Undo(id, "alice")
	require.NoError(t, err)
	require.True(t, undone.Success)
	assert.Equal(t, "", undone.NewDocumentState.Content)

	redone, err := m.Redo(id, "alice")
	require.NoError(t, err)
	require.True(t, redone.Success)
	assert.Equal(t, "hi", redone.NewDocumentState.Content)
}

// LeaveSession drops the participant and, once empty, the session can be
// torn down by the caller (lifecycle manager owns deletion).
func TestLeaveSessionRemovesParticipant(t *testing.T) {
	m := newTestManager()
	id := m.CreateSession("doc-1", nil, owner("alice"), DefaultSettings())
	require.NoError(t, m.JoinSession(id, editor("bob")))

	require.NoError(t, m.LeaveSession(id, "bob"))
	s, _ := m.Get(id)
	_, stillThere := s.Participants["bob"]
	assert.False(t, stillThere)
}

func TestApplyOperationUnknownSessionIsRejected(t *testing.T) {
	m := newTestManager()
	result := m.ApplyOperation("missing", insertOp("alice", 0, "x"), "alice")
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrSessionNotFound)
}

func TestMarkSavedEmitsDocumentSavedEvent(t *testing.T) {
	m := newTestManager()
	id := m.CreateSession("doc-1", nil, owner("alice"), DefaultSettings())

	var got Event
	m.OnEvent(func(ev Event) {
		if ev.Kind == EventDocumentSaved {
			got = ev
		}
	})
	m.MarkSaved(id)
	assert.Equal(t, EventDocumentSaved, got.Kind)
	assert.Equal(t, id, got.SessionID)
}
