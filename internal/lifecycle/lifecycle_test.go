package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolabdoc/collabedit/internal/conflict"
	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/session"
)

func newTestSessions(clock *int64) *session.Manager {
	return session.NewManager(conflict.StrategyMerge, func() int64 { return *clock }, nil, nil)
}

func ownerParticipant(userID string) *session.Participant {
	return &session.Participant{UserID: userID, Username: userID, Role: session.RoleOwner, Permissions: session.PermissionsForRole(session.RoleOwner)}
}

func TestMetricsTracksAppliedAndRejectedOperations(t *testing.T) {
	clock := int64(1000)
	sessions := newTestSessions(&clock)
	lc := NewManager(sessions, time.Hour)

	id := sessions.CreateSession("doc-1", nil, ownerParticipant("alice"), session.DefaultSettings())

	sessions.ApplyOperation(id, ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "hi", Metadata: ot.Metadata{OperationID: "op-1", UserID: "alice"}}, "alice")
	sessions.ApplyOperation(id, ot.Operation{Kind: ot.KindInsert, Position: -1, Content: "x", Metadata: ot.Metadata{OperationID: "op-2", UserID: "alice"}}, "alice")

	met := lc.Metrics(id)
	assert.Equal(t, 1, met.OperationCount)
	assert.InDelta(t, 0.5, met.CollaborationEfficiency, 0.01)
	assert.Equal(t, 1, met.ParticipantCount)
}

func TestSweepTearsDownIdleSessionAndExports(t *testing.T) {
	clock := int64(1000)
	sessions := newTestSessions(&clock)
	lc := NewManager(sessions, 10*time.Millisecond)

	id := sessions.CreateSession("doc-1", nil, ownerParticipant("alice"), session.DefaultSettings())
	sessions.ApplyOperation(id, ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "hi", Metadata: ot.Metadata{OperationID: "op-1", UserID: "alice"}}, "alice")

	var exported Export
	var gotExport bool
	lc.OnExport(func(exp Export) { exported = exp; gotExport = true })

	lc.Sweep(clock + 100)

	require.True(t, gotExport)
	assert.Equal(t, "hi", exported.Content)
	_, stillLive := sessions.Get(id)
	assert.False(t, stillLive)
}

func TestSweepTearsDownEmptySessionRegardlessOfAge(t *testing.T) {
	clock := int64(1000)
	sessions := newTestSessions(&clock)
	lc := NewManager(sessions, time.Hour)

	p := ownerParticipant("alice")
	id := sessions.CreateSession("doc-1", nil, p, session.DefaultSettings())
	require.NoError(t, sessions.LeaveSession(id, "alice"))

	lc.Sweep(clock)
	_, stillLive := sessions.Get(id)
	assert.False(t, stillLive)
}

func TestAutoSaveSweepPersistsOnceAtEachVersion(t *testing.T) {
	clock := int64(1000)
	sessions := newTestSessions(&clock)
	settings := session.DefaultSettings()
	settings.AutoSaveIntervalMillis = 10
	lc := NewManager(sessions, time.Hour)

	id := sessions.CreateSession("doc-1", nil, ownerParticipant("alice"), settings)

	saveCount := 0
	lc.OnPersist(func(documentID string, doc *ot.DocumentState) error {
		saveCount++
		return nil
	})

	lc.AutoSaveSweep(clock + 100)
	lc.AutoSaveSweep(clock + 200) // same document version, should not persist again
	assert.Equal(t, 1, saveCount)

	sessions.ApplyOperation(id, ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "x", Metadata: ot.Metadata{OperationID: "op-1", UserID: "alice"}}, "alice")
	lc.AutoSaveSweep(clock + 300)
	assert.Equal(t, 2, saveCount)
}

func TestPersistJitterStaysWithinBounds(t *testing.T) {
	base := 3 * time.Second
	for i := 0; i < 20; i++ {
		j := PersistJitter(base)
		assert.Greater(t, j, base-base/2)
		assert.Less(t, j, base+base/2)
	}
}
