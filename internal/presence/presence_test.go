package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// P6 — second cursor update within cursorThrottle of the first is dropped.
func TestCursorThrottleDropsRapidUpdates(t *testing.T) {
	tr := NewTracker(100, 0, 0, 0)
	require.True(t, tr.UpdateCursor("alice", 5, nil, 1000))
	assert.False(t, tr.UpdateCursor("alice", 6, nil, 1050))
	assert.True(t, tr.UpdateCursor("alice", 7, nil, 1200))
}

func TestJoinIsIdempotentForRejoin(t *testing.T) {
	tr := NewTracker(0, 0, 0, 0)
	tr.Join("alice", "#ff0000", 1000)
	tr.Join("alice", "#ff0000", 2000)
	p, ok := tr.Get("alice")
	require.True(t, ok)
	assert.Equal(t, int64(2000), p.LastSeen)
}

func TestTypingExpiresAfterTimeout(t *testing.T) {
	tr := NewTracker(0, 100, 0, 0)
	tr.SetTyping("bob", true, 1000)
	tr.ExpireTyping(1050)
	p, _ := tr.Get("bob")
	assert.True(t, p.Typing.IsTyping)

	tr.ExpireTyping(1150)
	p, _ = tr.Get("bob")
	assert.False(t, p.Typing.IsTyping)
}

func TestStatusTransitionsActiveToAwayToOffline(t *testing.T) {
	tr := NewTracker(0, 0, 100, 0)
	tr.Join("alice", "#000", 1000)

	tr.ExpireStatuses(1050)
	p, _ := tr.Get("alice")
	assert.Equal(t, StatusActive, p.Status)

	tr.ExpireStatuses(1200)
	p, _ = tr.Get("alice")
	assert.Equal(t, StatusAway, p.Status)

	tr.ExpireStatuses(1350)
	p, _ = tr.Get("alice")
	assert.Equal(t, StatusOffline, p.Status)
	assert.Nil(t, p.Cursor)
}

func TestGetSessionCursorsExcludesSelfAndCapsCount(t *testing.T) {
	tr := NewTracker(0, 0, 100_000, 2)
	tr.UpdateCursor("alice", 1, nil, 1000)
	tr.UpdateCursor("bob", 2, nil, 1000)
	tr.UpdateCursor("carol", 3, nil, 1000)

	cursors := tr.GetSessionCursors("alice", 1000)
	assert.LessOrEqual(t, len(cursors), 2)
	for _, c := range cursors {
		assert.NotEqual(t, "alice", c.UserID)
	}
}

func TestGenerateColorIsDeterministic(t *testing.T) {
	assert.Equal(t, GenerateColor("alice"), GenerateColor("alice"))
}
