package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolabdoc/collabedit/internal/conflict"
	"github.com/kolabdoc/collabedit/internal/protocol"
	"github.com/kolabdoc/collabedit/internal/session"
)

// fakeSender records every envelope sent to it, for assertions.
type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (f *fakeSender) Send(ctx context.Context, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) types() []protocol.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.MessageType, len(f.sent))
	for i, e := range f.sent {
		out[i] = e.Type
	}
	return out
}

func newTestController() (*Controller, *session.Manager) {
	sessions := session.NewManager(conflict.StrategyMerge, nil, nil, nil)
	return NewController(sessions, 10), sessions
}

func TestConnectCreatesRoomForOwnerAndSendsDocumentResponse(t *testing.T) {
	ctrl, _ := newTestController()
	sender := &fakeSender{}

	err := ctrl.Connect(context.Background(), "conn-1", sender, ConnectInfo{
		RoomID: "room-a", DocumentID: "doc-a", UserID: "alice", Username: "alice", Role: session.RoleOwner,
	})
	require.NoError(t, err)
	assert.Contains(t, sender.types(), protocol.TypeDocumentResponse)
	assert.Equal(t, 1, ctrl.SessionCount())
}

func TestConnectRejectsNonOwnerJoiningUnknownRoom(t *testing.T) {
	ctrl, _ := newTestController()
	sender := &fakeSender{}

	err := ctrl.Connect(context.Background(), "conn-1", sender, ConnectInfo{
		RoomID: "room-a", DocumentID: "doc-a", UserID: "bob", Username: "bob", Role: session.RoleEditor,
	})
	assert.Error(t, err)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestConnectSecondUserJoinsExistingRoom(t *testing.T) {
	ctrl, _ := newTestController()

	require.NoError(t, ctrl.Connect(context.Background(), "conn-1", &fakeSender{}, ConnectInfo{
		RoomID: "room-a", DocumentID: "doc-a", UserID: "alice", Username: "alice", Role: session.RoleOwner,
	}))
	err := ctrl.Connect(context.Background(), "conn-2", &fakeSender{}, ConnectInfo{
		RoomID: "room-a", DocumentID: "doc-a", UserID: "bob", Username: "bob", Role: session.RoleEditor,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ctrl.SessionCount())
}

func TestConnectWithOTPGateRejectsWrongCode(t *testing.T) {
	ctrl, _ := newTestController()

	require.NoError(t, ctrl.Connect(context.Background(), "conn-1", &fakeSender{}, ConnectInfo{
		RoomID: "room-a", DocumentID: "doc-a", UserID: "alice", Username: "alice", Role: session.RoleOwner,
		RequireOTP: true,
	}))

	err := ctrl.Connect(context.Background(), "conn-2", &fakeSender{}, ConnectInfo{
		RoomID: "room-a", DocumentID: "doc-a", UserID: "bob", Username: "bob", Role: session.RoleEditor,
		OTP: "wrong-code",
	})
	assert.ErrorIs(t, err, session.ErrPermissionDenied)
}

func TestHandleOperationBroadcastsToOtherConnectionsOnly(t *testing.T) {
	ctrl, _ := newTestController()
	aliceSender := &fakeSender{}
	bobSender := &fakeSender{}

	require.NoError(t, ctrl.Connect(context.Background(), "conn-alice", aliceSender, ConnectInfo{
		RoomID: "room-a", DocumentID: "doc-a", UserID: "alice", Username: "alice", Role: session.RoleOwner,
	}))
	require.NoError(t, ctrl.Connect(context.Background(), "conn-bob", bobSender, ConnectInfo{
		RoomID: "room-a", DocumentID: "doc-a", UserID: "bob", Username: "bob", Role: session.RoleEditor,
	}))

	env := protocol.Envelope{
		Type: protocol.TypeOperation,
		From: "alice",
		Data: mustMarshal(t, protocol.OperationPayload{
			Operation: protocol.WireOperation{Kind: "insert", Position: 0, Content: "hi"},
		}),
	}
	require.NoError(t, ctrl.HandleEnvelope(context.Background(), "conn-alice", env))

	require.Eventually(t, func() bool {
		return len(bobSender.types()) > 0 && bobSender.types()[len(bobSender.types())-1] == protocol.TypeOperation
	}, time.Second, 5*time.Millisecond)

	for _, typ := range aliceSender.types() {
		assert.NotEqual(t, protocol.TypeOperation, typ)
	}
}

func TestDisconnectRemovesConnectionFromSession(t *testing.T) {
	ctrl, sessions := newTestController()
	require.NoError(t, ctrl.Connect(context.Background(), "conn-1", &fakeSender{}, ConnectInfo{
		RoomID: "room-a", DocumentID: "doc-a", UserID: "alice", Username: "alice", Role: session.RoleOwner,
	}))

	ctrl.Disconnect("conn-1")

	ids := sessions.SessionIDs()
	require.Len(t, ids, 1)
	s, _ := sessions.Get(ids[0])
	_, stillThere := s.Participants["alice"]
	assert.False(t, stillThere)
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeOperation, "alice", v, 0, "msg-1")
	require.NoError(t, err)
	return env.Data
}
