package session

import (
	"github.com/kolabdoc/collabedit/internal/conflict"
	"github.com/kolabdoc/collabedit/internal/history"
	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/presence"
)

// Role mirrors conflict.Role; kept as its own type so callers of this
// package never need to import internal/conflict just to name a role.
type Role = conflict.Role

const (
	RoleOwner        = conflict.RoleOwner
	RoleAdmin        = conflict.RoleAdmin
	RoleEditor       = conflict.RoleEditor
	RoleCollaborator = conflict.RoleCollaborator
	RoleViewer       = conflict.RoleViewer
)

// Permissions is spec §3 Participant.permissions.
type Permissions struct {
	CanEdit               bool
	CanComment            bool
	CanInvite             bool
	CanManagePermissions  bool
}

// PermissionsForRole returns the default permission bits for a role.
func PermissionsForRole(role Role) Permissions {
	switch role {
	case RoleOwner, RoleAdmin:
		return Permissions{CanEdit: true, CanComment: true, CanInvite: true, CanManagePermissions: true}
	case RoleEditor:
		return Permissions{CanEdit: true, CanComment: true, CanInvite: true}
	case RoleCollaborator:
		return Permissions{CanEdit: true, CanComment: true}
	default: // viewer
		return Permissions{CanComment: true}
	}
}

// Participant is spec §3 Participant.
type Participant struct {
	UserID      string
	Username    string
	Role        Role
	Color       string
	Joined      int64
	LastSeen    int64
	Status      presence.Status
	Permissions Permissions
}

// Settings is the per-session configuration surface of spec §6, plus the
// supplemental OTP gate (SPEC_FULL §12).
type Settings struct {
	MaxConcurrentOperations    int
	OperationTimeoutMillis     int64
	SyncIntervalMillis         int64
	AutoSaveIntervalMillis     int64
	MaxHistorySize             int
	ConflictResolutionStrategy conflict.Strategy
	MaxParticipants            int
	CompressionEnabled         bool
	EnableRealTimeCursors      bool
	EnableOperationHistory     bool
	OTP                        string // empty means no OTP gate
}

// DefaultSettings returns the spec §6 defaults table.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrentOperations:    100,
		OperationTimeoutMillis:     30_000,
		SyncIntervalMillis:         5_000,
		AutoSaveIntervalMillis:     10_000,
		MaxHistorySize:             1_000,
		ConflictResolutionStrategy: conflict.StrategyMerge,
		MaxParticipants:            100,
		CompressionEnabled:         true,
		EnableRealTimeCursors:      true,
		EnableOperationHistory:     true,
	}
}

// Session is spec §3 Session, C6's unit of serialized state.
type Session struct {
	ID           string
	DocumentID   string
	Participants map[string]*Participant
	Document     *ot.DocumentState
	History      *history.Log
	Snapshots    *history.Snapshots
	Presence     *presence.Tracker
	VectorClock  ot.VectorClock
	Settings     Settings
	Created      int64
	LastActivity int64

	// PendingOps holds operations that have been enqueued (e.g. via a
	// SynchronizeOperations batch or a pipelined controller queue) but not
	// yet folded into Document — spec §4.4 step 5's "pendingOps". Guarded
	// by the manager's per-session mutex, same as Document.
	PendingOps []ot.Operation

	// ResolutionLog records conflict-resolver outcomes for this session
	// (spec §4.3 "per-session resolution history"), surfaced by C8's
	// metrics and the conflict_notification broadcast.
	ResolutionLog []conflict.Resolution
}

func newSession(id, documentID string, doc *ot.DocumentState, owner *Participant, now int64, settings Settings) *Session {
	s := &Session{
		ID:           id,
		DocumentID:   documentID,
		Participants: map[string]*Participant{owner.UserID: owner},
		Document:     doc,
		History:      history.NewLog(settings.MaxHistorySize, history.DefaultUndoStackSize),
		Snapshots:    history.NewSnapshots(),
		Presence:     presence.NewTracker(0, 0, 0, 0),
		VectorClock:  ot.VectorClock{owner.UserID: 0},
		Settings:     settings,
		Created:      now,
		LastActivity: now,
	}
	s.Presence.Join(owner.UserID, owner.Color, now)
	return s
}

// SynchronizationResult is spec §4.4's applyOperation return contract.
type SynchronizationResult struct {
	Success             bool
	AppliedOperations   []ot.Operation
	RejectedOperations  []ot.Operation
	Conflicts           []ot.ConflictAnnotation
	NewDocumentState    *ot.DocumentState
	Err                 error
}
