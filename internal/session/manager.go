// Package session implements the session state manager (spec §4.4, C6):
// per-session document state, causal tracking via vector clocks, a
// pending-operation queue, and the serialized applyOperation algorithm
// that is the system's one mandatory choke point.
package session

import (
	"fmt"
	"sync"

	"github.com/kolabdoc/collabedit/internal/conflict"
	"github.com/kolabdoc/collabedit/internal/history"
	"github.com/kolabdoc/collabedit/internal/logger"
	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/presence"
)

// EventKind enumerates the events the manager emits (spec §9: "event
// listeners registered by string type; synchronous dispatch on emit").
type EventKind string

const (
	EventOperationApplied  EventKind = "operation_applied"
	EventOperationRejected EventKind = "operation_rejected"
	EventSessionCreated    EventKind = "session_created"
	EventSessionEmpty      EventKind = "session_empty"
	EventCursorUpdated     EventKind = "cursor_updated"
	EventDocumentSaved     EventKind = "document_saved"
)

// Event is a single manager notification.
type Event struct {
	Kind      EventKind
	SessionID string
	UserID    string
	Payload   any
}

// entry bundles a Session with the mutex that serializes applyOperation
// for it (spec §5: "at most one applyOperation runs concurrently per
// session" — a per-session mutex is the Go-idiomatic rendering of the
// single-threaded-actor model; the controller's serial queue processor
// (C7) is what actually enforces in-order delivery from the network).
type entry struct {
	mu      sync.Mutex
	session *Session
}

// Manager is the session state manager (C6). It owns every live session,
// the shared advisory transform cache, and the conflict resolver each
// session's applyOperation consults.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	cache    *ot.Cache
	resolver *conflict.Resolver

	listenersMu sync.Mutex
	listeners   []func(Event)

	now          func() int64
	nextOpID     func() string
	nextSessID   func() string
}

// NewManager returns an empty Manager. now/nextOperationID/nextSessionID
// default to wall-clock millis and ot.CreateOperationID/CreateSessionID
// when nil (tests supply deterministic stand-ins).
func NewManager(defaultStrategy conflict.Strategy, now func() int64, nextOpID, nextSessID func() string) *Manager {
	if now == nil {
		now = ot.NowMillis
	}
	if nextOpID == nil {
		nextOpID = ot.CreateOperationID
	}
	if nextSessID == nil {
		nextSessID = ot.CreateSessionID
	}
	return &Manager{
		sessions:   make(map[string]*entry),
		cache:      ot.NewCache(),
		resolver:   conflict.NewResolver(defaultStrategy),
		now:        now,
		nextOpID:   nextOpID,
		nextSessID: nextSessID,
	}
}

// OnEvent registers a synchronous subscriber for every event kind this
// manager emits across all sessions.
func (m *Manager) OnEvent(fn func(Event)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) emit(ev Event) {
	m.listenersMu.Lock()
	fns := append([]func(Event){}, m.listeners...)
	m.listenersMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// CreateSession implements spec §4.4 createSession: initializes the
// vector clock to {owner: 0}, an empty history, and returns the new
// session id. If doc is nil, a fresh empty document is created at
// documentID.
func (m *Manager) CreateSession(documentID string, doc *ot.DocumentState, owner *Participant, settings Settings) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if doc == nil {
		doc = ot.NewDocumentState(documentID, now)
	}
	id := m.nextSessID()
	sess := newSession(id, documentID, doc, owner, now, settings)
	sess.Presence.OnEvent(func(ev presence.Event) {
		m.emit(Event{Kind: EventCursorUpdated, SessionID: id, UserID: ev.UserID, Payload: ev})
	})
	m.sessions[id] = &entry{session: sess}
	m.emit(Event{Kind: EventSessionCreated, SessionID: id, UserID: owner.UserID})
	return id
}

// Get returns a session's live pointer for read access. Callers mutating
// session fields directly (rather than via Manager methods) must hold the
// returned entry's mutex — prefer the Manager methods below instead.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Delete removes a session outright (called by the lifecycle manager
// after export, spec §3 "Lifecycle").
func (m *Manager) Delete(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// SessionIDs returns every currently live session id, for the lifecycle
// manager's sweep.
func (m *Manager) SessionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

func (m *Manager) lookup(sessionID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return e, nil
}

// JoinSession implements spec §4.4 joinSession: enforces maxParticipants,
// and is idempotent for rejoins (I5: re-join updates lastSeen/status
// rather than duplicating).
func (m *Manager) JoinSession(sessionID string, p *Participant) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	now := m.now()
	if _, exists := s.Participants[p.UserID]; !exists {
		max := s.Settings.MaxParticipants
		if max <= 0 {
			max = DefaultSettings().MaxParticipants
		}
		if len(s.Participants) >= max {
			return fmt.Errorf("%w: session %s", ErrSessionFull, sessionID)
		}
		s.Participants[p.UserID] = p
		if _, ok := s.VectorClock[p.UserID]; !ok {
			s.VectorClock[p.UserID] = 0
		}
	} else {
		s.Participants[p.UserID].LastSeen = now
		s.Participants[p.UserID].Status = presence.StatusActive
	}
	s.Presence.Join(p.UserID, p.Color, now)
	s.LastActivity = now
	return nil
}

// LeaveSession implements spec §4.4 leaveSession: removes the cursor and
// participant entry, emitting EventSessionEmpty when the session becomes
// empty so the lifecycle manager can schedule cleanup.
func (m *Manager) LeaveSession(sessionID, userID string) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	s := e.session
	delete(s.Participants, userID)
	s.Presence.Leave(userID)
	s.LastActivity = m.now()
	empty := len(s.Participants) == 0
	e.mu.Unlock()

	if empty {
		m.emit(Event{Kind: EventSessionEmpty, SessionID: sessionID})
	}
	return nil
}

// UpdateCursor implements spec §4.4 updateCursor: throttled via
// internal/presence, firing cursor_updated through the session's presence
// tracker (already wired to Manager.emit at CreateSession time).
func (m *Manager) UpdateCursor(sessionID, userID string, position int, sel *presence.Selection) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Presence.UpdateCursor(userID, position, sel, m.now())
	e.session.LastActivity = m.now()
	return nil
}

// SetStatus implements the presence status-update half of spec §4.6,
// routed through the session's entry mutex like UpdateCursor.
func (m *Manager) SetStatus(sessionID, userID string, status presence.Status) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Presence.SetStatus(userID, status, m.now())
	e.session.LastActivity = m.now()
	return nil
}

// SetTyping implements the typing-indicator half of spec §4.6.
func (m *Manager) SetTyping(sessionID, userID string, isTyping bool) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Presence.SetTyping(userID, isTyping, m.now())
	return nil
}

// SetViewport implements the viewport/follow half of spec §4.6.
func (m *Manager) SetViewport(sessionID, userID string, start, end int) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Presence.SetViewport(userID, start, end)
	return nil
}

// Follow implements user_follow (spec §4.6).
func (m *Manager) Follow(sessionID, followerID, leaderID string) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Presence.Follow(followerID, leaderID)
	return nil
}

// ApplyOperation implements the spec §4.4 applyOperation algorithm,
// steps 1-12, verbatim:
//
//  1. lookup session; SessionNotFound if absent.
//  2. lookup participant; PermissionDenied if missing or !canEdit.
//  3. validate(op); ValidationFailed on errors.
//  4. advance the session vector clock at op.userId; stamp it into the op.
//  5. compute pendingOps (queued-but-not-applied ops excluding op).
//  6. transformed = transformAgainst(op, pendingOps).
//  7. newState = apply(transformed, documentState).
//  8. append transformed to operationHistory.
//  9. push transformed onto the actor's undo stack; clear redo; trim.
//  10. compress history if enabled and over maxHistorySize.
//  11. emit operation_applied.
//  12. return the SynchronizationResult.
//
// On any failure from steps 3-8 the document state and history are left
// untouched and operation_rejected is emitted instead.
func (m *Manager) ApplyOperation(sessionID string, op ot.Operation, userID string) SynchronizationResult {
	e, err := m.lookup(sessionID)
	if err != nil {
		return m.reject(sessionID, op, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session

	participant, ok := s.Participants[userID]
	if !ok || !participant.Permissions.CanEdit {
		return m.rejectLocked(s, op, fmt.Errorf("%w: user %s cannot edit session %s", ErrPermissionDenied, userID, sessionID))
	}

	if res := ot.Validate(op); !res.Valid() {
		return m.rejectLocked(s, op, fmt.Errorf("%w: %v", ErrValidationFailed, res.Issues))
	}

	s.VectorClock = ot.Advance(s.VectorClock, userID)
	op.Metadata.VectorClock = s.VectorClock.Clone()
	op.Metadata.DocumentVersion = s.Document.Version

	pending := pendingExcluding(s.PendingOps, op.Metadata.OperationID)
	transformed := op
	var conflicts []ot.ConflictAnnotation
	for _, other := range pending {
		aPrime, _, terr := m.cache.Transform(transformed, other)
		if terr != nil {
			return m.rejectLocked(s, op, fmt.Errorf("ot: transform: %w", terr))
		}
		if len(aPrime.Conflicts) > 0 {
			res := m.resolver.Resolve(sessionID, aPrime, other, participant.Role, roleOf(s, other.Metadata.UserID), s.Document.Content)
			s.ResolutionLog = append(s.ResolutionLog, res)
			aPrime = res.Resolved
			conflicts = append(conflicts, aPrime.Conflicts...)
		}
		transformed = aPrime
	}

	before := s.Document
	after, applied, aerr := ot.Apply(transformed, before)
	if aerr != nil {
		return m.rejectLocked(s, op, fmt.Errorf("ot: apply: %w", aerr))
	}

	s.Document = after
	s.History.RecordOperation(applied, before, after)
	if s.Settings.CompressionEnabled && s.History.Len() > s.Settings.MaxHistorySize && s.Settings.MaxHistorySize > 0 {
		s.History.CompressOperations()
	}
	s.LastActivity = m.now()

	m.emit(Event{Kind: EventOperationApplied, SessionID: sessionID, UserID: userID, Payload: applied})

	return SynchronizationResult{
		Success:           true,
		AppliedOperations: []ot.Operation{applied},
		Conflicts:         conflicts,
		NewDocumentState:  after,
	}
}

func roleOf(s *Session, userID string) Role {
	if p, ok := s.Participants[userID]; ok {
		return p.Role
	}
	return RoleViewer
}

func pendingExcluding(pending []ot.Operation, excludeID string) []ot.Operation {
	if len(pending) == 0 {
		return nil
	}
	out := make([]ot.Operation, 0, len(pending))
	for _, p := range pending {
		if p.Metadata.OperationID != excludeID {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) reject(sessionID string, op ot.Operation, err error) SynchronizationResult {
	m.emit(Event{Kind: EventOperationRejected, SessionID: sessionID, UserID: op.Metadata.UserID, Payload: err})
	return SynchronizationResult{Success: false, RejectedOperations: []ot.Operation{op}, Err: err}
}

func (m *Manager) rejectLocked(s *Session, op ot.Operation, err error) SynchronizationResult {
	logger.Debug("operation rejected", logger.SessionField(s.ID), logger.UserField(op.Metadata.UserID))
	m.emit(Event{Kind: EventOperationRejected, SessionID: s.ID, UserID: op.Metadata.UserID, Payload: err})
	return SynchronizationResult{Success: false, RejectedOperations: []ot.Operation{op}, Err: err}
}

// SynchronizeOperations implements spec §4.4 synchronizeOperations: a
// batch apply, ops sorted by causal precedence (ot.Wins) before folding
// each through ApplyOperation in turn.
func (m *Manager) SynchronizeOperations(sessionID string, ops []ot.Operation) []SynchronizationResult {
	sorted := append([]ot.Operation(nil), ops...)
	sortByCausalPrecedence(sorted)

	results := make([]SynchronizationResult, 0, len(sorted))
	for i, op := range sorted {
		// The remainder of the batch is "queued but not yet applied" from
		// this operation's perspective (spec §4.4 step 5); ApplyOperation
		// excludes op itself and folds transform over whatever is left.
		m.setPending(sessionID, sorted[i+1:])
		results = append(results, m.ApplyOperation(sessionID, op, op.Metadata.UserID))
	}
	m.setPending(sessionID, nil)
	return results
}

func (m *Manager) setPending(sessionID string, ops []ot.Operation) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.session.PendingOps = ops
	e.mu.Unlock()
}

func sortByCausalPrecedence(ops []ot.Operation) {
	for i := 1; i < len(ops); i++ {
		j := i
		for j > 0 && ot.Wins(ops[j], ops[j-1]) {
			ops[j], ops[j-1] = ops[j-1], ops[j]
			j--
		}
	}
}

// GetStateSnapshot implements spec §4.4 getStateSnapshot: a deep copy of
// document state, vector clock, history length, and timestamp.
func (m *Manager) GetStateSnapshot(sessionID string, description string, automatic bool) (history.Snapshot, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return history.Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	snap := s.Snapshots.Create(s.Document, s.VectorClock, s.History.Len(), m.now(), description, automatic)
	return snap, nil
}

// RestoreFromSnapshot implements spec §4.4 restoreFromSnapshot: requires
// checksum match between the snapshot's document and the one supplied by
// the caller's expectation (the caller passes the snapshot it wants
// restored; checksum match is verified against the snapshot's own
// recorded document, guarding against a caller restoring a snapshot that
// was itself corrupted between capture and restore).
func (m *Manager) RestoreFromSnapshot(sessionID string, snap history.Snapshot) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session

	expected := ot.Checksum(snap.DocumentState.Content)
	if expected != snap.DocumentState.Checksum {
		return fmt.Errorf("%w: session %s", ErrInvalidSnapshot, sessionID)
	}

	s.Document = snap.DocumentState.Clone()
	s.VectorClock = snap.VectorClock.Clone()
	s.LastActivity = m.now()
	return nil
}

// Undo implements spec §4.5 undo(): pops the user's undo stack, rewrites
// the inverse as a fresh event, and runs it back through ApplyOperation
// so the transform kernel re-rebases it onto any concurrent edits (spec
// §9's resolved open question on undo vector clocks).
func (m *Manager) Undo(sessionID, userID string) (SynchronizationResult, error) {
	return m.undoRedo(sessionID, userID, history.PrepareUndo)
}

// Redo implements spec §4.5 redo().
func (m *Manager) Redo(sessionID, userID string) (SynchronizationResult, error) {
	return m.undoRedo(sessionID, userID, history.PrepareRedo)
}

type prepareFn func(l *history.Log, userID string, now int64, nextID func() string) (ot.Operation, bool)

func (m *Manager) undoRedo(sessionID, userID string, prepare prepareFn) (SynchronizationResult, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return SynchronizationResult{}, err
	}
	e.mu.Lock()
	s := e.session
	participant, ok := s.Participants[userID]
	if !ok || !participant.Permissions.CanEdit {
		e.mu.Unlock()
		return SynchronizationResult{}, fmt.Errorf("%w: user %s", ErrPermissionDenied, userID)
	}
	op, found := prepare(s.History, userID, m.now(), m.nextOpID)
	op.Metadata.SessionID = sessionID
	e.mu.Unlock()

	if !found {
		// NonInvertible / empty stack: "no undo available", silent (spec §7).
		return SynchronizationResult{Success: false}, nil
	}
	return m.ApplyOperation(sessionID, op, userID), nil
}

// MarkSaved emits EventDocumentSaved for a session, called by the
// lifecycle manager's auto-sync loop (spec §5) after a successful
// persistence write.
func (m *Manager) MarkSaved(sessionID string) {
	m.emit(Event{Kind: EventDocumentSaved, SessionID: sessionID})
}

// SessionCount reports the number of live sessions, used by the HTTP
// stats surface.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
