// Package collab implements the collaboration controller (spec §4.7, C7):
// binds transport connections to sessions, routes inbound envelope
// messages, runs the per-session serial operation processor, and
// broadcasts outbound messages to the right connections. It is grounded
// in the teacher's pkg/server/kolabpad.go subscriber/broadcast pattern,
// generalized from one global pad to many concurrent sessions.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kolabdoc/collabedit/internal/history"
	"github.com/kolabdoc/collabedit/internal/logger"
	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/presence"
	"github.com/kolabdoc/collabedit/internal/protocol"
	"github.com/kolabdoc/collabedit/internal/session"
)

// DefaultMaxConcurrentOperations is the spec §6 default for how many
// queued operations the per-session processor drains per run.
const DefaultMaxConcurrentOperations = 100

// reprocessDelay is the "~10ms" re-schedule interval from spec §4.7.
const reprocessDelay = 10 * time.Millisecond

// historyPageSize is how many trailing history entries accompany a
// document_response (spec §4.7 step 4: "the last 100 history entries").
const historyPageSize = 100

// Sender is anything that can deliver an outbound envelope to one
// connection; *wsapi.Conn satisfies it, and tests can fake it.
type Sender interface {
	Send(ctx context.Context, env protocol.Envelope) error
}

// Context is spec §3 CollaborationContext: what the controller knows
// about a connection once it has joined a session.
type Context struct {
	ConnectionID string
	SessionID    string
	DocumentID   string
	UserID       string
	Username     string
	Role         session.Role
	Permissions  session.Permissions
}

// ConnectInfo is supplied by the transport layer (spec §6: "the
// transport layer supplies a (connectionId, userId, username, role)
// tuple and the target (sessionId, documentId) pair"). RoomID is the
// externally-visible identifier clients use to name a document/session
// (e.g. a URL slug); the controller maps it to the session manager's
// internally generated session id on first creation.
type ConnectInfo struct {
	RoomID     string
	DocumentID string
	UserID     string
	Username   string
	Role       session.Role

	// OTP is presented by a joining client against an already-gated
	// session's Settings.OTP (SPEC_FULL §12).
	OTP string
	// RequireOTP asks the controller to generate and gate a newly
	// created session with an OTP, shared back to the creator via an
	// outbound otp message.
	RequireOTP bool
}

type connEntry struct {
	ctx    Context
	sender Sender
}

type queuedOp struct {
	op           ot.Operation
	originConnID string
}

// Controller is the collaboration controller (C7).
type Controller struct {
	sessions                *session.Manager
	maxConcurrentOperations int

	mu        sync.RWMutex
	conns     map[string]*connEntry            // activeContexts
	bySession map[string]map[string]*connEntry // connectionsBySession

	roomMu sync.Mutex
	rooms  map[string]string // external RoomID -> internal session id

	queueMu    sync.Mutex
	queues     map[string][]queuedOp
	processing map[string]bool
}

// NewController wires a controller atop an existing session.Manager.
// maxConcurrentOperations <= 0 uses DefaultMaxConcurrentOperations.
func NewController(sessions *session.Manager, maxConcurrentOperations int) *Controller {
	if maxConcurrentOperations <= 0 {
		maxConcurrentOperations = DefaultMaxConcurrentOperations
	}
	c := &Controller{
		sessions:                sessions,
		maxConcurrentOperations: maxConcurrentOperations,
		conns:                   make(map[string]*connEntry),
		bySession:               make(map[string]map[string]*connEntry),
		rooms:                   make(map[string]string),
		queues:                  make(map[string][]queuedOp),
		processing:              make(map[string]bool),
	}
	sessions.OnEvent(c.handleSessionEvent)
	return c
}

// Connect implements spec §4.7's initialization flow: derive a
// Participant, join or create the session, register the connection, and
// send the client an initial document_response.
func (c *Controller) Connect(ctx context.Context, connID string, sender Sender, info ConnectInfo) error {
	now := ot.NowMillis()
	perms := session.PermissionsForRole(info.Role)
	participant := &session.Participant{
		UserID:      info.UserID,
		Username:    info.Username,
		Role:        info.Role,
		Color:       ot.GenerateUserColor(info.UserID),
		Joined:      now,
		LastSeen:    now,
		Status:      presence.StatusActive,
		Permissions: perms,
	}

	internalID, err := c.resolveSession(info, participant)
	if err != nil {
		_ = c.sendError(ctx, sender, err, "SessionNotFound")
		return err
	}

	if err := c.sessions.JoinSession(internalID, participant); err != nil {
		_ = c.sendError(ctx, sender, err, "SessionFull")
		return err
	}

	cctx := Context{
		ConnectionID: connID,
		SessionID:    internalID,
		DocumentID:   info.DocumentID,
		UserID:       info.UserID,
		Username:     info.Username,
		Role:         info.Role,
		Permissions:  perms,
	}
	entry := &connEntry{ctx: cctx, sender: sender}

	c.mu.Lock()
	c.conns[connID] = entry
	if c.bySession[internalID] == nil {
		c.bySession[internalID] = make(map[string]*connEntry)
	}
	c.bySession[internalID][connID] = entry
	c.mu.Unlock()

	if err := c.sendDocumentResponse(ctx, entry); err != nil {
		// Spec §5: "if initial state delivery fails, the client is
		// disconnected" — undo registration and surface the error.
		c.Disconnect(connID)
		return fmt.Errorf("collab: send initial document_response: %w", err)
	}

	if sess, ok := c.sessions.Get(internalID); ok && sess.Settings.OTP != "" && info.RequireOTP {
		payload := protocol.OTPPayload{OTP: sess.Settings.OTP, UserID: info.UserID, Username: info.Username}
		if env, err := protocol.NewEnvelope(protocol.TypeOTP, protocol.SystemUserID, payload, ot.NowMillis(), ot.CreateOperationID()); err == nil {
			_ = sender.Send(ctx, env)
		}
	}
	return nil
}

func (c *Controller) resolveSession(info ConnectInfo, owner *session.Participant) (string, error) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	if internalID, ok := c.rooms[info.RoomID]; ok {
		if live, ok := c.sessions.Get(internalID); ok {
			if live.Settings.OTP != "" && info.OTP != live.Settings.OTP {
				return "", fmt.Errorf("%w: otp required for room %s", session.ErrPermissionDenied, info.RoomID)
			}
			return internalID, nil
		}
		delete(c.rooms, info.RoomID)
	}

	if info.Role != session.RoleOwner && info.Role != session.RoleAdmin {
		return "", fmt.Errorf("%w: room %s", session.ErrSessionNotFound, info.RoomID)
	}

	settings := session.DefaultSettings()
	if info.RequireOTP {
		settings.OTP = ot.GenerateOTP()
	}
	internalID := c.sessions.CreateSession(info.DocumentID, nil, owner, settings)
	c.rooms[info.RoomID] = internalID
	return internalID, nil
}

// Disconnect implements spec §4.7's disconnection handling: leaveSession,
// drop from activeContexts/connectionsBySession.
func (c *Controller) Disconnect(connID string) {
	c.mu.Lock()
	entry, ok := c.conns[connID]
	if ok {
		delete(c.conns, connID)
		if set, exists := c.bySession[entry.ctx.SessionID]; exists {
			delete(set, connID)
			if len(set) == 0 {
				delete(c.bySession, entry.ctx.SessionID)
			}
		}
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if err := c.sessions.LeaveSession(entry.ctx.SessionID, entry.ctx.UserID); err != nil {
		logger.Debug("leaveSession on disconnect", logger.SessionField(entry.ctx.SessionID), logger.UserField(entry.ctx.UserID))
	}
}

// HandleEnvelope dispatches one inbound envelope per the spec §6 table.
func (c *Controller) HandleEnvelope(ctx context.Context, connID string, env protocol.Envelope) error {
	c.mu.RLock()
	entry, ok := c.conns[connID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("collab: unknown connection %s", connID)
	}

	switch env.Type {
	case protocol.TypeOperation:
		return c.handleOperation(ctx, entry, env)
	case protocol.TypeCursor:
		return c.handleCursor(ctx, entry, env)
	case protocol.TypeSelection:
		return c.handleSelection(ctx, entry, env)
	case protocol.TypePresence:
		return c.handlePresence(ctx, entry, env)
	case protocol.TypeDocumentRequest:
		return c.sendDocumentResponse(ctx, entry)
	case protocol.TypeUndo:
		return c.handleUndoRedo(ctx, entry, true)
	case protocol.TypeRedo:
		return c.handleUndoRedo(ctx, entry, false)
	default:
		return c.sendError(ctx, entry.sender, fmt.Errorf("collab: unsupported message type %q", env.Type), "UnsupportedType")
	}
}

func (c *Controller) handleOperation(ctx context.Context, entry *connEntry, env protocol.Envelope) error {
	if !entry.ctx.Permissions.CanEdit {
		return c.sendError(ctx, entry.sender, fmt.Errorf("collab: %s cannot edit", entry.ctx.UserID), "PermissionDenied")
	}

	var payload protocol.OperationPayload
	if err := env.DecodeData(&payload); err != nil {
		return c.sendError(ctx, entry.sender, err, "ValidationFailed")
	}
	op, err := protocol.FromWireOperation(payload.Operation)
	if err != nil {
		return c.sendError(ctx, entry.sender, err, "ValidationFailed")
	}

	// Step 2 of spec §4.7's operation handling: populate missing metadata
	// with fresh values for this connection.
	if op.Metadata.OperationID == "" {
		op.Metadata.OperationID = ot.CreateOperationID()
	}
	if op.Metadata.UserID == "" {
		op.Metadata.UserID = entry.ctx.UserID
	}
	if op.Metadata.SessionID == "" {
		op.Metadata.SessionID = entry.ctx.SessionID
	}
	if op.Metadata.Timestamp == 0 {
		op.Metadata.Timestamp = ot.NowMillis()
	}

	if err := c.enqueue(entry.ctx.SessionID, op, entry.ctx.ConnectionID); err != nil {
		return c.sendError(ctx, entry.sender, err, "SessionBusy")
	}
	go c.processSession(ctx, entry.ctx.SessionID)
	return nil
}

func (c *Controller) enqueue(sessionID string, op ot.Operation, originConnID string) error {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	limit := c.maxConcurrentOperations * 10
	if len(c.queues[sessionID]) >= limit {
		return fmt.Errorf("collab: session %s queue saturated", sessionID)
	}
	c.queues[sessionID] = append(c.queues[sessionID], queuedOp{op: op, originConnID: originConnID})
	return nil
}

// processSession is the per-session serial operation processor (spec
// §4.7): at most one instance runs per session at a time, draining up to
// maxConcurrentOperations per pass and re-scheduling itself if the queue
// is still non-empty afterward.
func (c *Controller) processSession(ctx context.Context, sessionID string) {
	c.queueMu.Lock()
	if c.processing[sessionID] {
		c.queueMu.Unlock()
		return
	}
	c.processing[sessionID] = true
	batch := c.drain(sessionID)
	c.queueMu.Unlock()

	defer func() {
		c.queueMu.Lock()
		c.processing[sessionID] = false
		remaining := len(c.queues[sessionID])
		c.queueMu.Unlock()
		if remaining > 0 {
			time.AfterFunc(reprocessDelay, func() { c.processSession(ctx, sessionID) })
		}
	}()

	for _, qo := range batch {
		result := c.sessions.ApplyOperation(sessionID, qo.op, qo.op.Metadata.UserID)
		if result.Success {
			c.broadcastApplied(ctx, sessionID, qo.originConnID, result)
			continue
		}
		c.sendRejection(ctx, sessionID, qo.originConnID, result)
	}
}

func (c *Controller) drain(sessionID string) []queuedOp {
	q := c.queues[sessionID]
	n := len(q)
	if n > c.maxConcurrentOperations {
		n = c.maxConcurrentOperations
	}
	batch := q[:n]
	c.queues[sessionID] = q[n:]
	return batch
}

func (c *Controller) broadcastApplied(ctx context.Context, sessionID, originConnID string, result session.SynchronizationResult) {
	for _, applied := range result.AppliedOperations {
		payload := protocol.OperationPayload{Operation: protocol.ToWireOperation(applied)}
		env, err := protocol.NewEnvelope(protocol.TypeOperation, applied.Metadata.UserID, payload, ot.NowMillis(), ot.CreateOperationID())
		if err != nil {
			logger.Error("marshal broadcast operation", logger.SessionField(sessionID))
			continue
		}
		c.broadcastExcept(ctx, sessionID, originConnID, env)
	}
	for _, conflict := range result.Conflicts {
		c.notifyConflict(ctx, sessionID, originConnID, conflict)
	}
}

func (c *Controller) sendRejection(ctx context.Context, sessionID, originConnID string, result session.SynchronizationResult) {
	entry := c.connByID(originConnID)
	if entry == nil {
		return
	}
	if len(result.Conflicts) > 0 {
		for _, conflict := range result.Conflicts {
			c.notifyOne(ctx, entry, conflict)
		}
		return
	}
	cause := result.Err
	if cause == nil {
		cause = errors.New("operation rejected")
	}
	_ = c.sendError(ctx, entry.sender, cause, "ValidationFailed")
}

func (c *Controller) notifyConflict(ctx context.Context, sessionID, originConnID string, conflict ot.ConflictAnnotation) {
	entry := c.connByID(originConnID)
	if entry == nil {
		return
	}
	c.notifyOne(ctx, entry, conflict)
}

func (c *Controller) notifyOne(ctx context.Context, entry *connEntry, conflict ot.ConflictAnnotation) {
	payload := protocol.ConflictNotificationPayload{
		ConflictID: ot.CreateOperationID(),
		Annotation: conflict.Kind,
	}
	env, err := protocol.NewEnvelope(protocol.TypeConflictNotification, protocol.SystemUserID, payload, ot.NowMillis(), ot.CreateOperationID())
	if err != nil {
		return
	}
	_ = entry.sender.Send(ctx, env)
}

func (c *Controller) handleCursor(ctx context.Context, entry *connEntry, env protocol.Envelope) error {
	var payload protocol.CursorPayload
	if err := env.DecodeData(&payload); err != nil {
		return c.sendError(ctx, entry.sender, err, "ValidationFailed")
	}
	sel := wireToSelection(payload.Selection)
	_ = c.sessions.UpdateCursor(entry.ctx.SessionID, entry.ctx.UserID, payload.Position, sel)
	return nil
}

func (c *Controller) handleSelection(ctx context.Context, entry *connEntry, env protocol.Envelope) error {
	var payload protocol.SelectionPayload
	if err := env.DecodeData(&payload); err != nil {
		return c.sendError(ctx, entry.sender, err, "ValidationFailed")
	}
	sel := &presence.Selection{Start: payload.Start, End: payload.End, Direction: payload.Direction}
	_ = c.sessions.UpdateCursor(entry.ctx.SessionID, entry.ctx.UserID, payload.Start, sel)
	return nil
}

func wireToSelection(w *protocol.WireSelection) *presence.Selection {
	if w == nil {
		return nil
	}
	return &presence.Selection{Start: w.Start, End: w.End, Direction: w.Direction}
}

func (c *Controller) handlePresence(ctx context.Context, entry *connEntry, env protocol.Envelope) error {
	var payload protocol.PresencePayload
	if err := env.DecodeData(&payload); err != nil {
		return c.sendError(ctx, entry.sender, err, "ValidationFailed")
	}
	return c.sessions.SetStatus(entry.ctx.SessionID, entry.ctx.UserID, presence.Status(payload.Status))
}

func (c *Controller) handleUndoRedo(ctx context.Context, entry *connEntry, isUndo bool) error {
	var (
		result session.SynchronizationResult
		err    error
	)
	if isUndo {
		result, err = c.sessions.Undo(entry.ctx.SessionID, entry.ctx.UserID)
	} else {
		result, err = c.sessions.Redo(entry.ctx.SessionID, entry.ctx.UserID)
	}
	if err != nil {
		return c.sendError(ctx, entry.sender, err, "PermissionDenied")
	}
	if !result.Success {
		// NonInvertible / empty stack: spec §7 "silent".
		return nil
	}
	c.broadcastApplied(ctx, entry.ctx.SessionID, entry.ctx.ConnectionID, result)
	return nil
}

// sendDocumentResponse implements spec §4.7 step 4.
func (c *Controller) sendDocumentResponse(ctx context.Context, entry *connEntry) error {
	s, ok := c.sessions.Get(entry.ctx.SessionID)
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, entry.ctx.SessionID)
	}

	nodes := s.History.Nodes()
	if len(nodes) > historyPageSize {
		nodes = nodes[len(nodes)-historyPageSize:]
	}
	wireOps := make([]protocol.WireOperation, 0, len(nodes))
	for _, n := range nodes {
		wireOps = append(wireOps, protocol.ToWireOperation(n.Operation))
	}

	payload := protocol.DocumentResponsePayload{
		DocumentState:    protocol.ToWireDocumentState(s.Document),
		OperationHistory: wireOps,
	}
	env, err := protocol.NewEnvelope(protocol.TypeDocumentResponse, protocol.SystemUserID, payload, ot.NowMillis(), ot.CreateOperationID())
	if err != nil {
		return err
	}
	return entry.sender.Send(ctx, env)
}

func (c *Controller) sendError(ctx context.Context, sender Sender, cause error, code string) error {
	payload := protocol.ErrorPayload{Error: cause.Error(), Code: code}
	env, err := protocol.NewEnvelope(protocol.TypeError, protocol.SystemUserID, payload, ot.NowMillis(), ot.CreateOperationID())
	if err != nil {
		return err
	}
	return sender.Send(ctx, env)
}

func (c *Controller) connByID(connID string) *connEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conns[connID]
}

func (c *Controller) broadcastExcept(ctx context.Context, sessionID, exceptConnID string, env protocol.Envelope) {
	c.mu.RLock()
	targets := make([]*connEntry, 0, len(c.bySession[sessionID]))
	for id, e := range c.bySession[sessionID] {
		if id == exceptConnID {
			continue
		}
		targets = append(targets, e)
	}
	c.mu.RUnlock()

	for _, e := range targets {
		if err := e.sender.Send(ctx, env); err != nil {
			logger.Debug("broadcast send failed", logger.SessionField(sessionID), logger.ConnectionField(e.ctx.ConnectionID))
		}
	}
}

func (c *Controller) broadcastAll(ctx context.Context, sessionID string, env protocol.Envelope) {
	c.broadcastExcept(ctx, sessionID, "", env)
}

// handleSessionEvent forwards session.Manager events into outbound
// broadcasts: presence fan-out (cursor/typing/status/viewport/follow/
// join/leave, all arrive here wrapped as session.EventCursorUpdated
// carrying the original presence.Event) and auto-save notifications.
func (c *Controller) handleSessionEvent(ev session.Event) {
	ctx := context.Background()

	switch ev.Kind {
	case session.EventCursorUpdated:
		pev, ok := ev.Payload.(presence.Event)
		if !ok {
			return
		}
		c.broadcastPresenceEvent(ctx, ev.SessionID, pev)
	case session.EventDocumentSaved:
		docID := ev.SessionID
		if s, ok := c.sessions.Get(ev.SessionID); ok {
			docID = s.DocumentID
		}
		env, err := protocol.NewEnvelope(protocol.TypeDocumentSaved, protocol.SystemUserID,
			protocol.DocumentSavedPayload{DocumentID: docID}, ot.NowMillis(), ot.CreateOperationID())
		if err == nil {
			c.broadcastAll(ctx, ev.SessionID, env)
		}
	}
}

func (c *Controller) broadcastPresenceEvent(ctx context.Context, sessionID string, pev presence.Event) {
	var (
		typ     protocol.MessageType
		payload any
	)
	switch pev.Kind {
	case presence.EventParticipantJoined:
		typ = protocol.TypeParticipantJoined
		payload = c.participantPayload(sessionID, pev.UserID)
	case presence.EventParticipantLeft:
		typ = protocol.TypeParticipantLeft
		payload = c.participantPayload(sessionID, pev.UserID)
	case presence.EventCursorUpdated:
		cp, ok := pev.Payload.(*presence.CursorPosition)
		if !ok || cp == nil {
			return
		}
		typ = protocol.TypeCursor
		payload = protocol.ToWireCursor(*cp)
	case presence.EventTypingUpdated:
		isTyping, ok := pev.Payload.(bool)
		if !ok {
			return
		}
		typ = protocol.TypeTypingUpdated
		payload = protocol.TypingPayload{UserID: pev.UserID, IsTyping: isTyping}
	case presence.EventStatusChanged:
		status, ok := pev.Payload.(presence.Status)
		if !ok {
			return
		}
		typ = protocol.TypeStatusChanged
		payload = protocol.StatusPayload{UserID: pev.UserID, Status: string(status)}
	case presence.EventViewportUpdated:
		vp, ok := pev.Payload.(*presence.Viewport)
		if !ok || vp == nil {
			return
		}
		typ = protocol.TypeViewportUpdated
		payload = protocol.ViewportPayload{UserID: pev.UserID, Start: vp.Start, End: vp.End}
	case presence.EventUserFollow:
		leaderID, _ := pev.Payload.(string)
		typ = protocol.TypeUserFollow
		payload = protocol.FollowPayload{FollowerID: pev.UserID, LeaderID: leaderID}
	default:
		return
	}

	env, err := protocol.NewEnvelope(typ, pev.UserID, payload, ot.NowMillis(), ot.CreateOperationID())
	if err != nil {
		return
	}
	c.broadcastAll(ctx, sessionID, env)
}

func (c *Controller) participantPayload(sessionID, userID string) protocol.ParticipantPayload {
	s, ok := c.sessions.Get(sessionID)
	if !ok {
		return protocol.ParticipantPayload{UserID: userID}
	}
	p, ok := s.Participants[userID]
	if !ok {
		return protocol.ParticipantPayload{UserID: userID}
	}
	return protocol.ParticipantPayload{UserID: p.UserID, Username: p.Username, Role: string(p.Role), Color: p.Color}
}

// ExportHistory exposes a session's full history log, used by the HTTP
// export endpoint.
func (c *Controller) ExportHistory(sessionID string) ([]history.Node, bool) {
	s, ok := c.sessions.Get(sessionID)
	if !ok {
		return nil, false
	}
	return s.History.Nodes(), true
}

// SessionCount reports the number of live sessions in the session manager
// (sessions torn down by lifecycle are no longer counted).
func (c *Controller) SessionCount() int {
	return c.sessions.SessionCount()
}
