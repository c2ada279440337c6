// Package presence implements the cursor/selection/typing/status tracker
// (spec §4.6, C5): throttled cursor fan-out, typing indicators, and
// idle/away/offline transitions, all on a parallel, non-serialized path
// from document operation application.
package presence

import "github.com/kolabdoc/collabedit/internal/ot"

// Status is a participant's presence state.
type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Defaults per spec §4.6.
const (
	DefaultCursorThrottleMillis   = 100
	DefaultTypingTimeoutMillis    = 3_000
	DefaultPresenceTimeoutMillis  = 5 * 60 * 1000
	DefaultMaxCursorsDisplayed    = 10
)

// Selection is a text range with an optional direction.
type Selection struct {
	Start     int
	End       int
	Direction string // "forward" | "backward", optional
}

// CursorPosition is spec §3 CursorPosition.
type CursorPosition struct {
	UserID    string
	Position  int
	Selection *Selection
	Timestamp int64
	Color     string
}

// Typing tracks whether a user is currently typing and when that started.
type Typing struct {
	IsTyping  bool
	StartedAt int64
}

// Presence is spec §3/§4.6 Presence.
type Presence struct {
	UserID    string
	Status    Status
	LastSeen  int64
	Cursor    *CursorPosition
	Selection *Selection
	Typing    Typing
	Viewport  *Viewport
	Color     string
}

// Viewport is the visible range of a client's editor, used for
// user_follow / viewport_updated events.
type Viewport struct {
	Start int
	End   int
}

// EventKind enumerates the presence events emitted per spec §4.6.
type EventKind string

const (
	EventParticipantJoined EventKind = "participant_joined"
	EventParticipantLeft   EventKind = "participant_left"
	EventCursorUpdated     EventKind = "cursor_updated"
	EventTypingUpdated     EventKind = "typing_updated"
	EventStatusChanged     EventKind = "status_changed"
	EventViewportUpdated   EventKind = "viewport_updated"
	EventUserFollow        EventKind = "user_follow"
)

// Event is a single presence fan-out notification.
type Event struct {
	Kind    EventKind
	UserID  string
	Payload any
}

// Tracker holds one session's presence state and never mutates session
// content. It has no lock of its own: the session manager calls it while
// holding the same per-session mutex that guards the document state.
type Tracker struct {
	presences           map[string]*Presence
	lastCursorAt        map[string]int64
	cursorThrottle      int64
	typingTimeout       int64
	presenceTimeout     int64
	maxCursorsDisplayed int
	listeners           []func(Event)
}

// NewTracker returns a Tracker with the given (or default, if zero)
// tuning parameters.
func NewTracker(cursorThrottle, typingTimeout, presenceTimeout int64, maxCursorsDisplayed int) *Tracker {
	if cursorThrottle <= 0 {
		cursorThrottle = DefaultCursorThrottleMillis
	}
	if typingTimeout <= 0 {
		typingTimeout = DefaultTypingTimeoutMillis
	}
	if presenceTimeout <= 0 {
		presenceTimeout = DefaultPresenceTimeoutMillis
	}
	if maxCursorsDisplayed <= 0 {
		maxCursorsDisplayed = DefaultMaxCursorsDisplayed
	}
	return &Tracker{
		presences:           make(map[string]*Presence),
		lastCursorAt:        make(map[string]int64),
		cursorThrottle:      cursorThrottle,
		typingTimeout:       typingTimeout,
		presenceTimeout:     presenceTimeout,
		maxCursorsDisplayed: maxCursorsDisplayed,
	}
}

// OnEvent registers a synchronous subscriber (spec §9: "synchronous
// dispatch on emit; subscribers must not block").
func (t *Tracker) OnEvent(fn func(Event)) {
	t.listeners = append(t.listeners, fn)
}

func (t *Tracker) emit(ev Event) {
	for _, fn := range t.listeners {
		fn(ev)
	}
}

// Join registers a participant's presence (spec I5: re-join updates
// lastSeen/status rather than duplicating).
func (t *Tracker) Join(userID, color string, now int64) {
	if p, ok := t.presences[userID]; ok {
		p.Status = StatusActive
		p.LastSeen = now
		return
	}
	t.presences[userID] = &Presence{UserID: userID, Status: StatusActive, LastSeen: now, Color: color}
	t.emit(Event{Kind: EventParticipantJoined, UserID: userID})
}

// Leave removes a participant's presence and cursor.
func (t *Tracker) Leave(userID string) {
	if _, ok := t.presences[userID]; !ok {
		return
	}
	delete(t.presences, userID)
	delete(t.lastCursorAt, userID)
	t.emit(Event{Kind: EventParticipantLeft, UserID: userID})
}

// UpdateCursor applies P6/the spec §4.6 cursor throttle: an update within
// cursorThrottle of the user's last one is dropped. Accepted updates reset
// the presence timer. Returns true if the update was applied.
func (t *Tracker) UpdateCursor(userID string, pos int, sel *Selection, now int64) bool {
	last, seen := t.lastCursorAt[userID]
	if seen && now-last < t.cursorThrottle {
		return false
	}
	t.lastCursorAt[userID] = now

	p, ok := t.presences[userID]
	if !ok {
		p = &Presence{UserID: userID}
		t.presences[userID] = p
	}
	p.Cursor = &CursorPosition{UserID: userID, Position: pos, Selection: sel, Timestamp: now, Color: p.Color}
	p.Selection = sel
	p.LastSeen = now
	if p.Status != StatusActive {
		p.Status = StatusActive
		t.emit(Event{Kind: EventStatusChanged, UserID: userID, Payload: StatusActive})
	}
	t.emit(Event{Kind: EventCursorUpdated, UserID: userID, Payload: p.Cursor})
	return true
}

// SetTyping starts/restarts (or clears) the typing indicator. Expiry
// happens only when a caller invokes ExpireTyping; this package has no
// scheduler of its own.
func (t *Tracker) SetTyping(userID string, isTyping bool, now int64) {
	p, ok := t.presences[userID]
	if !ok {
		p = &Presence{UserID: userID}
		t.presences[userID] = p
	}
	p.Typing = Typing{IsTyping: isTyping, StartedAt: now}
	t.emit(Event{Kind: EventTypingUpdated, UserID: userID, Payload: isTyping})
}

// ExpireTyping clears typing indicators that have run past typingTimeout.
func (t *Tracker) ExpireTyping(now int64) {
	for userID, p := range t.presences {
		if p.Typing.IsTyping && now-p.Typing.StartedAt >= t.typingTimeout {
			p.Typing.IsTyping = false
			t.emit(Event{Kind: EventTypingUpdated, UserID: userID, Payload: false})
		}
	}
}

// SetStatus explicitly sets status (inbound "presence" message, spec §6).
func (t *Tracker) SetStatus(userID string, status Status, now int64) {
	p, ok := t.presences[userID]
	if !ok {
		p = &Presence{UserID: userID}
		t.presences[userID] = p
	}
	p.Status = status
	p.LastSeen = now
	t.emit(Event{Kind: EventStatusChanged, UserID: userID, Payload: status})
	if status == StatusOffline {
		p.Cursor = nil
		p.Selection = nil
		p.Typing = Typing{}
	}
}

// ExpireStatuses advances active->away->offline transitions for any
// presence whose LastSeen exceeds presenceTimeout (spec §4.6: "any
// activity resets a presence timer; on expiry active->away; a second
// expiry away->offline").
func (t *Tracker) ExpireStatuses(now int64) {
	for userID, p := range t.presences {
		if now-p.LastSeen < t.presenceTimeout {
			continue
		}
		switch p.Status {
		case StatusActive, StatusIdle:
			p.Status = StatusAway
			p.LastSeen = now
			t.emit(Event{Kind: EventStatusChanged, UserID: userID, Payload: StatusAway})
		case StatusAway:
			p.Status = StatusOffline
			p.Cursor = nil
			p.Selection = nil
			p.Typing = Typing{}
			t.emit(Event{Kind: EventStatusChanged, UserID: userID, Payload: StatusOffline})
		}
	}
}

// SetViewport records a participant's visible range and emits
// viewport_updated.
func (t *Tracker) SetViewport(userID string, start, end int) {
	p, ok := t.presences[userID]
	if !ok {
		p = &Presence{UserID: userID}
		t.presences[userID] = p
	}
	p.Viewport = &Viewport{Start: start, End: end}
	t.emit(Event{Kind: EventViewportUpdated, UserID: userID, Payload: p.Viewport})
}

// Follow emits a user_follow event requesting followerID track leaderID's
// viewport; the controller turns this into client-side follow-mode.
func (t *Tracker) Follow(followerID, leaderID string) {
	t.emit(Event{Kind: EventUserFollow, UserID: followerID, Payload: leaderID})
}

// GetSessionCursors returns other participants' cursors, filtering out
// ones older than presenceTimeout and capping the list at
// maxCursorsDisplayed (spec §4.6 getSessionCursors).
func (t *Tracker) GetSessionCursors(excludeUserID string, now int64) []CursorPosition {
	var out []CursorPosition
	for userID, p := range t.presences {
		if userID == excludeUserID || p.Cursor == nil {
			continue
		}
		if now-p.Cursor.Timestamp > t.presenceTimeout {
			continue
		}
		out = append(out, *p.Cursor)
		if len(out) >= t.maxCursorsDisplayed {
			break
		}
	}
	return out
}

// Get returns a participant's current presence, if tracked.
func (t *Tracker) Get(userID string) (Presence, bool) {
	p, ok := t.presences[userID]
	if !ok {
		return Presence{}, false
	}
	return *p, true
}

// GenerateColor deterministically assigns a color from the ot package's
// shared palette, keeping presence and document-op user coloring
// consistent.
func GenerateColor(userID string) string {
	return ot.GenerateUserColor(userID)
}
