// Package lifecycle implements the session lifecycle manager (spec §4.8,
// C8): a thin veneer over the session state manager that maintains
// per-session metrics and orchestrates auto-cleanup of idle sessions.
package lifecycle

import (
	"math/rand"
	"sync"
	"time"

	"github.com/kolabdoc/collabedit/internal/history"
	"github.com/kolabdoc/collabedit/internal/logger"
	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/session"
)

// Metrics is spec §4.8's per-session metrics surface.
type Metrics struct {
	SessionID               string
	Duration                time.Duration
	OperationCount           int
	ParticipantCount         int
	ConflictCount            int
	AverageResolutionTime    time.Duration
	CollaborationEfficiency  float64 // applied / (applied + rejected)

	operationsApplied  int
	operationsRejected int
}

// Export is C8's exportSession result: final content, full history,
// participants, and metrics, produced before a session is torn down.
type Export struct {
	SessionID    string
	DocumentID   string
	Content      string
	Version      int
	History      []history.Node
	Participants []*session.Participant
	Metrics      Metrics
	ExportedAt   int64
}

// Manager is the session lifecycle manager (C8).
type Manager struct {
	sessions *session.Manager

	mu                 sync.Mutex
	metrics            map[string]*Metrics
	sessionStart       map[string]int64
	maxSessionDuration time.Duration

	stop chan struct{}
	done chan struct{}

	onExport func(Export)
	persist  func(documentID string, doc *ot.DocumentState) error

	lastSavedVersion map[string]int
}

// NewManager wires a lifecycle manager over an existing session.Manager.
// maxSessionDuration is the spec §3 "Lifecycle" idle threshold (default
// 24h); a session whose LastActivity is older than this when the sweep
// runs is exported and torn down.
func NewManager(sessions *session.Manager, maxSessionDuration time.Duration) *Manager {
	if maxSessionDuration <= 0 {
		maxSessionDuration = 24 * time.Hour
	}
	m := &Manager{
		sessions:           sessions,
		metrics:            make(map[string]*Metrics),
		sessionStart:       make(map[string]int64),
		maxSessionDuration: maxSessionDuration,
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		lastSavedVersion:   make(map[string]int),
	}
	sessions.OnEvent(m.handleSessionEvent)
	return m
}

// OnExport registers a callback invoked with a session's Export just
// before it is torn down, so the controller can notify remaining
// connections and a persistence layer can flush the final state.
func (m *Manager) OnExport(fn func(Export)) {
	m.onExport = fn
}

// OnPersist wires the store backend's save path into the auto-sync loop
// (spec §5: "emits document_saved if lastActivity is older than
// autoSaveInterval").
func (m *Manager) OnPersist(fn func(documentID string, doc *ot.DocumentState) error) {
	m.persist = fn
}

// AutoSaveSweep checks every session against its own
// AutoSaveIntervalMillis setting and persists+marks-saved any session
// that has been idle past that threshold since its last save.
func (m *Manager) AutoSaveSweep(nowMillis int64) {
	if m.persist == nil {
		return
	}
	for _, id := range m.sessions.SessionIDs() {
		s, ok := m.sessions.Get(id)
		if !ok {
			continue
		}
		interval := s.Settings.AutoSaveIntervalMillis
		if interval <= 0 {
			interval = session.DefaultSettings().AutoSaveIntervalMillis
		}
		if nowMillis-s.LastActivity < interval {
			continue
		}

		m.mu.Lock()
		already := m.lastSavedVersion[id] == s.Document.Version
		m.mu.Unlock()
		if already {
			continue
		}

		if err := m.persist(s.DocumentID, s.Document); err != nil {
			logger.Warn("autosave failed", logger.SessionField(id))
			continue
		}
		m.mu.Lock()
		m.lastSavedVersion[id] = s.Document.Version
		m.mu.Unlock()
		m.sessions.MarkSaved(id)
	}
}

func (m *Manager) handleSessionEvent(ev session.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Kind {
	case session.EventSessionCreated:
		m.metrics[ev.SessionID] = &Metrics{SessionID: ev.SessionID}
		m.sessionStart[ev.SessionID] = ot.NowMillis()
	case session.EventOperationApplied:
		if met, ok := m.metrics[ev.SessionID]; ok {
			met.operationsApplied++
			met.OperationCount++
		}
	case session.EventOperationRejected:
		if met, ok := m.metrics[ev.SessionID]; ok {
			met.operationsRejected++
		}
	case session.EventSessionEmpty:
		// Empty sessions are eligible for cleanup on the next sweep; the
		// sweep itself (not this handler) performs teardown so export can
		// run outside the event-dispatch call stack (spec §9: "subscribers
		// must not block" — export/teardown do real work and must not run
		// synchronously inside Manager.emit).
	}
}

// Start runs the periodic auto-save + auto-cleanup sweep every interval
// (cmd/server passes its persist-every setting, default 3s) until Stop is
// called. The interval is fixed; PersistJitter is not applied. Run this
// once per process; it returns immediately, doing its work on a
// background goroutine.
func (m *Manager) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				now := time.Now().UnixMilli()
				m.AutoSaveSweep(now)
				m.Sweep(now)
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

// Sweep exports and tears down every session idle longer than
// maxSessionDuration, or empty of participants. Exposed directly so
// callers such as tests can force a sweep without waiting on the ticker.
func (m *Manager) Sweep(nowMillis int64) {
	for _, id := range m.sessions.SessionIDs() {
		s, ok := m.sessions.Get(id)
		if !ok {
			continue
		}
		idle := nowMillis-s.LastActivity > m.maxSessionDuration.Milliseconds()
		empty := len(s.Participants) == 0
		if !idle && !empty {
			continue
		}
		m.teardown(id)
	}
}

func (m *Manager) teardown(sessionID string) {
	exp, ok := m.ExportSession(sessionID)
	if !ok {
		return
	}
	if m.onExport != nil {
		m.onExport(exp)
	}
	for _, p := range exp.Participants {
		_ = m.sessions.LeaveSession(sessionID, p.UserID)
	}
	m.sessions.Delete(sessionID)

	m.mu.Lock()
	delete(m.metrics, sessionID)
	delete(m.sessionStart, sessionID)
	m.mu.Unlock()

	logger.Info("session auto-cleaned", logger.SessionField(sessionID))
}

// ExportSession implements spec §4.8 exportSession: final content, full
// history, participants, and metrics, produced before cleanup.
func (m *Manager) ExportSession(sessionID string) (Export, bool) {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return Export{}, false
	}

	participants := make([]*session.Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, p)
	}

	return Export{
		SessionID:    sessionID,
		DocumentID:   s.DocumentID,
		Content:      s.Document.Content,
		Version:      s.Document.Version,
		History:      s.History.Nodes(),
		Participants: participants,
		Metrics:      m.Metrics(sessionID),
		ExportedAt:   ot.NowMillis(),
	}, true
}

// Metrics returns a snapshot of a session's accumulated metrics,
// computing the derived fields (duration, conflictCount,
// collaborationEfficiency) from the resolver/history state at call time.
func (m *Manager) Metrics(sessionID string) Metrics {
	m.mu.Lock()
	met, ok := m.metrics[sessionID]
	start := m.sessionStart[sessionID]
	var snapshot Metrics
	if ok {
		snapshot = *met
	} else {
		snapshot = Metrics{SessionID: sessionID}
	}
	m.mu.Unlock()

	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return snapshot
	}
	snapshot.ParticipantCount = len(s.Participants)
	snapshot.ConflictCount = len(s.ResolutionLog)
	snapshot.Duration = time.Duration(ot.NowMillis()-start) * time.Millisecond

	total := snapshot.operationsApplied + snapshot.operationsRejected
	if total > 0 {
		snapshot.CollaborationEfficiency = float64(snapshot.operationsApplied) / float64(total)
	}
	return snapshot
}

// PersistJitter returns syncInterval perturbed by up to +/-33%, matching
// the teacher's persister goroutine's random jitter to avoid a
// thundering herd of simultaneous auto-saves across many sessions
// (SPEC_FULL §12).
func PersistJitter(syncInterval time.Duration) time.Duration {
	if syncInterval <= 0 {
		return syncInterval
	}
	jitter := time.Duration(rand.Int63n(int64(syncInterval) / 3))
	if rand.Intn(2) == 0 {
		return syncInterval + jitter
	}
	return syncInterval - jitter
}
