// Package httpapi exposes the HTTP surface (stats/health/text/export)
// that sits alongside the WebSocket collaboration controller, grounded in
// the teacher's pkg/server/server.go bare-ServeMux routes but rebuilt on
// gin + gin-contrib/cors, matching the rest of the pack's HTTP services.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kolabdoc/collabedit/internal/collab"
	"github.com/kolabdoc/collabedit/internal/lifecycle"
	"github.com/kolabdoc/collabedit/internal/protocol"
	"github.com/kolabdoc/collabedit/internal/session"
	"github.com/kolabdoc/collabedit/internal/store"
)

// Stats is the /api/stats response shape (the teacher's Stats struct,
// extended with session-level fields this system tracks that a plain
// text pad never needed).
type Stats struct {
	StartTime    int64 `json:"startTime"`
	UptimeMillis int64 `json:"uptimeMillis"`
	NumSessions  int   `json:"numSessions"`
}

// SessionSummary is one row of the /api/sessions listing (cmd/monitor's
// primary data source).
type SessionSummary struct {
	SessionID        string  `json:"sessionId"`
	DocumentID       string  `json:"documentId"`
	ParticipantCount int     `json:"participantCount"`
	OperationCount   int     `json:"operationCount"`
	ConflictCount    int     `json:"conflictCount"`
	Efficiency       float64 `json:"collaborationEfficiency"`
}

// Server wires the gin engine with access to the live session/lifecycle/
// controller state. store is optional — a nil store disables /api/text's
// database fallback, mirroring the teacher's "Optional database" comment.
type Server struct {
	sessions   *session.Manager
	lifecycle  *lifecycle.Manager
	controller *collab.Controller
	store      store.Store
	startTime  time.Time

	engine *gin.Engine
}

// NewServer builds the gin engine and registers routes. store may be nil.
func NewServer(sessions *session.Manager, lc *lifecycle.Manager, controller *collab.Controller, st store.Store) *Server {
	s := &Server{
		sessions:   sessions,
		lifecycle:  lc,
		controller: controller,
		store:      st,
		startTime:  time.Now(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.GET("/api/health", s.handleHealth)
	engine.GET("/api/stats", s.handleStats)
	engine.GET("/api/sessions", s.handleSessions)
	engine.GET("/api/sessions/:id/export", s.handleExport)
	engine.GET("/api/text/:id", s.handleText)

	s.engine = engine
	return s
}

// Handler returns the gin engine as an http.Handler, for http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, Stats{
		StartTime:    s.startTime.Unix(),
		UptimeMillis: time.Since(s.startTime).Milliseconds(),
		NumSessions:  s.sessions.SessionCount(),
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	ids := s.sessions.SessionIDs()
	out := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		sess, ok := s.sessions.Get(id)
		if !ok {
			continue
		}
		met := s.lifecycle.Metrics(id)
		out = append(out, SessionSummary{
			SessionID:        id,
			DocumentID:       sess.DocumentID,
			ParticipantCount: len(sess.Participants),
			OperationCount:   met.OperationCount,
			ConflictCount:    met.ConflictCount,
			Efficiency:       met.CollaborationEfficiency,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleExport(c *gin.Context) {
	id := c.Param("id")
	exp, ok := s.lifecycle.ExportSession(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	history := make([]protocol.WireOperation, 0, len(exp.History))
	for _, n := range exp.History {
		history = append(history, protocol.ToWireOperation(n.Operation))
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":  exp.SessionID,
		"documentId": exp.DocumentID,
		"content":    exp.Content,
		"version":    exp.Version,
		"history":    history,
		"metrics":    exp.Metrics,
		"exportedAt": exp.ExportedAt,
	})
}

// handleText mirrors the teacher's handleText: return the document's
// current plaintext, checking live sessions before falling back to the
// persistence store.
func (s *Server) handleText(c *gin.Context) {
	id := c.Param("id")

	for _, sessID := range s.sessions.SessionIDs() {
		sess, ok := s.sessions.Get(sessID)
		if ok && sess.DocumentID == id {
			c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(sess.Document.Content))
			return
		}
	}

	if s.store != nil {
		if doc, err := s.store.LoadDocument(c.Request.Context(), id); err == nil {
			c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(doc.Content))
			return
		}
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(""))
}
