// Command server is the collaborative-editing daemon: it wires
// internal/config, internal/session, internal/lifecycle,
// internal/collab and internal/wsapi/internal/httpapi together and
// serves both the WebSocket and HTTP surfaces, replacing the teacher's
// bare net/http ServeMux wiring in pkg/server/server.go.
//
// The command tree itself is a github.com/spf13/cobra root with a
// "version" subcommand; "serve" (the default, also runnable bare) hands
// its raw args straight to internal/config's existing pflag-based parser
// rather than redeclaring every flag a second time against cobra's own
// FlagSet.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/kolabdoc/collabedit/internal/collab"
	"github.com/kolabdoc/collabedit/internal/config"
	"github.com/kolabdoc/collabedit/internal/httpapi"
	"github.com/kolabdoc/collabedit/internal/lifecycle"
	"github.com/kolabdoc/collabedit/internal/logger"
	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/kolabdoc/collabedit/internal/protocol"
	"github.com/kolabdoc/collabedit/internal/session"
	"github.com/kolabdoc/collabedit/internal/store"
	"github.com/kolabdoc/collabedit/internal/store/redisstore"
	"github.com/kolabdoc/collabedit/internal/store/sqlitestore"
	"github.com/kolabdoc/collabedit/internal/wsapi"
)

// version is set via -ldflags "-X main.version=..." at release build time;
// it stays "dev" for local builds.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "collabedit",
		Short:         "Real-time collaborative document editing server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:                "serve",
		Short:              "Run the collaboration server (default command)",
		DisableFlagParsing: true, // internal/config owns flag parsing (pflag, spec §6 surface)
		RunE: func(_ *cobra.Command, args []string) error {
			return runServer(args)
		},
	}
	root.AddCommand(serve)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	})

	root.RunE = serve.RunE
	root.DisableFlagParsing = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "collabedit:", err)
		os.Exit(1)
	}
}

// runServer boots the collaboration daemon from raw CLI args (as handed
// through by cobra's "serve" command): loads config, wires C1-C8, and
// serves until an interrupt or SIGTERM triggers graceful shutdown.
func runServer(args []string) error {
	var yamlPath string
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			yamlPath = args[i+1]
		}
	}

	cfg, err := config.Load(yamlPath, args)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogDev)
	defer logger.Sync()

	logger.Info("starting collabedit server",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("conflict_strategy", cfg.ConflictResolutionStrategy),
	)

	backend, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open persistence backend", zap.Error(err))
		return fmt.Errorf("persistence: %w", err)
	}
	if backend != nil {
		defer backend.Close()
	}

	sessions := session.NewManager(cfg.ConflictStrategy(), nil, nil, nil)
	lc := lifecycle.NewManager(sessions, cfg.MaxSessionDuration)
	wirePersistence(lc, backend)

	controller := collab.NewController(sessions, cfg.MaxConcurrentOperations)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc.Start(cfg.PersistEvery)
	defer lc.Stop()

	httpSrv := httpapi.NewServer(sessions, lc, controller, backend)

	mux := http.NewServeMux()
	mux.Handle("/api/", httpSrv.Handler())
	mux.HandleFunc("/ws", newWebSocketHandler(ctx, controller))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  0, // the websocket upgrade path manages its own deadlines
		WriteTimeout: 0,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited", zap.Error(err))
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// openStore picks a persistence backend from config: SQLite takes
// precedence over Redis when both are set; neither configured means
// in-memory-only, matching the teacher's "database is optional" stance.
func openStore(cfg config.Config) (store.Store, error) {
	if cfg.SQLitePath != "" {
		logger.Info("persistence: sqlite", zap.String("path", cfg.SQLitePath))
		return sqlitestore.Open(cfg.SQLitePath)
	}
	if cfg.RedisAddr != "" {
		logger.Info("persistence: redis", zap.String("addr", cfg.RedisAddr))
		return redisstore.Open(context.Background(), cfg.RedisAddr)
	}
	logger.Info("persistence: disabled (in-memory only)")
	return nil, nil
}

// wirePersistence hooks the lifecycle manager's export/autosave callbacks
// to the chosen backend, if any. Export is logged (the teacher's cleanup
// path just dropped the in-memory document; this one at least records
// that an export happened for operators tailing logs).
func wirePersistence(lc *lifecycle.Manager, backend store.Store) {
	if backend == nil {
		return
	}
	lc.OnPersist(func(documentID string, doc *ot.DocumentState) error {
		return backend.SaveDocument(context.Background(), documentID, doc)
	})
	lc.OnExport(func(exp lifecycle.Export) {
		logger.Info("session exported", logger.SessionField(exp.SessionID), zap.Int("version", exp.Version))
	})
}

// newWebSocketHandler upgrades each request to a websocket and hands the
// connection to the collaboration controller, mirroring the teacher's
// handleSocket but with room/user identity read from the query string
// instead of a path parameter alone.
func newWebSocketHandler(ctx context.Context, controller *collab.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Warn("websocket accept failed", zap.Error(err))
			return
		}

		q := r.URL.Query()
		info := collab.ConnectInfo{
			RoomID:     q.Get("room"),
			DocumentID: q.Get("document"),
			UserID:     q.Get("userId"),
			Username:   q.Get("username"),
			Role:       roleFromQuery(q.Get("role")),
			OTP:        q.Get("otp"),
			RequireOTP: q.Get("requireOtp") == "1" || q.Get("requireOtp") == "true",
		}
		if info.DocumentID == "" {
			info.DocumentID = info.RoomID
		}
		if info.UserID == "" {
			info.UserID = uuid.NewString()
		}

		connID := uuid.NewString()
		conn := wsapi.NewConn(connID, ws)

		connCtx, connCancel := context.WithCancel(ctx)
		defer connCancel()

		if err := controller.Connect(connCtx, connID, conn, info); err != nil {
			_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}

		_ = wsapi.Serve(connCtx, conn, func(env protocol.Envelope) error {
			return controller.HandleEnvelope(connCtx, connID, env)
		}, func() { controller.Disconnect(connID) })
	}
}

func roleFromQuery(raw string) session.Role {
	switch raw {
	case string(session.RoleOwner):
		return session.RoleOwner
	case string(session.RoleAdmin):
		return session.RoleAdmin
	case string(session.RoleEditor):
		return session.RoleEditor
	case string(session.RoleViewer):
		return session.RoleViewer
	default:
		return session.RoleEditor
	}
}
