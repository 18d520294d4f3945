package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emojiart-server/handlers/api/documents"
	"emojiart-server/handlers/api/snapshots"
	"emojiart-server/handlers/websocket"
	authMiddleware "emojiart-server/middleware"
	"emojiart-server/sessions"
	"emojiart-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type server struct {
	cfg      config
	store    *stores.Store
	sessions *sessions.Manager
	hub      *websocket.Hub
}

func setupRouter(s *server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(s.cfg.corsOptions()))

	requireAuth := authMiddleware.AuthJWT(s.cfg.JWTSecret)

	r.Route("/api/documents", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", documents.HandleCreate(s.sessions))
			r.Post("/import", documents.HandleImport(s.sessions))
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", documents.HandleGet(s.sessions))
			r.Get("/export", documents.HandleExport(s.sessions))
			r.Get("/background", documents.HandleGetBackgroundImage(s.sessions))

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Delete("/", documents.HandleDelete(s.sessions))
				r.Put("/background", documents.HandleSetBackground(s.sessions))
				r.Post("/drop", documents.HandleDrop(s.sessions))
				r.Post("/emojis", documents.HandleAddEmoji(s.sessions))
				r.Post("/emojis/{emojiId}/move", documents.HandleMoveEmoji(s.sessions))
				r.Post("/emojis/{emojiId}/scale", documents.HandleScaleEmoji(s.sessions))
				r.Delete("/emojis/{emojiId}", documents.HandleRemoveEmoji(s.sessions))
			})

			if s.store.Snapshots != nil {
				r.Route("/snapshots", func(r chi.Router) {
					r.Get("/", snapshots.HandleListSnapshots(s.store.Snapshots))
					r.Get("/count", snapshots.HandleGetSnapshotCount(s.store.Snapshots))
					r.Get("/settings", snapshots.HandleGetSettings(s.store.Snapshots))
					r.Group(func(r chi.Router) {
						r.Use(requireAuth)
						r.Post("/", snapshots.HandleCreateSnapshot(s.store.Snapshots, s.sessions))
						r.Put("/settings", snapshots.HandleUpdateSettings(s.store.Snapshots))
					})
				})
			}
		})
	})

	var active func() map[string]int
	if s.hub != nil {
		active = s.hub.ActiveRooms
	}
	r.Get("/api/rooms", documents.HandleListRooms(s.store.Rooms, active))

	// Snapshot API routes - only available with SQLite store
	if s.store.Snapshots != nil {
		r.Route("/api/snapshots/{snapshotId}", func(r chi.Router) {
			r.Get("/", snapshots.HandleGetSnapshot(s.store.Snapshots))
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Put("/", snapshots.HandleUpdateSnapshot(s.store.Snapshots))
				r.Delete("/", snapshots.HandleDeleteSnapshot(s.store.Snapshots))
				r.Post("/restore", snapshots.HandleRestoreSnapshot(s.store.Snapshots, s.sessions))
			})
		})
		logrus.Info("Snapshot API routes registered")
	} else {
		logrus.Warn("Snapshot API not available - requires SQLite storage")
	}

	if s.hub != nil {
		r.Handle("/socket.io/", s.hub.Server().ServeHandler(nil))
	}

	return r
}

func waitForShutdown(srv *http.Server, s *server) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-signalC
	logrus.WithField("signal", sig.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown failed")
	}

	s.hub.Close()
	s.sessions.Shutdown()
	if err := s.store.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close storage")
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := loadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if len(cfg.JWTSecret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Mutating routes are open to everyone.")
	}

	store, err := stores.GetStore(context.Background())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open storage")
	}

	hub := websocket.NewHub(store.Rooms, cfg.AllowedOrigins)
	manager := sessions.NewManager(store.Documents,
		sessions.WithPublisher(hub),
		sessions.WithDocumentOptions(cfg.documentOptions()...),
	)
	hub.SetDocuments(manager)

	s := &server{cfg: cfg, store: store, sessions: manager, hub: hub}
	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           setupRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, s)
}
