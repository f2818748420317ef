package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"framer/internal/collection"
	"framer/internal/config"
	"framer/internal/export"
	"framer/internal/pipeline"
	"framer/internal/prefs"
	"framer/internal/storage"
	"framer/internal/web"
)

// Deps are the collaborators the HTTP API drives.
type Deps struct {
	Store     *storage.Store
	Prefs     *prefs.Store
	Pipeline  *pipeline.Pipeline
	Loader    *collection.Loader
	Sequencer *export.Sequencer
	Log       *slog.Logger
}

// Server exposes composition, preferences and batch exports over HTTP.
type Server struct {
	addr        string
	exportDir   string
	archiveName string
	maxUpload   int64

	store    *storage.Store
	prefs    *prefs.Store
	pipeline *pipeline.Pipeline
	loader   *collection.Loader
	seq      *export.Sequencer
	limiter  *rate.Limiter
	hub      *web.Hub
	log      *slog.Logger
	server   *http.Server
}

// NewServer wires the API from configuration.
func NewServer(cfg *config.Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	if cfg.Server.RatePerSecond > 0 {
		limit = rate.Limit(cfg.Server.RatePerSecond)
	}
	return &Server{
		addr:        cfg.Server.HTTPAddr,
		exportDir:   cfg.Export.OutputDir,
		archiveName: cfg.Export.ArchiveName,
		maxUpload:   int64(cfg.Server.MaxUploadMB) << 20,
		store:       deps.Store,
		prefs:       deps.Prefs,
		pipeline:    deps.Pipeline,
		loader:      deps.Loader,
		seq:         deps.Sequencer,
		limiter:     rate.NewLimiter(limit, max(cfg.Server.RateBurst, 1)),
		hub:         web.NewHub(log),
		log:         log,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Run starts the websocket hub and forwards pipeline events to it until ctx
// is done.
func (s *Server) Run(ctx context.Context) {
	go s.hub.Run(ctx)
	if s.pipeline == nil {
		return
	}
	events, unsubscribe := s.pipeline.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.hub.Publish(ev)
			}
		}
	}()
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.Run(ctx)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down http server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("http server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/aspect-ratios", s.handleAspectRatios).Methods("GET")
	r.HandleFunc("/api/preferences", s.handleGetPreferences).Methods("GET")
	r.HandleFunc("/api/preferences", s.handlePutPreferences).Methods("PUT")
	r.Handle("/api/compose", s.rateLimited(http.HandlerFunc(s.handleCompose))).Methods("POST")
	r.HandleFunc("/api/probe", s.handleProbe).Methods("POST")
	r.Handle("/api/exports", s.rateLimited(http.HandlerFunc(s.handleCreateExport))).Methods("POST")
	r.HandleFunc("/api/exports", s.handleListExports).Methods("GET")
	r.HandleFunc("/api/exports/{id}", s.handleGetExport).Methods("GET")
	r.HandleFunc("/api/exports/{id}/archive", s.handleGetArchive).Methods("GET")
	r.Handle("/ws", s.hub).Methods("GET")
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
