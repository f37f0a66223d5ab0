// Package api exposes the ingestion and read-model surface over HTTP.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reviso/reviso/pkg/ingest"
	"github.com/reviso/reviso/pkg/projector"
	"github.com/reviso/reviso/pkg/store"
)

// Params wires a Server. DB is optional: when nil the health endpoint
// reports the database check as skipped (embedded store deployments).
type Params struct {
	Store     store.Store
	Ingest    *ingest.Service
	Projector *projector.Projector
	DB        *sql.DB
	Logger    *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	store     store.Store
	ingest    *ingest.Service
	projector *projector.Projector
	db        *sql.DB
	logger    *slog.Logger

	router *gin.Engine
	http   *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(p Params) *Server {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		store:     p.Store,
		ingest:    p.Ingest,
		projector: p.Projector,
		db:        p.DB,
		logger:    logger,
		router:    router,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthHandler)

	lib := s.router.Group("/api/v1/users/:user_id/libraries/:library_id")
	lib.POST("/events", s.ingestEventHandler)
	lib.POST("/events/batch", s.ingestBatchHandler)
	lib.GET("/events/:event_id", s.getEventHandler)
	lib.GET("/views/:collection/:entity_id", s.getViewHandler)
	lib.GET("/views/:collection", s.listViewsHandler)
	lib.GET("/due", s.dueCardsHandler)
	lib.GET("/session_summaries/:session_id", s.getSessionSummaryHandler)
	lib.POST("/replay", s.replayHandler)
}

// Handler returns the underlying HTTP handler. Test hook.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP on addr and blocks until the server closes.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
