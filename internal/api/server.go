// Package api serves the REST surface over the local task cache and the
// sync engine. Handlers respond with a {"success": bool} JSON envelope;
// remote failures map to HTTP status codes through the caldav error
// predicates, so a network outage surfaces as 502 rather than 500.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskdav/taskdav/internal/store"
	syncpkg "github.com/taskdav/taskdav/internal/sync"
	"github.com/taskdav/taskdav/internal/types"
)

// Engine is the slice of the sync engine the handlers drive.
type Engine interface {
	Pull(ctx context.Context, calendarURL string) (types.SyncStats, error)
	Push(ctx context.Context, calendarURL string) (types.PushStats, error)
	SyncAll(ctx context.Context) (*syncpkg.SyncReport, error)
	Calendars(ctx context.Context) ([]types.Calendar, bool, error)
}

// Store is the slice of the local cache the handlers read and write.
type Store interface {
	Ping(ctx context.Context) error
	ListTasks(ctx context.Context, filter store.Filter) ([]*types.Task, error)
	CountTasks(ctx context.Context, filter store.Filter) (int, error)
	GetTask(ctx context.Context, calendarURL, uid string) (*types.Task, error)
	FindTask(ctx context.Context, uid string) (*types.Task, error)
	UpsertTask(ctx context.Context, task *types.Task) error
	PendingTasks(ctx context.Context, calendarURL string) ([]*types.Task, error)
	ListCalendars(ctx context.Context) ([]types.Calendar, error)
	Stats(ctx context.Context) (*store.StatsReport, error)
	ListSyncLogs(ctx context.Context, limit, offset int, status string) ([]types.SyncLogEntry, error)
}

// Server wires the REST routes to the engine and store.
type Server struct {
	engine  Engine
	store   Store
	router  *gin.Engine
	logger  *log.Logger
	version string
}

// New creates a Server with its routes registered. A nil logger falls
// back to stderr.
func New(engine Engine, st Store, version string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		store:   st,
		router:  router,
		logger:  logger,
		version: version,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/health", s.handleHealth)

	r.POST("/sync", s.handleSync)
	r.POST("/push", s.handlePush)
	r.GET("/push_pending", s.handlePushPending)

	r.GET("/tasks", s.handleListTasks)
	r.POST("/tasks", s.handleCreateTask)
	r.GET("/tasks/search", s.handleSearchTasks)
	r.POST("/tasks/bulk", s.handleBulkTasks)
	r.GET("/tasks/:uid", s.handleGetTask)
	r.PUT("/tasks/:uid", s.handleUpdateTask)
	r.DELETE("/tasks/:uid", s.handleDeleteTask)

	r.GET("/calendars", s.handleCalendars)
	r.GET("/stats", s.handleStats)
	r.GET("/sync_logs", s.handleSyncLogs)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Printf("REST API listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
