package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/DeskGo/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, desk Desk) *Server {
	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, desk),
	}
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", s.handlers.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/status/stream", s.handlers.HandleStatusStream).Methods(http.MethodGet)
	api.HandleFunc("/move", s.handlers.HandleMove).Methods(http.MethodPost)
	api.HandleFunc("/up", s.handlers.HandleUp).Methods(http.MethodPost)
	api.HandleFunc("/down", s.handlers.HandleDown).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.handlers.HandleStop).Methods(http.MethodPost)

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. It returns only once a move started through the API is over,
// so the caller may release the desk afterwards.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.Router(),
		ReadTimeout: 15 * time.Second,
		ErrorLog:    slog.NewLogLogger(debug.Logger().Handler(), slog.LevelError),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		debug.Info("web server listening on %s", s.addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Wait for context to be canceled, then shut the server down.
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	debug.Verbose("waiting for running moves")
	s.handlers.Wait()
	return err
}
