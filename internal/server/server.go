// Package server exposes the engine over a local HTTP API with a websocket
// event stream and a Prometheus endpoint.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/agent"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/metrics"
	"github.com/iksnae/chief-of-staff/internal/store"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// ManualRunner starts a manual session subject to the run-now cooldown.
type ManualRunner interface {
	RunNow(ctx context.Context, instruction string) (*agent.SessionResult, error)
}

// Deps wires a Server. Now is optional.
type Deps struct {
	Store        *store.Store
	Config       *config.Live
	Orchestrator *agent.Orchestrator
	Approvals    *agent.ApprovalService
	Runner       ManualRunner
	Bus          *events.Bus
	Now          func() time.Time
}

// Server is the HTTP front end.
type Server struct {
	store     *store.Store
	cfg       *config.Live
	orch      *agent.Orchestrator
	approvals *agent.ApprovalService
	runner    ManualRunner
	bus       *events.Bus
	now       func() time.Time
	router    *mux.Router
}

// New creates a server and registers its routes.
func New(d Deps) *Server {
	s := &Server{
		store:     d.Store,
		cfg:       d.Config,
		orch:      d.Orchestrator,
		approvals: d.Approvals,
		runner:    d.Runner,
		bus:       d.Bus,
		now:       d.Now,
		router:    mux.NewRouter(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(instrument)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/approvals", s.listApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}/approve", s.approve).Methods(http.MethodPost)
	api.HandleFunc("/approvals/{id}/reject", s.reject).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.runSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/actions", s.sessionActions).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.chat).Methods(http.MethodPost)
	api.HandleFunc("/chat/history", s.chatHistory).Methods(http.MethodGet)
	api.HandleFunc("/chat/clear", s.clearChat).Methods(http.MethodPost)
	api.HandleFunc("/costs", s.costs).Methods(http.MethodGet)
	api.HandleFunc("/events", s.eventStream).Methods(http.MethodGet)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	internal.Logger().Info("api listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
