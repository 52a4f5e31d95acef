package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/rotadominios/fleet-sync/internal/health"
	"github.com/rotadominios/fleet-sync/internal/reconcile"
	"github.com/rotadominios/fleet-sync/internal/store"
)

// Reconciler runs one sync for a vps.
type Reconciler interface {
	Reconcile(ctx context.Context, vpsID uuid.UUID, applyFixes bool) (*reconcile.SyncReport, error)
}

// HealthSource exposes the poller operations the handlers need.
type HealthSource interface {
	Refresh(ctx context.Context, domain store.DomainRecord) (health.Snapshot, error)
	Last(domainID uuid.UUID) (health.Snapshot, bool)
}

type Server struct {
	engine Reconciler
	poller HealthSource
	store  store.Store
	http   *http.Server
}

func New(listen string, engine Reconciler, poller HealthSource, st store.Store, metricsHandler http.Handler) *Server {
	s := &Server{
		engine: engine,
		poller: poller,
		store:  st,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/vps/{id}/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/domains/{id}/health", s.handleDomainHealth).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
