package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/rotadominios/fleet-sync/internal/agent"
	"github.com/rotadominios/fleet-sync/internal/health"
	"github.com/rotadominios/fleet-sync/internal/reconcile"
	"github.com/rotadominios/fleet-sync/internal/store"
)

type syncRequest struct {
	AutoFix bool `json:"autoFix"`
}

type syncResponse struct {
	Success   bool                  `json:"success"`
	Report    *reconcile.SyncReport `json:"report,omitempty"`
	RawConfig string                `json:"raw_config,omitempty"`
	Error     string                `json:"error,omitempty"`
}

type healthResponse struct {
	Success  bool             `json:"success"`
	Snapshot *health.Snapshot `json:"snapshot,omitempty"`
	Cached   bool             `json:"cached"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	vpsID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, syncResponse{Error: "invalid vps id"})
		return
	}

	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, syncResponse{Error: "invalid request body"})
			return
		}
	}

	report, err := s.engine.Reconcile(r.Context(), vpsID, req.AutoFix)
	if err != nil {
		status, msg := syncErrorStatus(err)
		slog.Warn("sync request failed", "vps", vpsID, "error", err)
		writeJSON(w, status, syncResponse{Error: msg})
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Success:   true,
		Report:    report,
		RawConfig: report.RawConfig,
	})
}

// syncErrorStatus maps a reconciliation failure to an HTTP status and
// a single-sentence operator-facing message.
func syncErrorStatus(err error) (int, string) {
	var fetchErr *reconcile.ConfigFetchError
	switch {
	case errors.Is(err, reconcile.ErrVPSNotFound):
		return http.StatusNotFound, "vps not found"
	case errors.Is(err, reconcile.ErrMissingAddress):
		return http.StatusUnprocessableEntity, "vps has no address configured"
	case errors.As(err, &fetchErr):
		if agent.IsAuthError(err) {
			return http.StatusBadGateway, "authentication with the vps agent failed"
		}
		return http.StatusBadGateway, "could not reach the vps agent"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) handleDomainHealth(w http.ResponseWriter, r *http.Request) {
	domainID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, healthResponse{Error: "invalid domain id"})
		return
	}

	forceRefresh := r.URL.Query().Get("refresh") == "1"

	if !forceRefresh {
		if snap, ok := s.poller.Last(domainID); ok {
			writeJSON(w, http.StatusOK, healthResponse{Success: true, Snapshot: &snap, Cached: true})
			return
		}
	}

	domain, err := s.store.Domain(r.Context(), domainID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, healthResponse{Error: "domain not found"})
			return
		}
		slog.Error("fail load domain", "domain", domainID, "error", err)
		writeJSON(w, http.StatusInternalServerError, healthResponse{Error: "internal error"})
		return
	}

	snap, err := s.poller.Refresh(r.Context(), *domain)
	if err != nil {
		// Stale-snapshot-plus-error: surface the last-known snapshot
		// when the fresh fetch fails.
		if stale, ok := s.poller.Last(domainID); ok {
			writeJSON(w, http.StatusOK, healthResponse{Snapshot: &stale, Cached: true, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadGateway, healthResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{Success: true, Snapshot: &snap})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("fail encode response", "error", err)
	}
}
