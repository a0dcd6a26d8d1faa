package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/deckrelay/internal/dispatch"
	"github.com/mattjoyce/deckrelay/internal/storage"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		ConfigHash:    s.config.Fingerprint,
	}
	if s.config.Routers != nil {
		resp.Routers = len(s.config.Routers.Routers())
	}
	if s.config.Broker != nil {
		p := s.config.Broker.Pending()
		resp.PendingRecord = len(p.Records)
		resp.Waiting = len(p.Requesters)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRouters(w http.ResponseWriter, r *http.Request) {
	if s.config.Routers == nil {
		s.writeError(w, http.StatusNotFound, "no dispatch engine in this process")
		return
	}
	keys := s.config.Routers.Routers()
	if keys == nil {
		keys = []dispatch.ContextKey{}
	}
	s.writeJSON(w, http.StatusOK, RoutersResponse{Routers: keys})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if s.config.Broker == nil {
		s.writeError(w, http.StatusNotFound, "no relay broker in this process")
		return
	}
	s.writeJSON(w, http.StatusOK, s.config.Broker.Pending())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.config.Journal == nil {
		s.writeError(w, http.StatusNotFound, "relay journal disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.config.Journal.Recent(r.Context(), chi.URLParam(r, "relayID"), limit)
	if err != nil {
		s.logger.Error("failed to read relay journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read relay journal")
		return
	}
	if entries == nil {
		entries = []storage.RelayEntry{}
	}
	s.writeJSON(w, http.StatusOK, JournalResponse{Entries: entries})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
