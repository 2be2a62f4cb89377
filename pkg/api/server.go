// Package api serves the admin HTTP interface of the importer.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ixf-sync/pkg/auth"
	"ixf-sync/pkg/ixf"
	"ixf-sync/pkg/metrics"
	"ixf-sync/pkg/store"
	"ixf-sync/pkg/version"
	"ixf-sync/pkg/watch"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Server struct {
	Importer *ixf.Importer
	Signer   *auth.Signer
	Admin    Admin
	Hub      *watch.Hub // nil disables /ws/changes
	Logger   *slog.Logger
}

// Handler wires every route on a fresh mux.
func (s *Server) Handler() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v1/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": version.Build})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/v1/login", s.handleLogin)

	mux.HandleFunc("GET /api/v1/networks/{asn}/proposals", s.AuthMiddleware(s.handleNetworkProposals))
	mux.HandleFunc("POST /api/v1/networks/{asn}/proposals/dismiss", s.AuthMiddleware(s.handleDismiss))
	mux.HandleFunc("GET /api/v1/exchange-lans/{id}/proposals", s.AuthMiddleware(s.handleLANProposals))
	mux.HandleFunc("GET /api/v1/exchange-lans/{id}/import-logs", s.AuthMiddleware(s.handleImportLogs))
	mux.HandleFunc("GET /api/v1/exchange-lans/{id}/attempt", s.AuthMiddleware(s.handleAttempt))
	mux.HandleFunc("POST /api/v1/exchange-lans/{id}/preview", s.AuthMiddleware(s.handlePreview))
	mux.HandleFunc("POST /api/v1/import-logs/{id}/rollback", s.AuthMiddleware(s.handleRollback))
	mux.HandleFunc("GET /api/v1/audit", s.AuthMiddleware(s.handleAudit))

	if s.Hub != nil {
		mux.HandleFunc("GET /ws/changes", s.AuthMiddleware(s.Hub.HandleWS))
	}
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

func (s *Server) handleNetworkProposals(w http.ResponseWriter, r *http.Request) {
	asn, ok := pathASN(w, r)
	if !ok {
		return
	}
	out, err := s.Importer.ProposalsForNetwork(r.Context(), asn)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if out == nil {
		out = []ixf.ExchangeProposals{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	asn, ok := pathASN(w, r)
	if !ok {
		return
	}
	var req DismissRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.Importer.DismissForNetwork(r.Context(), actor(r), asn, req.IDs); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "dismissed": len(req.IDs)})
}

func (s *Server) handleLANProposals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := s.Importer.ProposalsForExchangeLAN(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if out == nil {
		out = []ixf.ProposalView{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleImportLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	logs, err := s.Importer.Store.ListImportLogs(id, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// attemptResponse embeds the stored attempt log as JSON instead of a string.
type attemptResponse struct {
	ExchangeLANID uint            `json:"exchangeLanId"`
	Updated       time.Time       `json:"updated"`
	Log           json.RawMessage `json:"log"`
}

func (s *Server) handleAttempt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	att, found, err := s.Importer.Store.GetImportAttempt(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no import attempt")
		return
	}
	raw := json.RawMessage(att.Info)
	if !json.Valid(raw) {
		raw, _ = json.Marshal(att.Info)
	}
	writeJSON(w, http.StatusOK, attemptResponse{ExchangeLANID: att.ExchangeLANID, Updated: att.Updated, Log: raw})
}

// handlePreview runs an import without saving. ?asn= limits it to one
// network.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	opts := ixf.Options{CacheOnly: r.URL.Query().Get("cache") == "1"}
	if raw := r.URL.Query().Get("asn"); raw != "" {
		asn, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid asn")
			return
		}
		opts.ASN = uint32(asn)
	}
	res, err := s.Importer.Update(r.Context(), id, opts)
	if err != nil && (res == nil || errors.Is(err, store.ErrNotFound)) {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := s.Importer.Rollback(r.Context(), actor(r), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.Logger.Info("import log rolled back", "log", id, "actor", actor(r), "entries", len(out))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.Importer.Store.ListAudit(limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	v, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || v == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(v), true
}

func pathASN(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	v, err := strconv.ParseUint(r.PathValue("asn"), 10, 32)
	if err != nil || v == 0 {
		writeError(w, http.StatusBadRequest, "invalid asn")
		return 0, false
	}
	return uint32(v), true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return min(n, maxLimit), true
}

// writeErr maps importer errors to status codes.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var verr *ixf.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: verr.Fields})
	default:
		s.Logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
