// Package server exposes the orchestrator to the UI collaborator over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ragguard-ai/ragguard/internal/auth"
	"github.com/ragguard-ai/ragguard/internal/config"
	"github.com/ragguard-ai/ragguard/internal/pipeline"
)

// Server wraps the HTTP surface around the query pipeline.
type Server struct {
	mux      *http.ServeMux
	cfg      *config.Config
	auth     *auth.Auth
	pipeline *pipeline.Pipeline
	log      *zap.Logger
}

// New creates a server with all routes registered.
func New(cfg *config.Config, authz *auth.Auth, p *pipeline.Pipeline, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		mux:      http.NewServeMux(),
		cfg:      cfg,
		auth:     authz,
		pipeline: p,
		log:      log,
	}

	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/v1/query", s.requireAuth(s.handleQuery))
	s.mux.HandleFunc("/v1/vendors", s.requireAuth(s.handleVendors))
	s.mux.HandleFunc("/v1/transactions", s.requireAuth(s.handleTransactions))
	s.mux.HandleFunc("/v1/poison", s.requireAuth(s.handlePoison))

	return s
}

// Handler returns the route mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	s.log.Info("ragguard listening", zap.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}
	return srv.ListenAndServe()
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Allow(r.Header.Get("Authorization")) {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestBodyBytes)
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

type queryRequest struct {
	Query     string `json:"query"`
	Guardrail bool   `json:"guardrail"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var reqBody queryRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if reqBody.Query == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}

	res, err := s.pipeline.RunQuery(r.Context(), reqBody.Query, reqBody.Guardrail)
	if err != nil {
		s.log.Error("query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type insertVendorRequest struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	Notes     string `json:"notes"`
}

type insertVendorResponse struct {
	ID int64 `json:"id"`
}

func (s *Server) handleVendors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.pipeline.Vendors())

	case http.MethodPost:
		var reqBody insertVendorRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if reqBody.Name == "" || reqBody.AccountID == "" {
			writeError(w, http.StatusBadRequest, "name and account_id are required")
			return
		}

		id, err := s.pipeline.InsertVendor(reqBody.Name, reqBody.AccountID, reqBody.Notes)
		if err != nil {
			// Storage failures are fatal for the write, propagated as-is.
			s.log.Error("vendor insert failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "vendor insert failed")
			return
		}
		writeJSON(w, http.StatusCreated, insertVendorResponse{ID: id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Transactions())
}

type poisonResponse struct {
	InsertedIDs []int64 `json:"inserted_ids"`
}

// handlePoison injects the configured poison file, simulating the insider
// write for the demo. Refused when no poison file is configured.
func (s *Server) handlePoison(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Store.PoisonPath == "" {
		writeError(w, http.StatusConflict, "no poison file configured")
		return
	}

	start := time.Now()
	ids, err := s.pipeline.InjectPoison(s.cfg.Store.PoisonPath)
	if err != nil {
		s.log.Error("poison injection failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "poison injection failed")
		return
	}
	s.log.Warn("poison injected",
		zap.Int("records", len(ids)),
		zap.Duration("took", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, poisonResponse{InsertedIDs: ids})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
