package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/internal"
	"gofinetune/internal/errors"
	"gofinetune/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const defaultListLimit = 50

// Server exposes finished and running series read-only over HTTP
type Server struct {
	router *chi.Mux
	reader ports.TrialReader
	logger *internal.Logger
}

// NewServer creates the HTTP server over a trial reader
func NewServer(reader ports.TrialReader, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	s := &Server{
		router: chi.NewRouter(),
		reader: reader,
		logger: logger,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, errors.NotFound("route "+r.URL.Path))
	})
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/series", func(r chi.Router) {
		r.Get("/", s.handleListSeries)
		r.Get("/{id}", s.handleGetSeries)
		r.Get("/{id}/trials/{trial}/records", s.handleRecords)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(w, errors.InvalidInput("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	series, err := s.reader.ListSeries(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"series": series, "count": len(series)})
}

func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reader.GetSeries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleRecords serves the records of trial n, numbered from 1 like the
// trial directories
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	seriesID, err := core.ParseSeriesID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, errors.InvalidInput(err.Error()))
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "trial"))
	if err != nil || n < 1 {
		s.fail(w, errors.InvalidInput("trial must be a positive integer"))
		return
	}

	records, err := s.reader.GetRecords(r.Context(), trial.Key{SeriesID: seriesID, Index: n - 1})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trial": n, "records": records})
}

// fail maps an error to its status. Only not-found and invalid-input
// errors show their message to the client.
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	switch {
	case core.IsNotFoundError(err) || code == errors.CodeNotFound:
		writeError(w, http.StatusNotFound, errors.CodeNotFound, err.Error())
	case code == errors.CodeInvalidInput:
		writeError(w, http.StatusBadRequest, code, err.Error())
	default:
		s.logger.Error("api: %v", err)
		writeError(w, http.StatusInternalServerError, errors.CodeInternalError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
