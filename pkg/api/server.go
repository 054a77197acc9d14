// Package api exposes the call processing service over HTTP: chunked audio
// ingest, call and score reads, quote verification, repair and the QA
// register.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/app"
	"callqa-server/pkg/config"
	"callqa-server/pkg/errors"
	"callqa-server/pkg/metrics"
)

// Server is the HTTP API server
type Server struct {
	config     *config.ServerConfig
	logger     *logrus.Logger
	service    *app.Service
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time

	// audio files land here after assembly, processing reads them back
	recordingDir string
	exportDir    string
}

// NewServer creates a new API server
func NewServer(logger *logrus.Logger, cfg *config.ServerConfig, service *app.Service, recordingDir, exportDir string) *Server {
	s := &Server{
		config:       cfg,
		logger:       logger,
		service:      service,
		startTime:    time.Now(),
		recordingDir: recordingDir,
		exportDir:    exportDir,
	}

	mux := http.NewServeMux()
	s.mux = mux

	mux.HandleFunc("POST /calls/chunks", s.ingestChunkHandler)
	mux.HandleFunc("GET /calls", s.listCallsHandler)
	mux.HandleFunc("GET /calls/{id}", s.getCallHandler)
	mux.HandleFunc("POST /calls/{id}/process", s.processHandler)
	mux.HandleFunc("POST /calls/{id}/reanalyze", s.reanalyzeHandler)
	mux.HandleFunc("GET /calls/{id}/scores", s.scoresHandler)
	mux.HandleFunc("GET /calls/{id}/verify", s.verifyHandler)
	mux.HandleFunc("POST /repair", s.repairHandler)
	mux.HandleFunc("GET /register", s.registerHandler)
	mux.HandleFunc("POST /register/sync", s.registerSyncHandler)
	mux.HandleFunc("POST /register/{id}/review", s.reviewHandler)
	mux.HandleFunc("POST /register/export", s.exportHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /health/live", s.livenessHandler)
	metrics.RegisterHandler(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	go func() {
		s.logger.WithField("port", s.config.Port).Info("HTTP API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP API server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

// ingestChunkHandler accepts one upload chunk as a multipart form with the
// fields filename, index, total and chunk (the bytes). When the upload
// completes, the created call starts processing in the background.
func (s *Server) ingestChunkHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		s.errorResponse(w, errors.Wrap(errors.ErrInvalidInput, "malformed multipart upload"))
		return
	}

	filename := r.FormValue("filename")
	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		s.errorResponse(w, errors.Wrap(errors.ErrInvalidInput, "chunk index is not a number"))
		return
	}
	total, err := strconv.Atoi(r.FormValue("total"))
	if err != nil {
		s.errorResponse(w, errors.Wrap(errors.ErrInvalidInput, "chunk total is not a number"))
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		s.errorResponse(w, errors.Wrap(errors.ErrInvalidInput, "missing chunk field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.errorResponse(w, errors.Wrap(errors.ErrInternalError, "failed to read chunk"))
		return
	}

	result, err := s.service.IngestChunk(filename, index, total, data)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	status := http.StatusAccepted
	if result.Assembled {
		status = http.StatusCreated
		call := result.Call
		audioPath := result.AudioPath
		go func() {
			if procErr := s.service.ProcessCall(context.Background(), call.ID, audioPath); procErr != nil {
				s.logger.WithError(procErr).WithField("call_id", call.ID).Error("Background processing failed")
			}
		}()
	}

	s.jsonResponse(w, status, result)
}

func (s *Server) listCallsHandler(w http.ResponseWriter, r *http.Request) {
	calls, err := s.service.ListCalls()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, calls)
}

func (s *Server) getCallHandler(w http.ResponseWriter, r *http.Request) {
	call, err := s.service.GetCall(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, call)
}

// processHandler re-triggers processing for a pending call, for uploads whose
// background trigger was lost to a restart
func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	call, err := s.service.GetCall(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	audioPath := filepath.Join(s.recordingDir, call.Filename)
	if err := s.service.ProcessCall(r.Context(), call.ID, audioPath); err != nil {
		s.errorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "processing"})
}

func (s *Server) reanalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reanalyze(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "reanalyzed"})
}

func (s *Server) scoresHandler(w http.ResponseWriter, r *http.Request) {
	scores, err := s.service.GetScores(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, scores)
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.VerifyQuotes(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

func (s *Server) repairHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.RepairInconsistencies()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.Register().Entries()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, entries)
}

func (s *Server) registerSyncHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.Register().Sync()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]int{"rows": rows})
}

type reviewRequest struct {
	Reviewer    string `json:"reviewer"`
	Notes       string `json:"notes"`
	Disposition string `json:"disposition"`
}

func (s *Server) reviewHandler(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, errors.Wrap(errors.ErrInvalidInput, "malformed review body"))
		return
	}

	if err := s.service.Register().Review(r.PathValue("id"), req.Reviewer, req.Notes, req.Disposition); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "reviewed"})
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		s.errorResponse(w, errors.Wrap(err, "failed to create export directory"))
		return
	}

	path := filepath.Join(s.exportDir, fmt.Sprintf("qa_register_%s.xlsx", time.Now().Format("20060102150405")))
	rows, err := s.service.Register().ExportXLSX(path)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{"path": path, "rows": rows})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Health(); err != nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode HTTP response")
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	s.logger.WithError(err).Warn("HTTP error response sent")
}
