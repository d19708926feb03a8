// Package api exposes the provisioning status and inference pipeline over
// HTTP. Transport only; all decision logic lives in the pipeline and
// provision packages.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/sunspot/internal/config"
	"github.com/crimson-sun/sunspot/internal/model"
	"github.com/crimson-sun/sunspot/internal/provision"
)

// StatusSource reports provisioning state and on-disk weight files.
type StatusSource interface {
	Status() model.Status
	EnsureReady() bool
	Files() []provision.FileStatus
	Dir() string
}

// Predictor runs the inference cascade.
type Predictor interface {
	Predict(imageBytes []byte) (model.PipelineResult, error)
	PredictBatch(items [][]byte) ([]model.PipelineResult, error)
}

// Server routes HTTP requests to the model manager and pipeline.
type Server struct {
	cfg     config.Config
	source  StatusSource
	pipe    Predictor
	httpSrv *http.Server
}

// New builds a Server with its routes registered.
func New(cfg config.Config, source StatusSource, pipe Predictor) *Server {
	s := &Server{cfg: cfg, source: source, pipe: pipe}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ping", s.handleHealth)
	mux.HandleFunc("/model-status", s.handleModelStatus)
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/predict-batch", s.handlePredictBatch)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.requestLog(s.cors(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	slog.Info("http server listening", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// cors allows the configured frontend origins.
func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLog tags each request with an ID and logs its outcome.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// errorBody is the JSON shape for non-2xx responses.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorBody{Detail: detail})
}
