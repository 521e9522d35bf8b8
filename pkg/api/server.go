// Package api exposes the engine's four operations (predict, capture,
// train, analytics) as a small JSON-over-HTTP service for callers that
// run the engine out of process.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillcast/pkg/analytics"
	"github.com/jingkaihe/skillcast/pkg/capture"
	"github.com/jingkaihe/skillcast/pkg/engine"
	"github.com/jingkaihe/skillcast/pkg/logger"
	"github.com/jingkaihe/skillcast/pkg/predictor"
	"github.com/jingkaihe/skillcast/pkg/presenter"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// LearningEngine is the engine surface the server fronts.
type LearningEngine interface {
	Predict(ctx context.Context, taskCtx learning.TaskContext) (*predictor.Result, error)
	Capture(ctx context.Context, obs capture.Observation) (learning.Pattern, *learning.TrainReport, error)
	Train(ctx context.Context) (learning.TrainReport, error)
	Analytics(ctx context.Context) (*analytics.Report, error)
	Fingerprint() learning.ProjectFingerprint
}

// ServerConfig holds the listener configuration.
type ServerConfig struct {
	Host string
	Port int
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Server serves the engine operations over HTTP.
type Server struct {
	router *mux.Router
	engine LearningEngine
	config *ServerConfig
	server *http.Server
}

// NewServer creates a Server for the given engine.
func NewServer(eng LearningEngine, config *ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router: mux.NewRouter(),
		engine: eng,
		config: config,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/predict", s.handlePredict).Methods("POST")
	api.HandleFunc("/capture", s.handleCapture).Methods("POST")
	api.HandleFunc("/train", s.handleTrain).Methods("POST")
	api.HandleFunc("/analytics", s.handleAnalytics).Methods("GET")
	api.HandleFunc("/fingerprint", s.handleFingerprint).Methods("GET")

	s.router.Use(s.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handlePredict handles POST /api/predict. Insufficient history is a
// distinct, well-formed payload rather than an error status, so callers
// can tell "no basis for a guess" apart from a failure.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var taskCtx learning.TaskContext
	if err := json.NewDecoder(r.Body).Decode(&taskCtx); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid task context", err)
		return
	}

	result, err := s.engine.Predict(r.Context(), taskCtx)
	if err != nil {
		if errors.Is(err, learning.ErrInsufficientData) {
			s.writeJSONResponse(w, map[string]any{"insufficientData": true})
			return
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, "prediction failed", err)
		return
	}

	s.writeJSONResponse(w, map[string]any{
		"insufficientData": false,
		"predictions":      result.Predictions,
	})
}

// handleCapture handles POST /api/capture.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var obs capture.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid observation", err)
		return
	}

	p, report, err := s.engine.Capture(r.Context(), obs)
	if err != nil {
		// Only a malformed observation is the caller's fault; storage and
		// training plumbing failures are ours.
		if errors.Is(err, learning.ErrInvalidObservation) {
			s.writeErrorResponse(w, http.StatusBadRequest, "invalid observation", err)
			return
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, "capture failed", err)
		return
	}

	resp := map[string]any{"patternId": p.ID, "confidence": p.Confidence}
	if report != nil {
		resp["trainReport"] = report
	}
	s.writeJSONResponse(w, resp)
}

// handleTrain handles POST /api/train. Per-skill failures ride along in
// the report; only a total failure maps to an error status.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Train(r.Context())
	if err != nil && len(report.Retrained) == 0 && len(report.Skipped) == 0 {
		s.writeErrorResponse(w, http.StatusInternalServerError, "training failed", err)
		return
	}
	s.writeJSONResponse(w, report)
}

// handleAnalytics handles GET /api/analytics.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Analytics(r.Context())
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "analytics failed", err)
		return
	}
	s.writeJSONResponse(w, report)
}

// handleFingerprint handles GET /api/fingerprint.
func (s *Server) handleFingerprint(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, s.engine.Fingerprint())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rw.statusCode,
			"duration": time.Since(start),
		}).Info("HTTP request")
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(context.TODO()).WithError(err).Error(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode error response")
	}
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:    address,
		Handler: s.router,
	}

	presenter.Info(fmt.Sprintf("Serving skillcast API on http://%s", address))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.G(ctx).WithError(err).Error("API server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the server immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

var _ LearningEngine = (*engine.Engine)(nil)
