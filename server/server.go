// Package server exposes the exporter over HTTP: the metrics exposition on
// /metrics and a liveness probe on /health.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"misskey-exporter/logger"
)

// RequestIDHeader is read from incoming requests and echoed on responses.
const RequestIDHeader = "X-Request-Id"

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Exporter is the read side of the sampling orchestrator.
type Exporter interface {
	RenderMetrics() (string, error)
	ContentType() string
	Healthy(ctx context.Context) bool
	IsUpdating() bool
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	IsUpdating bool   `json:"isUpdating"`
}

type Server struct {
	exp Exporter
	log *logger.Logger
	now func() time.Time
}

// New builds the HTTP surface for exp. A nil log discards output.
func New(exp Exporter, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{exp: exp, log: log, now: time.Now}
}

// Handler returns the routed handler wrapped in the request-id middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/", s.handleNotFound)
	return s.withRequestID(mux)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out, err := s.exp.RenderMetrics()
	if err != nil {
		logger.FromContext(r.Context(), s.log).Error("render metrics", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", s.exp.ContentType())
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.exp.Healthy(r.Context())

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  s.now().UTC().Format(timestampLayout),
		IsUpdating: s.exp.IsUpdating(),
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.FromContext(r.Context(), s.log).Warn("write health response", zap.Error(err))
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Not Found", http.StatusNotFound)
}

// withRequestID tags every request with an id, taken from the caller when
// present, and stores a request-scoped logger in the context.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)

		l := logger.WithRequestID(s.log.Logger, reqID)
		l.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))

		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
	})
}
