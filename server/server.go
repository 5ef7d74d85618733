// Package server exposes the node editor engine over HTTP: the published
// configuration, its port and node types, dynamic port resolution, a
// reference editor session, and the event history and stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/petal-labs/nodeschema/bus"
	"github.com/petal-labs/nodeschema/runtime"
	"github.com/petal-labs/nodeschema/sse"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Engine     *runtime.Engine
	Bus        bus.EventBus
	EventStore bus.EventStore

	// MetricsReader backs GET /api/metrics. The route is absent when nil.
	MetricsReader *sdkmetric.ManualReader

	// SessionContext is handed to every dynamic resolver run by the
	// editor session.
	SessionContext map[string]any
	NewNodeID      func() string

	// Heartbeat is the event stream heartbeat interval.
	Heartbeat  time.Duration
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the node editor HTTP API server.
type Server struct {
	engine        *runtime.Engine
	bus           bus.EventBus
	eventStore    bus.EventStore
	metricsReader *sdkmetric.ManualReader
	sessionOpts   runtime.SessionOptions
	stream        *sse.Handler
	corsOrigin    string
	maxBody       int64
	logger        *slog.Logger

	sessionMu sync.Mutex
	session   *runtime.Session
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	s := &Server{
		engine:        cfg.Engine,
		bus:           cfg.Bus,
		eventStore:    cfg.EventStore,
		metricsReader: cfg.MetricsReader,
		sessionOpts: runtime.SessionOptions{
			Context: cfg.SessionContext,
			NewID:   cfg.NewNodeID,
		},
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
	if cfg.Bus != nil {
		s.stream = sse.NewHandler(sse.HandlerConfig{
			Store:     cfg.EventStore,
			Bus:       cfg.Bus,
			Current:   s.currentID,
			Heartbeat: cfg.Heartbeat,
		})
	}
	return s
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)
	mux.HandleFunc("GET /api/port-types", s.handlePortTypes)
	mux.HandleFunc("POST /api/port-types/{type}/controls/{name}/edit", s.handleEditControl)
	mux.HandleFunc("GET /api/node-types", s.handleNodeTypes)
	mux.HandleFunc("POST /api/node-types/{type}/ports", s.handleResolvePorts)

	// Editor session
	mux.HandleFunc("GET /api/nodes", s.handleListNodes)
	mux.HandleFunc("POST /api/nodes", s.handleAddNode)
	mux.HandleFunc("GET /api/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("DELETE /api/nodes/{id}", s.handleRemoveNode)
	mux.HandleFunc("PUT /api/nodes/{id}/values", s.handleSetValue)
	mux.HandleFunc("GET /api/nodes/{id}/controls", s.handleRenderControls)
	mux.HandleFunc("GET /api/connections", s.handleListConnections)
	mux.HandleFunc("POST /api/connections", s.handleConnect)
	mux.HandleFunc("DELETE /api/connections", s.handleDisconnect)
	mux.HandleFunc("PUT /api/status", s.handleSetStatus)

	// Events
	mux.HandleFunc("GET /api/events", s.handleListEvents)
	if s.stream != nil {
		mux.Handle("GET /api/events/stream", s.stream)
		mux.Handle("GET /api/configs/{config_id}/events", s.stream)
	}
	if s.metricsReader != nil {
		mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	}
}

func (s *Server) currentID() string {
	if cur := s.engine.Current(); cur != nil {
		return cur.ID
	}
	return ""
}

// editorSession returns the session, creating it on first use and moving
// it to the published configuration when that changed.
func (s *Server) editorSession(ctx context.Context) (*runtime.Session, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if s.session == nil {
		sess, err := runtime.NewSession(s.engine, s.sessionOpts)
		if err != nil {
			return nil, err
		}
		s.session = sess
		return sess, nil
	}
	if _, err := s.session.Reload(ctx); err != nil {
		return nil, err
	}
	return s.session, nil
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return false
	}
	return true
}

// isMaxBytesError checks if the error is from http.MaxBytesReader.
func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
