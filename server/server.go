package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/mcpbridge/bus"
	"github.com/petal-labs/mcpbridge/mcp"
	"github.com/petal-labs/mcpbridge/sse"
	"github.com/petal-labs/mcpbridge/status"
	"github.com/petal-labs/mcpbridge/tool"
)

const (
	defaultMaxBody        = 1 << 20
	defaultRequestTimeout = 60 * time.Second
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	// Providers supply the tool catalog, scanned in order at construction.
	Providers []tool.Provider
	// Inspector appends the built-in McpInspector tool after Providers.
	Inspector      bool
	ConflictPolicy tool.ConflictPolicy
	ServerInfo     mcp.ServerInfo
	// Endpoint is the push-channel path (default: /sse).
	Endpoint    string
	CallTimeout time.Duration
	CORSOrigin  string
	MaxBody     int64
	// Token enables bearer auth on /message and /mcp/* when non-empty.
	Token     string
	Heartbeat time.Duration
	QueueSize int
	// RequestTimeout bounds the introspection routes (default: 60s).
	// /message and the push channel are not subject to it.
	RequestTimeout time.Duration
	Metrics        status.MetricsSource
	RPCObserver    mcp.Observer
	HubObserver    bus.Observer
	Tracer         trace.Tracer
	Logger         *slog.Logger
}

// Server is the bridge's HTTP surface. Each Server owns its registry and
// hub, so several can run in one process.
type Server struct {
	registry   *tool.Registry
	discovery  tool.Report
	dispatcher *mcp.Dispatcher
	hub        *bus.Hub
	reporter   *status.Reporter
	stream     *sse.Handler
	router     *chi.Mux

	endpoint       string
	token          string
	corsOrigin     string
	maxBody        int64
	requestTimeout time.Duration
	logger         *slog.Logger
}

// New runs discovery over cfg.Providers, seals the resulting registry and
// wires the dispatcher, hub and status reporter around it.
func New(cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := strings.TrimSpace(cfg.CORSOrigin)
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = status.DefaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		return nil, fmt.Errorf("server: endpoint %q must start with /", endpoint)
	}

	registry := tool.NewRegistry()
	providers := cfg.Providers
	if cfg.Inspector {
		providers = append(slices.Clone(providers), tool.InspectorProvider(registry))
	}
	report, err := tool.Scanner{Policy: cfg.ConflictPolicy, Logger: logger}.Scan(registry, providers...)
	if err != nil {
		return nil, err
	}
	registry.Seal()

	dispatcher, err := mcp.NewDispatcher(mcp.DispatcherConfig{
		Registry:    registry,
		ServerInfo:  cfg.ServerInfo,
		CallTimeout: cfg.CallTimeout,
		Logger:      logger,
		Observer:    cfg.RPCObserver,
		Tracer:      cfg.Tracer,
	})
	if err != nil {
		return nil, err
	}
	hub := bus.NewHub(bus.HubConfig{
		QueueSize: cfg.QueueSize,
		Logger:    logger,
		Observer:  cfg.HubObserver,
	})
	reporter, err := status.NewReporter(status.Config{
		Registry: registry,
		Hub:      hub,
		Endpoint: endpoint,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		registry:   registry,
		discovery:  report,
		dispatcher: dispatcher,
		hub:        hub,
		reporter:   reporter,
		stream: sse.NewHandler(sse.Config{
			Hub:       hub,
			Heartbeat: cfg.Heartbeat,
			Logger:    logger,
		}),
		endpoint:       endpoint,
		token:          strings.TrimSpace(cfg.Token),
		corsOrigin:     corsOrigin,
		maxBody:        maxBody,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
	if s.token == "" {
		logger.Warn("bearer auth disabled; /message and /mcp are open")
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	// The push channel is long-lived and must not be cut by the timeout.
	r.Get(s.endpoint, s.stream.ServeHTTP)

	// Tool calls are bounded only by CallTimeout.
	r.With(s.maxBodyMiddleware, s.auth).Post("/message", s.handleMessage)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))
		r.Use(s.maxBodyMiddleware)

		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.auth)
			r.Route("/mcp", func(r chi.Router) {
				r.Get("/status", s.handleStatus)
				r.Get("/health", s.handleHealth)
				r.Get("/metrics", s.handleMetrics)
				r.Get("/tools", s.handleTools)
			})
		})
	})
	return r
}

// Handler returns the router with every route and middleware wired.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the sealed tool catalog.
func (s *Server) Registry() *tool.Registry { return s.registry }

// Discovery returns the report of the startup discovery pass.
func (s *Server) Discovery() tool.Report { return s.discovery }

// Dispatcher returns the JSON-RPC dispatcher.
func (s *Server) Dispatcher() *mcp.Dispatcher { return s.dispatcher }

// Hub returns the subscriber hub.
func (s *Server) Hub() *bus.Hub { return s.hub }

// Reporter returns the status reporter.
func (s *Server) Reporter() *status.Reporter { return s.reporter }

// Close ends every push-channel connection.
func (s *Server) Close() error {
	return s.hub.Close()
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
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

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		want := "Bearer " + s.token
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: message}})
}

func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
