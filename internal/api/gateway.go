package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/citidesk/internal/assignment"
	"github.com/citidesk/internal/config"
	"github.com/citidesk/internal/health"
	"github.com/citidesk/internal/monitoring"
	"github.com/citidesk/internal/store"
	"github.com/citidesk/pkg/models"
)

// Gateway represents the HTTP API
type Gateway struct {
	server  *http.Server
	router  *mux.Router
	handler http.Handler
	engine  Engine
	queue   QueueInfo
	reader  store.Reader
	catalog Catalog
	health  *health.HealthChecker
	hub     *Hub
	slo     SLOReport
	config  config.APIConfig
	logger  *slog.Logger
	metrics *GatewayMetrics
}

// Engine is the write side of the API
type Engine interface {
	CreateTicket(ctx context.Context, req assignment.CreateRequest) (*models.Ticket, error)
	UpdateStatus(ctx context.Context, ticketID int64, status string) (*assignment.StatusResult, error)
	AddAgent(ctx context.Context, req assignment.AgentRequest) (*models.Agent, []*models.Ticket, error)
	RemoveAgent(ctx context.Context, agentID int64) (*assignment.RemoveResult, error)
	AddService(ctx context.Context, svc *models.Service) error
	RemoveService(ctx context.Context, serviceID int64) error
	RegisterUser(ctx context.Context, req assignment.UserRequest) (*models.User, error)
	Recompute(ctx context.Context) (int, error)
	Drain(ctx context.Context) ([]*models.Ticket, error)
	Stats() assignment.Stats
}

// QueueInfo answers point queries about a ticket's place in the queue
type QueueInfo interface {
	Info(ctx context.Context, ticketID int64) (*models.QueueInfo, error)
}

// Catalog serves the service catalogue
type Catalog interface {
	List(ctx context.Context) ([]*models.Service, error)
	Get(ctx context.Context, id int64) (*models.Service, error)
	Invalidate()
}

// SLOReport evaluates the queue's service-level objectives
type SLOReport interface {
	EvaluateAll(ctx context.Context) ([]monitoring.SLOEvaluation, error)
}

// Dependencies are the collaborators a gateway serves. Health, Hub and SLO
// are optional.
type Dependencies struct {
	Engine  Engine
	Queue   QueueInfo
	Reader  store.Reader
	Catalog Catalog
	Health  *health.HealthChecker
	Hub     *Hub
	SLO     SLOReport
	Logger  *slog.Logger
}

// GatewayMetrics represents gateway metrics
type GatewayMetrics struct {
	mu               sync.Mutex
	RequestsTotal    int64            `json:"requests_total"`
	RequestsActive   int64            `json:"requests_active"`
	RequestsFailed   int64            `json:"requests_failed"`
	AverageLatency   time.Duration    `json:"average_latency"`
	RequestsByPath   map[string]int64 `json:"requests_by_path"`
	RequestsByMethod map[string]int64 `json:"requests_by_method"`
	RequestsByStatus map[int]int64    `json:"requests_by_status"`
	LastRequest      time.Time        `json:"last_request"`
}

// NewGateway creates a new API gateway
func NewGateway(cfg config.APIConfig, deps Dependencies) *Gateway {
	router := mux.NewRouter()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gateway := &Gateway{
		router:  router,
		engine:  deps.Engine,
		queue:   deps.Queue,
		reader:  deps.Reader,
		catalog: deps.Catalog,
		health:  deps.Health,
		hub:     deps.Hub,
		slo:     deps.SLO,
		config:  cfg,
		logger:  logger,
		metrics: &GatewayMetrics{
			RequestsByPath:   make(map[string]int64),
			RequestsByMethod: make(map[string]int64),
			RequestsByStatus: make(map[int]int64),
		},
	}

	gateway.setupRoutes()
	gateway.setupMiddleware()

	gateway.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      gateway.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return gateway
}

// setupRoutes configures all API routes
func (g *Gateway) setupRoutes() {
	api := g.router.PathPrefix("/api/v1").Subrouter()

	tickets := api.PathPrefix("/tickets").Subrouter()
	tickets.HandleFunc("", g.handleCreateTicket).Methods("POST")
	tickets.HandleFunc("/{id}", g.handleGetTicket).Methods("GET")
	tickets.HandleFunc("/{id}/status", g.handleUpdateStatus).Methods("PATCH", "PUT")
	tickets.HandleFunc("/{id}/queue", g.handleQueueInfo).Methods("GET")

	api.HandleFunc("/users", g.handleRegisterUser).Methods("POST")
	api.HandleFunc("/users/{userId}/tickets", g.handleUserTickets).Methods("GET")

	agents := api.PathPrefix("/agents").Subrouter()
	agents.HandleFunc("", g.handleListAgents).Methods("GET")
	agents.HandleFunc("", g.handleCreateAgent).Methods("POST")
	agents.HandleFunc("/{id}", g.handleDeleteAgent).Methods("DELETE")
	agents.HandleFunc("/{id}/tickets", g.handleAgentTickets).Methods("GET")

	services := api.PathPrefix("/services").Subrouter()
	services.HandleFunc("", g.handleListServices).Methods("GET")
	services.HandleFunc("", g.handleCreateService).Methods("POST")
	services.HandleFunc("/{id}", g.handleGetService).Methods("GET")
	services.HandleFunc("/{id}", g.handleDeleteService).Methods("DELETE")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/tickets", g.handleListAllTickets).Methods("GET")
	admin.HandleFunc("/payments", g.handleListPayments).Methods("GET")
	admin.HandleFunc("/logs", g.handleListLogs).Methods("GET")
	admin.HandleFunc("/stats", g.handleStats).Methods("GET")
	admin.HandleFunc("/queue/recompute", g.handleRecompute).Methods("POST")
	admin.HandleFunc("/queue/rebalance", g.handleRebalance).Methods("POST")
	if g.slo != nil {
		admin.HandleFunc("/slo", g.handleSLO).Methods("GET")
	}

	api.HandleFunc("/health", g.handleHealth).Methods("GET")
	api.HandleFunc("/metrics", g.handleMetrics).Methods("GET")

	if g.hub != nil {
		g.router.HandleFunc("/ws/queue", g.hub.HandleConnection)
	}
}

// setupMiddleware configures HTTP middleware
func (g *Gateway) setupMiddleware() {
	g.handler = g.router
	if g.config.EnableCORS {
		g.setupCORS()
	}

	g.router.Use(g.requestIDMiddleware)
	g.router.Use(g.bodyLimitMiddleware)
	g.router.Use(g.loggingMiddleware)

	// Metrics middleware (always last to capture all requests)
	g.router.Use(g.metricsMiddleware)
}

// setupCORS wraps the router so preflight requests are answered before
// route matching; no route accepts OPTIONS.
func (g *Gateway) setupCORS() {
	c := cors.New(cors.Options{
		AllowedOrigins:   g.config.AllowedOrigins,
		AllowedMethods:   g.config.AllowedMethods,
		AllowedHeaders:   g.config.AllowedHeaders,
		AllowCredentials: true,
	})

	g.handler = c.Handler(g.router)
}

// Handler exposes the full middleware chain, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Start starts the API gateway. It returns nil after Stop.
func (g *Gateway) Start() error {
	g.logger.Info("starting API gateway", "addr", g.server.Addr)
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve API: %w", err)
	}
	return nil
}

// Stop stops the API gateway
func (g *Gateway) Stop(ctx context.Context) error {
	g.logger.Info("stopping API gateway")
	if g.hub != nil {
		g.hub.Close()
	}
	return g.server.Shutdown(ctx)
}

// Response types

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type APIMeta struct {
	Total   int  `json:"total,omitempty"`
	Limit   int  `json:"limit,omitempty"`
	HasMore bool `json:"has_more,omitempty"`
}

// Helper functions

func writeJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, code, message, details string) {
	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	writeJSONResponse(w, status, response)
}

func writeSuccessResponse(w http.ResponseWriter, data interface{}, meta *APIMeta) {
	writeStatusResponse(w, http.StatusOK, data, meta)
}

func writeStatusResponse(w http.ResponseWriter, status int, data interface{}, meta *APIMeta) {
	response := APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	}
	writeJSONResponse(w, status, response)
}

// writeEngineError renders an engine failure with the HTTP status its code
// maps to.
func writeEngineError(w http.ResponseWriter, err error) {
	var e *assignment.Error
	if !errors.As(err, &e) {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Internal error", err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch e.Code {
	case assignment.CodeInvalidInput:
		status = http.StatusBadRequest
	case assignment.CodeServiceNotFound, assignment.CodeTicketNotFound, assignment.CodeAgentNotFound:
		status = http.StatusNotFound
	case assignment.CodeTicketConflict, assignment.CodeAgentConflict, assignment.CodeServiceConflict,
		assignment.CodeUserConflict, assignment.CodeStoreConflict:
		status = http.StatusConflict
	}

	details := ""
	if e.Code == assignment.CodeInternal && e.Err != nil {
		details = e.Err.Error()
	}
	writeJSONResponse(w, status, APIResponse{
		Error: &APIError{
			Code:      string(e.Code),
			Message:   e.Message,
			Details:   details,
			Retryable: e.Retryable(),
		},
	})
}

func parseRequestBody(r *http.Request, target interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// Middleware implementations

type requestIDKey struct{}

func (g *Gateway) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (g *Gateway) bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.config.MaxRequestSize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		level := slog.LevelDebug
		if wrapped.statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		g.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"request_id", requestID(r.Context()),
		)
	})
}

func (g *Gateway) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		g.metrics.mu.Lock()
		g.metrics.RequestsActive++
		g.metrics.mu.Unlock()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		g.updateMetrics(r, wrapped.statusCode, time.Since(start))
	})
}

func (g *Gateway) updateMetrics(r *http.Request, statusCode int, duration time.Duration) {
	g.metrics.mu.Lock()
	defer g.metrics.mu.Unlock()

	path := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			path = tpl
		}
	}

	g.metrics.RequestsActive--
	g.metrics.RequestsTotal++
	if statusCode >= http.StatusInternalServerError {
		g.metrics.RequestsFailed++
	}
	g.metrics.RequestsByPath[path]++
	g.metrics.RequestsByMethod[r.Method]++
	g.metrics.RequestsByStatus[statusCode]++
	g.metrics.LastRequest = time.Now()

	// Update average latency
	if g.metrics.AverageLatency == 0 {
		g.metrics.AverageLatency = duration
	} else {
		g.metrics.AverageLatency = (g.metrics.AverageLatency + duration) / 2
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over wrapped connections.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
