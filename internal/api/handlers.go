package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/citidesk/internal/assignment"
	"github.com/citidesk/internal/capacity"
	"github.com/citidesk/internal/queue"
	"github.com/citidesk/internal/store"
	"github.com/citidesk/pkg/models"
)

// Request types

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type CreateServiceRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Fee             int64  `json:"fee"`
	DefaultPriority string `json:"defaultPriority"`
}

// pathID reads a positive integer path variable.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// Ticket handlers

func (g *Gateway) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req assignment.CreateRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Invalid request body", err.Error())
		return
	}

	ticket, err := g.engine.CreateTicket(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeStatusResponse(w, http.StatusCreated, map[string]interface{}{"ticket": ticket}, nil)
}

func (g *Gateway) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Ticket ID must be a positive integer", "")
		return
	}

	ticket, err := g.reader.GetTicket(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, string(assignment.CodeTicketNotFound), "Ticket not found", "")
		return
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to get ticket", err.Error())
		return
	}

	writeSuccessResponse(w, map[string]interface{}{"ticket": ticket}, nil)
}

func (g *Gateway) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Ticket ID must be a positive integer", "")
		return
	}

	var req UpdateStatusRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Invalid request body", err.Error())
		return
	}

	res, err := g.engine.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeSuccessResponse(w, res, nil)
}

func (g *Gateway) handleQueueInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Ticket ID must be a positive integer", "")
		return
	}

	info, err := g.queue.Info(r.Context(), id)
	if errors.Is(err, queue.ErrTicketNotFound) {
		writeErrorResponse(w, http.StatusNotFound, string(assignment.CodeTicketNotFound), "Ticket not found", "")
		return
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to get queue info", err.Error())
		return
	}

	writeSuccessResponse(w, info, nil)
}

func (g *Gateway) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req assignment.UserRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Invalid request body", err.Error())
		return
	}

	user, err := g.engine.RegisterUser(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeStatusResponse(w, http.StatusCreated, user, nil)
}

func (g *Gateway) handleUserTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userId")
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "User ID must be a positive integer", "")
		return
	}
	g.writeTickets(w, r, store.TicketFilter{UserID: userID, Limit: queryLimit(r, 100, 500)})
}

func (g *Gateway) handleAgentTickets(w http.ResponseWriter, r *http.Request) {
	agentID, ok := pathID(r, "id")
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Agent ID must be a positive integer", "")
		return
	}
	if _, err := g.reader.GetAgent(r.Context(), agentID); errors.Is(err, store.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, string(assignment.CodeAgentNotFound), "Agent not found", "")
		return
	}

	filter := store.TicketFilter{AgentID: agentID, Limit: queryLimit(r, 100, 500)}
	if !statusFilter(w, r, &filter) {
		return
	}
	g.writeTickets(w, r, filter)
}

// statusFilter applies repeated ?status= parameters to filter. It writes a
// 400 and returns false on an unknown status.
func statusFilter(w http.ResponseWriter, r *http.Request, filter *store.TicketFilter) bool {
	for _, s := range r.URL.Query()["status"] {
		status, err := models.ParseTicketStatus(s)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Unknown status filter", s)
			return false
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return true
}

func (g *Gateway) writeTickets(w http.ResponseWriter, r *http.Request, filter store.TicketFilter) {
	tickets, err := g.reader.ListTickets(r.Context(), filter)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to list tickets", err.Error())
		return
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}

	writeSuccessResponse(w, tickets, &APIMeta{
		Total:   len(tickets),
		Limit:   filter.Limit,
		HasMore: len(tickets) == filter.Limit,
	})
}

// Agent handlers

func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	loads, err := capacity.Loads(r.Context(), g.reader)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to list agents", err.Error())
		return
	}
	if loads == nil {
		loads = []models.AgentLoad{}
	}

	writeSuccessResponse(w, loads, &APIMeta{Total: len(loads)})
}

func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req assignment.AgentRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Invalid request body", err.Error())
		return
	}

	agent, assigned, err := g.engine.AddAgent(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if assigned == nil {
		assigned = []*models.Ticket{}
	}

	writeStatusResponse(w, http.StatusCreated, map[string]interface{}{
		"agent":    agent,
		"assigned": assigned,
	}, nil)
}

func (g *Gateway) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Agent ID must be a positive integer", "")
		return
	}

	res, err := g.engine.RemoveAgent(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeSuccessResponse(w, map[string]interface{}{
		"message":    "Agent deleted and tickets reassigned",
		"reassigned": len(res.Reassigned),
		"waiting":    len(res.Waiting),
	}, nil)
}

// Service handlers

func (g *Gateway) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := g.catalog.List(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to list services", err.Error())
		return
	}
	if services == nil {
		services = []*models.Service{}
	}

	writeSuccessResponse(w, services, &APIMeta{Total: len(services)})
}

func (g *Gateway) handleGetService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Service ID must be a positive integer", "")
		return
	}

	svc, err := g.catalog.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, string(assignment.CodeServiceNotFound), "Service not found", "")
		return
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to get service", err.Error())
		return
	}

	writeSuccessResponse(w, svc, nil)
}

func (g *Gateway) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Service ID must be a positive integer", "")
		return
	}

	if err := g.engine.RemoveService(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	g.catalog.Invalidate()

	writeSuccessResponse(w, map[string]interface{}{"message": "Service deleted"}, nil)
}

func (g *Gateway) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, string(assignment.CodeInvalidInput), "Invalid request body", err.Error())
		return
	}

	svc := &models.Service{
		Name:            req.Name,
		Description:     req.Description,
		Fee:             req.Fee,
		DefaultPriority: models.ServicePriority(req.DefaultPriority),
	}
	if err := g.engine.AddService(r.Context(), svc); err != nil {
		writeEngineError(w, err)
		return
	}
	g.catalog.Invalidate()

	writeStatusResponse(w, http.StatusCreated, svc, nil)
}

// Admin handlers

func (g *Gateway) handleListAllTickets(w http.ResponseWriter, r *http.Request) {
	filter := store.TicketFilter{Limit: queryLimit(r, 200, 1000)}
	if !statusFilter(w, r, &filter) {
		return
	}
	g.writeTickets(w, r, filter)
}

func (g *Gateway) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := g.reader.ListPayments(r.Context(), queryLimit(r, 200, 1000))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to list payments", err.Error())
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}

	writeSuccessResponse(w, payments, &APIMeta{Total: len(payments)})
}

func (g *Gateway) handleListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := g.reader.ListLogs(r.Context(), queryLimit(r, 100, 1000))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to list logs", err.Error())
		return
	}
	if logs == nil {
		logs = []*models.TicketLog{}
	}

	writeSuccessResponse(w, logs, &APIMeta{Total: len(logs)})
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := g.reader.Stats(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to get stats", err.Error())
		return
	}

	writeSuccessResponse(w, stats, nil)
}

func (g *Gateway) handleSLO(w http.ResponseWriter, r *http.Request) {
	evaluations, err := g.slo.EvaluateAll(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, string(assignment.CodeInternal), "Failed to evaluate SLOs", err.Error())
		return
	}

	writeSuccessResponse(w, evaluations, nil)
}

func (g *Gateway) handleRecompute(w http.ResponseWriter, r *http.Request) {
	changed, err := g.engine.Recompute(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeSuccessResponse(w, map[string]interface{}{"changed": changed}, nil)
}

func (g *Gateway) handleRebalance(w http.ResponseWriter, r *http.Request) {
	assigned, err := g.engine.Drain(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if assigned == nil {
		assigned = []*models.Ticket{}
	}

	writeSuccessResponse(w, map[string]interface{}{"assigned": assigned}, nil)
}

// Health and metrics

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if g.health != nil {
		g.health.HTTPHandler()(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	status, code := "healthy", http.StatusOK
	if _, err := g.reader.Stats(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSONResponse(w, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"gateway": g.GetMetrics(),
		"engine":  g.engine.Stats(),
	}
	if g.hub != nil {
		data["websocket_clients"] = g.hub.Clients()
	}
	writeSuccessResponse(w, data, nil)
}

// MetricsSnapshot is a copy of the gateway counters
type MetricsSnapshot struct {
	RequestsTotal    int64            `json:"requests_total"`
	RequestsActive   int64            `json:"requests_active"`
	RequestsFailed   int64            `json:"requests_failed"`
	AverageLatency   string           `json:"average_latency"`
	RequestsByPath   map[string]int64 `json:"requests_by_path"`
	RequestsByMethod map[string]int64 `json:"requests_by_method"`
	RequestsByStatus map[int]int64    `json:"requests_by_status"`
	LastRequest      time.Time        `json:"last_request"`
}

// GetMetrics returns current gateway metrics
func (g *Gateway) GetMetrics() MetricsSnapshot {
	g.metrics.mu.Lock()
	defer g.metrics.mu.Unlock()

	snap := MetricsSnapshot{
		RequestsTotal:    g.metrics.RequestsTotal,
		RequestsActive:   g.metrics.RequestsActive,
		RequestsFailed:   g.metrics.RequestsFailed,
		AverageLatency:   g.metrics.AverageLatency.String(),
		RequestsByPath:   make(map[string]int64, len(g.metrics.RequestsByPath)),
		RequestsByMethod: make(map[string]int64, len(g.metrics.RequestsByMethod)),
		RequestsByStatus: make(map[int]int64, len(g.metrics.RequestsByStatus)),
		LastRequest:      g.metrics.LastRequest,
	}
	for k, v := range g.metrics.RequestsByPath {
		snap.RequestsByPath[k] = v
	}
	for k, v := range g.metrics.RequestsByMethod {
		snap.RequestsByMethod[k] = v
	}
	for k, v := range g.metrics.RequestsByStatus {
		snap.RequestsByStatus[k] = v
	}
	return snap
}
