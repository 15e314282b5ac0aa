// Package assignment is the scheduler core. It decides which agent works on
// which ticket: on ticket creation, on completion or closing, when an agent
// is removed or added, and on an explicit rebalance.
//
// Every decision runs inside one store transaction. The agent row is locked
// and its load re-counted before a ticket is bound to it, so two concurrent
// triggers can never fill the same free slot twice. Queue positions are
// recomputed and notifications are handed off only after the transaction
// has committed.
package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/citidesk/internal/capacity"
	"github.com/citidesk/internal/priority"
	"github.com/citidesk/internal/queue"
	"github.com/citidesk/internal/store"
	"github.com/citidesk/internal/telemetry"
	"github.com/citidesk/pkg/models"
)

// Notifier receives events after the transition that produced them has
// committed. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event)
}

type Options struct {
	// UniformOrdering makes the automatic pick use the display ordering
	// instead of final priority first.
	UniformOrdering bool
	Now             func() time.Time
}

type Engine struct {
	store    store.Store
	queue    *queue.Calculator
	notifier Notifier
	pick     store.Ordering
	now      func() time.Time
	logger   *slog.Logger

	created   atomic.Int64
	assigned  atomic.Int64
	completed atomic.Int64
	closed    atomic.Int64
	requeued  atomic.Int64
	conflicts atomic.Int64
}

// New creates an engine. notifier may be nil.
func New(s store.Store, q *queue.Calculator, n Notifier, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	pick := store.OrderPick
	if opts.UniformOrdering {
		pick = store.OrderDisplay
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:    s,
		queue:    q,
		notifier: n,
		pick:     pick,
		now:      now,
		logger:   logger,
	}
}

// CreateRequest is the input for CreateTicket. CustomerPriority is parsed
// case-insensitively.
type CreateRequest struct {
	ServiceID        int64  `json:"serviceId"`
	UserID           int64  `json:"userId"`
	CustomerPriority string `json:"customerPriority"`
}

// UnmarshalJSON accepts serviceId and userId either as JSON numbers or as
// numeric strings, which is what form-encoded clients send.
func (r *CreateRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		ServiceID        json.Number `json:"serviceId"`
		UserID           json.Number `json:"userId"`
		CustomerPriority string      `json:"customerPriority"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	serviceID, err := parseID(raw.ServiceID)
	if err != nil {
		return fmt.Errorf("serviceId: %w", err)
	}
	userID, err := parseID(raw.UserID)
	if err != nil {
		return fmt.Errorf("userId: %w", err)
	}
	*r = CreateRequest{ServiceID: serviceID, UserID: userID, CustomerPriority: raw.CustomerPriority}
	return nil
}

func parseID(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	return strconv.ParseInt(strings.TrimSpace(n.String()), 10, 64)
}

// CreateTicket admits a ticket and binds it to the least-loaded agent with
// capacity, if there is one.
func (e *Engine) CreateTicket(ctx context.Context, req CreateRequest) (t *models.Ticket, err error) {
	ctx, span := telemetry.StartSpan(ctx, "assignment.create_ticket",
		attribute.Int64("service.id", req.ServiceID))
	defer func() { telemetry.End(span, err) }()

	if req.ServiceID <= 0 {
		return nil, invalid("serviceId must be a positive integer")
	}
	if req.UserID <= 0 {
		return nil, invalid("userId must be a positive integer")
	}
	cp, perr := models.ParseCustomerPriority(req.CustomerPriority)
	if perr != nil {
		return nil, invalid("customerPriority must be NORMAL or URGENT")
	}

	var (
		ticket  *models.Ticket
		service *models.Service
		agent   *models.Agent
	)
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		svc, err := tx.GetService(ctx, req.ServiceID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeServiceNotFound, fmt.Sprintf("service %d not found", req.ServiceID), err)
		}
		if err != nil {
			return err
		}

		a, err := capacity.Claim(ctx, tx)
		if err != nil {
			return err
		}

		tk := &models.Ticket{
			ServiceID:        svc.ID,
			UserID:           req.UserID,
			Status:           models.StatusOpen,
			CustomerPriority: cp,
			ServicePriority:  svc.DefaultPriority,
			FinalPriority:    priority.Final(svc.DefaultPriority, cp),
		}
		if a != nil {
			tk.Status = models.StatusInProgress
			tk.AgentID = models.Int64Ptr(a.ID)
		}
		if err := tx.CreateTicket(ctx, tk); err != nil {
			return err
		}

		payment := &models.Payment{
			TicketID: tk.ID,
			UserID:   tk.UserID,
			Amount:   svc.Fee,
			Status:   models.PaymentPending,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}

		msg := fmt.Sprintf("Ticket created with priority %s (no agent available, waiting)", cp)
		if a != nil {
			msg = fmt.Sprintf("Ticket created with priority %s and assigned to agent %s", cp, a.Name)
		}
		if err := tx.AppendLog(ctx, tk.ID, msg); err != nil {
			return err
		}

		ticket, service, agent = tk, svc, a
		return nil
	})
	if err != nil {
		return nil, e.fail(err, "failed to create ticket")
	}

	e.created.Add(1)
	if agent != nil {
		e.assigned.Add(1)
	}
	e.logger.Info("ticket created",
		"ticket_id", ticket.ID,
		"final_priority", ticket.FinalPriority,
		"agent_id", agentRef(agent),
	)

	e.settle(ctx)
	ticket = e.refresh(ctx, ticket)

	e.emit(ctx, models.EventTicketCreated, ticket, agent, service)
	if agent != nil {
		e.emit(ctx, models.EventTicketAssigned, ticket, agent, service)
	}
	return ticket, nil
}

// StatusResult is returned by status transitions. AutoAssigned is the
// waiting ticket that took the freed slot, if any.
type StatusResult struct {
	Ticket       *models.Ticket `json:"ticket"`
	AutoAssigned *models.Ticket `json:"autoAssigned"`
}

// UpdateStatus applies an externally requested status. Only COMPLETED and
// CLOSED can be requested; OPEN and IN_PROGRESS are set by the engine.
func (e *Engine) UpdateStatus(ctx context.Context, ticketID int64, status string) (*StatusResult, error) {
	if ticketID <= 0 {
		return nil, invalid("ticket id must be a positive integer")
	}
	s, err := models.ParseTicketStatus(status)
	if err != nil {
		return nil, invalid("unknown status %q", status)
	}
	switch s {
	case models.StatusCompleted:
		return e.Complete(ctx, ticketID)
	case models.StatusClosed:
		return e.Close(ctx, ticketID)
	}
	return nil, invalid("status %s is set by the assignment engine and cannot be requested", s)
}

// Complete marks a ticket COMPLETED, settles its payment and pulls the next
// waiting ticket onto the freed slot.
func (e *Engine) Complete(ctx context.Context, ticketID int64) (*StatusResult, error) {
	return e.finish(ctx, ticketID, models.StatusCompleted)
}

// Close marks a ticket CLOSED. It frees capacity like Complete but leaves
// closedAt unset and the payment untouched.
func (e *Engine) Close(ctx context.Context, ticketID int64) (*StatusResult, error) {
	return e.finish(ctx, ticketID, models.StatusClosed)
}

func (e *Engine) finish(ctx context.Context, ticketID int64, target models.TicketStatus) (res *StatusResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "assignment.finish",
		attribute.Int64("ticket.id", ticketID),
		attribute.String("ticket.status", string(target)))
	defer func() { telemetry.End(span, err) }()

	var (
		done    *models.Ticket
		next    *models.Ticket
		holder  *models.Agent
		service *models.Service
	)
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		seen, err := tx.GetTicket(ctx, ticketID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeTicketNotFound, fmt.Sprintf("ticket %d not found", ticketID), err)
		}
		if err != nil {
			return err
		}

		// Agent before ticket, the same lock order as every bind.
		var agent *models.Agent
		if seen.AgentID != nil {
			agent, err = tx.LockAgent(ctx, *seen.AgentID)
			if errors.Is(err, store.ErrNotFound) {
				agent = nil
			} else if err != nil {
				return err
			}
		}

		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if !sameAgent(seen.AgentID, t.AgentID) {
			return fmt.Errorf("ticket %d changed agent while locking: %w", ticketID, store.ErrRetryable)
		}
		if t.Status.Terminal() {
			return newError(CodeTicketConflict,
				fmt.Sprintf("ticket %d is already %s", ticketID, t.Status), store.ErrConflict)
		}

		t.Status = target
		t.QueuePosition = nil
		if target == models.StatusCompleted {
			closedAt := e.now()
			t.ClosedAt = &closedAt
		}
		if err := tx.UpdateTicket(ctx, t); err != nil {
			return err
		}
		if target == models.StatusCompleted {
			if err := tx.CompletePayment(ctx, t.ID); err != nil {
				return err
			}
		}
		if err := tx.AppendLog(ctx, t.ID, fmt.Sprintf("Ticket marked as %s", target)); err != nil {
			return err
		}
		done = t

		if agent == nil {
			return nil
		}
		ok, _, err := capacity.HasCapacity(ctx, tx, agent)
		if err != nil || !ok {
			return err
		}
		candidates, err := tx.FindOpenTicketsOrderedBy(ctx, e.pick, 1)
		if err != nil || len(candidates) == 0 {
			return err
		}
		if err := e.bind(ctx, tx, candidates[0], agent); err != nil {
			return err
		}
		next, holder = candidates[0], agent
		return nil
	})
	if err != nil {
		return nil, e.fail(err, "failed to update ticket status")
	}

	if target == models.StatusCompleted {
		e.completed.Add(1)
	} else {
		e.closed.Add(1)
	}
	if next != nil {
		e.assigned.Add(1)
	}
	e.logger.Info("ticket finished",
		"ticket_id", done.ID,
		"status", done.Status,
		"auto_assigned", ticketRef(next),
	)

	e.settle(ctx)
	if s, err := e.store.GetService(ctx, done.ServiceID); err == nil {
		service = s
	}

	kind := models.EventTicketCompleted
	if target == models.StatusClosed {
		kind = models.EventTicketClosed
	}
	e.emit(ctx, kind, done, nil, service)

	res = &StatusResult{Ticket: done}
	if next != nil {
		res.AutoAssigned = e.refresh(ctx, next)
		e.emit(ctx, models.EventTicketAssigned, res.AutoAssigned, holder, e.serviceOf(ctx, next))
	}
	return res, nil
}

// RemoveResult describes what happened to an agent's tickets.
type RemoveResult struct {
	Agent      *models.Agent    `json:"agent"`
	Reassigned []*models.Ticket `json:"reassigned"`
	Waiting    []*models.Ticket `json:"waiting"`
}

// RemoveAgent requeues every ticket bound to the agent and deletes it in one
// transaction, then tries to place each requeued ticket on another agent,
// highest priority first. Tickets that find no capacity stay OPEN.
func (e *Engine) RemoveAgent(ctx context.Context, agentID int64) (res *RemoveResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "assignment.remove_agent", attribute.Int64("agent.id", agentID))
	defer func() { telemetry.End(span, err) }()

	if agentID <= 0 {
		return nil, invalid("agent id must be a positive integer")
	}

	var (
		removed  *models.Agent
		requeued []*models.Ticket
	)
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAgent(ctx, agentID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeAgentNotFound, fmt.Sprintf("agent %d not found", agentID), err)
		}
		if err != nil {
			return err
		}

		tickets, err := tx.BulkUnassignAgent(ctx, agentID)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			if err := tx.AppendLog(ctx, t.ID, fmt.Sprintf("Requeued after agent %s was removed", a.Name)); err != nil {
				return err
			}
		}
		if err := tx.DeleteAgent(ctx, agentID); err != nil {
			return err
		}

		removed, requeued = a, tickets
		return nil
	})
	if err != nil {
		return nil, e.fail(err, "failed to remove agent")
	}

	e.requeued.Add(int64(len(requeued)))
	e.logger.Info("agent removed", "agent_id", agentID, "requeued", len(requeued))

	sort.Slice(requeued, func(i, j int) bool { return e.pick.Less(requeued[i], requeued[j]) })

	res = &RemoveResult{Agent: removed}
	placedBy := make(map[int64]*models.Agent)
	for _, t := range requeued {
		placed, agent, err := e.place(ctx, t.ID)
		switch {
		case errors.Is(err, errTaken):
			// Another transition already moved the ticket on and reported it.
			e.logger.Debug("requeued ticket taken before placement", "ticket_id", t.ID)
		case err != nil:
			// The ticket is OPEN and unbound; the next completion or
			// rebalance picks it up.
			e.logger.Warn("failed to reassign requeued ticket", "ticket_id", t.ID, "error", err)
			res.Waiting = append(res.Waiting, t)
		case placed == nil:
			res.Waiting = append(res.Waiting, t)
		default:
			res.Reassigned = append(res.Reassigned, placed)
			placedBy[placed.ID] = agent
		}
	}
	e.assigned.Add(int64(len(res.Reassigned)))

	e.settle(ctx)

	e.emit(ctx, models.EventAgentRemoved, nil, removed, nil)
	for i, t := range res.Reassigned {
		res.Reassigned[i] = e.refresh(ctx, t)
		e.emit(ctx, models.EventTicketAssigned, res.Reassigned[i], placedBy[t.ID], e.serviceOf(ctx, t))
	}
	for i, t := range res.Waiting {
		res.Waiting[i] = e.refresh(ctx, t)
		e.emit(ctx, models.EventTicketRequeued, res.Waiting[i], nil, e.serviceOf(ctx, t))
	}
	return res, nil
}

// errTaken reports that a ticket stopped waiting before it could be placed.
var errTaken = errors.New("ticket is no longer waiting")

// place binds one OPEN ticket to the least-loaded agent with capacity, in
// its own transaction. It returns a nil ticket when no agent has room and
// errTaken when the ticket was bound or finished by someone else in the
// meantime.
func (e *Engine) place(ctx context.Context, ticketID int64) (*models.Ticket, *models.Agent, error) {
	var (
		placed *models.Ticket
		holder *models.Agent
	)
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		seen, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if seen.Status != models.StatusOpen || seen.Bound() {
			return errTaken
		}

		agent, err := capacity.Claim(ctx, tx)
		if err != nil || agent == nil {
			return err
		}
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.Status != models.StatusOpen || t.Bound() {
			return errTaken
		}
		if err := e.bind(ctx, tx, t, agent); err != nil {
			return err
		}
		placed, holder = t, agent
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return placed, holder, nil
}

// AgentRequest is the input for AddAgent. MaxTickets defaults to
// models.DefaultMaxTickets.
type AgentRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	MaxTickets int    `json:"maxTickets"`
}

// AddAgent creates an agent and, in the same transaction, hands it up to
// MaxTickets waiting tickets in pick order.
func (e *Engine) AddAgent(ctx context.Context, req AgentRequest) (agent *models.Agent, assigned []*models.Ticket, err error) {
	ctx, span := telemetry.StartSpan(ctx, "assignment.add_agent")
	defer func() { telemetry.End(span, err) }()

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Name == "" || req.Email == "" || req.Username == "" {
		return nil, nil, invalid("name, email and username are required")
	}
	if req.MaxTickets < 0 {
		return nil, nil, invalid("maxTickets must be positive")
	}
	if req.MaxTickets == 0 {
		req.MaxTickets = models.DefaultMaxTickets
	}

	err = e.store.InTx(ctx, func(tx store.Tx) error {
		a := &models.Agent{
			Name:       req.Name,
			Email:      req.Email,
			Username:   req.Username,
			MaxTickets: req.MaxTickets,
		}
		if err := tx.CreateAgent(ctx, a); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return newError(CodeAgentConflict, "email or username already in use", err)
			}
			return err
		}

		waiting, err := tx.FindOpenTicketsOrderedBy(ctx, e.pick, a.MaxTickets)
		if err != nil {
			return err
		}
		bound := make([]*models.Ticket, 0, len(waiting))
		for _, t := range waiting {
			if err := e.bind(ctx, tx, t, a); err != nil {
				return err
			}
			bound = append(bound, t)
		}

		agent, assigned = a, bound
		return nil
	})
	if err != nil {
		return nil, nil, e.fail(err, "failed to add agent")
	}

	e.assigned.Add(int64(len(assigned)))
	e.logger.Info("agent added", "agent_id", agent.ID, "assigned", len(assigned))

	e.settle(ctx)
	for i, t := range assigned {
		assigned[i] = e.refresh(ctx, t)
		e.emit(ctx, models.EventTicketAssigned, assigned[i], agent, e.serviceOf(ctx, t))
	}
	return agent, assigned, nil
}

// Drain binds waiting tickets to agents with spare capacity until either
// runs out. Each bind is its own transaction.
func (e *Engine) Drain(ctx context.Context) (assigned []*models.Ticket, err error) {
	ctx, span := telemetry.StartSpan(ctx, "assignment.drain")
	defer func() { telemetry.End(span, err) }()

	holders := make(map[int64]*models.Agent)
	for {
		var (
			t     *models.Ticket
			agent *models.Agent
		)
		err = e.store.InTx(ctx, func(tx store.Tx) error {
			a, err := capacity.Claim(ctx, tx)
			if err != nil || a == nil {
				return err
			}
			waiting, err := tx.FindOpenTicketsOrderedBy(ctx, e.pick, 1)
			if err != nil || len(waiting) == 0 {
				return err
			}
			if err := e.bind(ctx, tx, waiting[0], a); err != nil {
				return err
			}
			t, agent = waiting[0], a
			return nil
		})
		if err != nil {
			err = e.fail(err, "failed to rebalance queue")
			break
		}
		if t == nil {
			break
		}
		assigned = append(assigned, t)
		holders[t.ID] = agent
	}

	if len(assigned) > 0 {
		e.assigned.Add(int64(len(assigned)))
		e.logger.Info("queue drained", "assigned", len(assigned))
		e.settle(ctx)
		for i, t := range assigned {
			assigned[i] = e.refresh(ctx, t)
			e.emit(ctx, models.EventTicketAssigned, assigned[i], holders[t.ID], e.serviceOf(ctx, t))
		}
	}
	return assigned, err
}

// bind sets the ticket's agent and moves it to IN_PROGRESS. The caller must
// hold the agent's lock and have checked its capacity.
func (e *Engine) bind(ctx context.Context, tx store.Tx, t *models.Ticket, agent *models.Agent) error {
	if t.Status != models.StatusOpen || t.Bound() {
		return newError(CodeTicketConflict,
			fmt.Sprintf("ticket %d is not waiting", t.ID), store.ErrConflict)
	}
	t.AgentID = models.Int64Ptr(agent.ID)
	t.Status = models.StatusInProgress
	if err := tx.UpdateTicket(ctx, t); err != nil {
		return err
	}
	return tx.AppendLog(ctx, t.ID, fmt.Sprintf("Auto-assigned to Agent %s", agent.Name))
}

// AddService adds an entry to the service catalogue.
func (e *Engine) AddService(ctx context.Context, svc *models.Service) error {
	svc.Name = strings.TrimSpace(svc.Name)
	if svc.Name == "" {
		return invalid("service name is required")
	}
	if svc.Fee < 0 {
		return invalid("fee cannot be negative")
	}
	if svc.DefaultPriority == "" {
		svc.DefaultPriority = models.ServicePriorityLow
	}
	p, err := models.ParseServicePriority(string(svc.DefaultPriority))
	if err != nil {
		return invalid("defaultPriority must be LOW, MEDIUM or HIGH")
	}
	svc.DefaultPriority = p

	err = e.store.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateService(ctx, svc)
	})
	return e.fail(err, "failed to add service")
}

// RemoveService deletes a catalogue entry that no ticket references.
func (e *Engine) RemoveService(ctx context.Context, serviceID int64) error {
	if serviceID <= 0 {
		return invalid("service id must be a positive integer")
	}
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		err := tx.DeleteService(ctx, serviceID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return newError(CodeServiceNotFound, fmt.Sprintf("service %d not found", serviceID), err)
		case errors.Is(err, store.ErrConflict):
			return newError(CodeServiceConflict, fmt.Sprintf("service %d still has tickets", serviceID), err)
		}
		return err
	})
	if err == nil {
		e.logger.Info("service removed", "service_id", serviceID)
	}
	return e.fail(err, "failed to remove service")
}

// UserRequest is the input for RegisterUser.
type UserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RegisterUser records a citizen so notifications can reach them.
func (e *Engine) RegisterUser(ctx context.Context, req UserRequest) (*models.User, error) {
	u := &models.User{
		Name:  strings.TrimSpace(req.Name),
		Email: strings.TrimSpace(req.Email),
	}
	if u.Name == "" {
		return nil, invalid("name is required")
	}
	if u.Email != "" && !strings.Contains(u.Email, "@") {
		return nil, invalid("email %q is not valid", u.Email)
	}

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		err := tx.CreateUser(ctx, u)
		if errors.Is(err, store.ErrConflict) {
			return newError(CodeUserConflict, "email already registered", err)
		}
		return err
	})
	if err != nil {
		return nil, e.fail(err, "failed to register user")
	}
	return u, nil
}

// Recompute renumbers the queue on demand.
func (e *Engine) Recompute(ctx context.Context) (int, error) {
	n, err := e.queue.Recompute(ctx)
	if err != nil {
		return 0, e.fail(err, "failed to recompute queue")
	}
	e.emit(ctx, models.EventQueueUpdated, nil, nil, nil)
	return n, nil
}

// Stats are the engine counters since start.
type Stats struct {
	Created   int64 `json:"created"`
	Assigned  int64 `json:"assigned"`
	Completed int64 `json:"completed"`
	Closed    int64 `json:"closed"`
	Requeued  int64 `json:"requeued"`
	Conflicts int64 `json:"conflicts"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Created:   e.created.Load(),
		Assigned:  e.assigned.Load(),
		Completed: e.completed.Load(),
		Closed:    e.closed.Load(),
		Requeued:  e.requeued.Load(),
		Conflicts: e.conflicts.Load(),
	}
}

func (e *Engine) fail(err error, message string) error {
	err = classify(err, message)
	if err == nil {
		return nil
	}
	switch CodeOf(err) {
	case CodeStoreConflict, CodeTicketConflict:
		e.conflicts.Add(1)
	}
	if CodeOf(err) == CodeInternal {
		e.logger.Error(message, "error", err)
	}
	return err
}

// settle renumbers the queue after a committed transition. A failure leaves
// stale positions behind until the next recompute, so it is only logged.
func (e *Engine) settle(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.queue.Recompute(ctx); err != nil {
		e.logger.Warn("queue recompute after transition failed", "error", err)
		return
	}
	e.emit(ctx, models.EventQueueUpdated, nil, nil, nil)
}

func (e *Engine) refresh(ctx context.Context, t *models.Ticket) *models.Ticket {
	fresh, err := e.store.GetTicket(ctx, t.ID)
	if err != nil {
		return t
	}
	return fresh
}

func (e *Engine) serviceOf(ctx context.Context, t *models.Ticket) *models.Service {
	svc, err := e.store.GetService(ctx, t.ServiceID)
	if err != nil {
		return nil
	}
	return svc
}

func (e *Engine) emit(ctx context.Context, kind models.EventKind, t *models.Ticket, a *models.Agent, svc *models.Service) {
	if e.notifier == nil {
		return
	}
	ev := models.NewEvent(kind, t, a)
	if svc != nil {
		s := *svc
		ev.Service = &s
	}
	e.notifier.Notify(context.WithoutCancel(ctx), ev)
}

func sameAgent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func agentRef(a *models.Agent) any {
	if a == nil {
		return nil
	}
	return a.ID
}

func ticketRef(t *models.Ticket) any {
	if t == nil {
		return nil
	}
	return t.ID
}
