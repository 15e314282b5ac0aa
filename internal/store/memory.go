package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/citidesk/pkg/models"
)

// Memory is an in-process Store. Transactions are serialized by a single
// mutex and rolled back by restoring a snapshot, which gives the same
// all-or-nothing behaviour as the SQL store. Used by tests and by
// single-node deployments without a database.
type Memory struct {
	mu    sync.RWMutex
	state *memState
	now   func() time.Time
	fault func() error
}

type memState struct {
	tickets  map[int64]*models.Ticket
	agents   map[int64]*models.Agent
	services map[int64]*models.Service
	users    map[int64]*models.User
	payments map[int64]*models.Payment // keyed by ticket id
	logs     []*models.TicketLog

	nextTicket, nextAgent, nextService, nextUser, nextPayment, nextLog int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		state: &memState{
			tickets:  make(map[int64]*models.Ticket),
			agents:   make(map[int64]*models.Agent),
			services: make(map[int64]*models.Service),
			users:    make(map[int64]*models.User),
			payments: make(map[int64]*models.Payment),
		},
		now: time.Now,
	}
}

// SetClock replaces the time source used for timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// InjectFault makes every following commit fail with the error returned by
// fn (when non-nil). Pass nil to clear.
func (m *Memory) InjectFault(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// InTx runs fn with exclusive access to the store.
func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	err := fn(&memTx{memReader: memReader{s: m.state}, now: m.now})
	if err == nil && m.fault != nil {
		if ferr := m.fault(); ferr != nil {
			err = fmt.Errorf("%w: %v", ErrRetryable, ferr)
		}
	}
	if err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }

func (m *Memory) reader() (memReader, func()) {
	m.mu.RLock()
	return memReader{s: m.state}, m.mu.RUnlock
}

func (m *Memory) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.GetTicket(ctx, id)
}

func (m *Memory) ListTickets(ctx context.Context, filter TicketFilter) ([]*models.Ticket, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.ListTickets(ctx, filter)
}

func (m *Memory) ListNonTerminalTickets(ctx context.Context) ([]*models.Ticket, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.ListNonTerminalTickets(ctx)
}

func (m *Memory) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.GetAgent(ctx, id)
}

func (m *Memory) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.ListAgents(ctx)
}

func (m *Memory) CountActiveTicketsForAgent(ctx context.Context, agentID int64) (int, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.CountActiveTicketsForAgent(ctx, agentID)
}

func (m *Memory) CountTicketsForAgent(ctx context.Context, agentID int64, status models.TicketStatus) (int, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.CountTicketsForAgent(ctx, agentID, status)
}

func (m *Memory) GetService(ctx context.Context, id int64) (*models.Service, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.GetService(ctx, id)
}

func (m *Memory) ListServices(ctx context.Context) ([]*models.Service, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.ListServices(ctx)
}

func (m *Memory) GetUser(ctx context.Context, id int64) (*models.User, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.GetUser(ctx, id)
}

func (m *Memory) GetPayment(ctx context.Context, ticketID int64) (*models.Payment, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.GetPayment(ctx, ticketID)
}

func (m *Memory) ListPayments(ctx context.Context, limit int) ([]*models.Payment, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.ListPayments(ctx, limit)
}

func (m *Memory) ListLogs(ctx context.Context, limit int) ([]*models.TicketLog, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.ListLogs(ctx, limit)
}

func (m *Memory) Stats(ctx context.Context) (*models.Stats, error) {
	r, unlock := m.reader()
	defer unlock()
	return r.Stats(ctx)
}

// memReader implements Reader over a state the caller already holds a lock on.
type memReader struct {
	s *memState
}

func (r memReader) GetTicket(_ context.Context, id int64) (*models.Ticket, error) {
	t, ok := r.s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

func (r memReader) ListTickets(_ context.Context, filter TicketFilter) ([]*models.Ticket, error) {
	var out []*models.Ticket
	for _, t := range r.s.sortedTickets() {
		if filter.UserID != 0 && t.UserID != filter.UserID {
			continue
		}
		if filter.AgentID != 0 && !t.BoundTo(filter.AgentID) {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, t.Status) {
			continue
		}
		out = append(out, t.Clone())
	}
	// Newest first, like the SQL store.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r memReader) ListNonTerminalTickets(_ context.Context) ([]*models.Ticket, error) {
	var out []*models.Ticket
	for _, t := range r.s.sortedTickets() {
		if !t.Status.Terminal() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (r memReader) GetAgent(_ context.Context, id int64) (*models.Agent, error) {
	a, ok := r.s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (r memReader) ListAgents(_ context.Context) ([]*models.Agent, error) {
	out := make([]*models.Agent, 0, len(r.s.agents))
	for _, a := range r.s.agents {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReader) CountActiveTicketsForAgent(_ context.Context, agentID int64) (int, error) {
	n := 0
	for _, t := range r.s.tickets {
		if t.BoundTo(agentID) && !t.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (r memReader) CountTicketsForAgent(_ context.Context, agentID int64, status models.TicketStatus) (int, error) {
	n := 0
	for _, t := range r.s.tickets {
		if t.BoundTo(agentID) && t.Status == status {
			n++
		}
	}
	return n, nil
}

func (r memReader) GetService(_ context.Context, id int64) (*models.Service, error) {
	s, ok := r.s.services[id]
	if !ok {
		return nil, fmt.Errorf("service %d: %w", id, ErrNotFound)
	}
	c := *s
	return &c, nil
}

func (r memReader) ListServices(_ context.Context) ([]*models.Service, error) {
	out := make([]*models.Service, 0, len(r.s.services))
	for _, s := range r.s.services {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReader) GetUser(_ context.Context, id int64) (*models.User, error) {
	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	c := *u
	return &c, nil
}

func (r memReader) GetPayment(_ context.Context, ticketID int64) (*models.Payment, error) {
	p, ok := r.s.payments[ticketID]
	if !ok {
		return nil, fmt.Errorf("payment for ticket %d: %w", ticketID, ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (r memReader) ListPayments(_ context.Context, limit int) ([]*models.Payment, error) {
	out := make([]*models.Payment, 0, len(r.s.payments))
	for _, p := range r.s.payments {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memReader) ListLogs(_ context.Context, limit int) ([]*models.TicketLog, error) {
	out := make([]*models.TicketLog, 0, len(r.s.logs))
	for i := len(r.s.logs) - 1; i >= 0; i-- {
		c := *r.s.logs[i]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memReader) Stats(_ context.Context) (*models.Stats, error) {
	st := &models.Stats{
		TotalUsers:   len(r.s.users),
		TotalTickets: len(r.s.tickets),
		Agents:       len(r.s.agents),
	}
	for _, t := range r.s.tickets {
		switch t.Status {
		case models.StatusOpen:
			st.OpenTickets++
		case models.StatusInProgress:
			st.InProgress++
		case models.StatusCompleted:
			st.CompletedTickets++
		}
	}
	for _, p := range r.s.payments {
		if p.Status == models.PaymentPending {
			st.PendingPayments++
		}
	}
	return st, nil
}

// memTx implements Tx. The enclosing Memory holds its write lock for the
// lifetime of the transaction.
type memTx struct {
	memReader
	now func() time.Time
}

func (tx *memTx) CreateTicket(_ context.Context, t *models.Ticket) error {
	if _, ok := tx.s.services[t.ServiceID]; !ok {
		return fmt.Errorf("service %d: %w", t.ServiceID, ErrNotFound)
	}
	tx.s.nextTicket++
	t.ID = tx.s.nextTicket
	now := tx.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	tx.s.tickets[t.ID] = t.Clone()
	return nil
}

func (tx *memTx) LockTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	return tx.GetTicket(ctx, id)
}

func (tx *memTx) UpdateTicket(_ context.Context, t *models.Ticket) error {
	if _, ok := tx.s.tickets[t.ID]; !ok {
		return fmt.Errorf("ticket %d: %w", t.ID, ErrNotFound)
	}
	if t.AgentID != nil {
		if _, ok := tx.s.agents[*t.AgentID]; !ok {
			return fmt.Errorf("agent %d: %w", *t.AgentID, ErrNotFound)
		}
	}
	t.UpdatedAt = tx.now()
	tx.s.tickets[t.ID] = t.Clone()
	return nil
}

func (tx *memTx) FindOpenTicketsOrderedBy(_ context.Context, order Ordering, limit int) ([]*models.Ticket, error) {
	var out []*models.Ticket
	for _, t := range tx.s.tickets {
		if t.Status == models.StatusOpen && t.AgentID == nil {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return order.Less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memTx) BulkUnassignAgent(_ context.Context, agentID int64) ([]*models.Ticket, error) {
	var out []*models.Ticket
	now := tx.now()
	for _, t := range tx.s.sortedTickets() {
		if !t.BoundTo(agentID) || t.Status.Terminal() {
			continue
		}
		t.AgentID = nil
		t.Status = models.StatusOpen
		t.UpdatedAt = now
		out = append(out, t.Clone())
	}
	return out, nil
}

func (tx *memTx) SetQueuePosition(_ context.Context, ticketID int64, pos *int) error {
	t, ok := tx.s.tickets[ticketID]
	if !ok {
		return fmt.Errorf("ticket %d: %w", ticketID, ErrNotFound)
	}
	switch {
	case pos == nil:
		t.QueuePosition = nil
	case !t.Status.Terminal():
		t.QueuePosition = models.IntPtr(*pos)
	}
	return nil
}

func (tx *memTx) ClearTerminalQueuePositions(_ context.Context) (int, error) {
	n := 0
	for _, t := range tx.s.tickets {
		if t.Status.Terminal() && t.QueuePosition != nil {
			t.QueuePosition = nil
			n++
		}
	}
	return n, nil
}

func (tx *memTx) LockQueue(context.Context) error { return nil }

func (tx *memTx) CreateAgent(_ context.Context, a *models.Agent) error {
	for _, existing := range tx.s.agents {
		if (a.Email != "" && existing.Email == a.Email) || (a.Username != "" && existing.Username == a.Username) {
			return fmt.Errorf("agent email or username already in use: %w", ErrConflict)
		}
	}
	tx.s.nextAgent++
	a.ID = tx.s.nextAgent
	if a.CreatedAt.IsZero() {
		a.CreatedAt = tx.now()
	}
	c := *a
	tx.s.agents[a.ID] = &c
	return nil
}

func (tx *memTx) LockAgent(ctx context.Context, id int64) (*models.Agent, error) {
	return tx.GetAgent(ctx, id)
}

func (tx *memTx) DeleteAgent(_ context.Context, id int64) error {
	if _, ok := tx.s.agents[id]; !ok {
		return fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	for _, t := range tx.s.tickets {
		if t.BoundTo(id) && !t.Status.Terminal() {
			return fmt.Errorf("agent %d still has active tickets: %w", id, ErrConflict)
		}
	}
	// Terminal tickets keep history but must not reference a deleted agent.
	for _, t := range tx.s.tickets {
		if t.BoundTo(id) {
			t.AgentID = nil
		}
	}
	delete(tx.s.agents, id)
	return nil
}

func (tx *memTx) CreateService(_ context.Context, s *models.Service) error {
	tx.s.nextService++
	s.ID = tx.s.nextService
	c := *s
	tx.s.services[s.ID] = &c
	return nil
}

func (tx *memTx) DeleteService(_ context.Context, id int64) error {
	if _, ok := tx.s.services[id]; !ok {
		return fmt.Errorf("service %d: %w", id, ErrNotFound)
	}
	for _, t := range tx.s.tickets {
		if t.ServiceID == id {
			return fmt.Errorf("service %d is referenced by ticket %d: %w", id, t.ID, ErrConflict)
		}
	}
	delete(tx.s.services, id)
	return nil
}

func (tx *memTx) CreateUser(_ context.Context, u *models.User) error {
	if u.Email != "" {
		for _, existing := range tx.s.users {
			if strings.EqualFold(existing.Email, u.Email) {
				return fmt.Errorf("user email already registered: %w", ErrConflict)
			}
		}
	}
	tx.s.nextUser++
	u.ID = tx.s.nextUser
	c := *u
	tx.s.users[u.ID] = &c
	return nil
}

func (tx *memTx) CreatePayment(_ context.Context, p *models.Payment) error {
	if _, ok := tx.s.payments[p.TicketID]; ok {
		return fmt.Errorf("payment for ticket %d: %w", p.TicketID, ErrConflict)
	}
	tx.s.nextPayment++
	p.ID = tx.s.nextPayment
	now := tx.now()
	p.CreatedAt, p.UpdatedAt = now, now
	c := *p
	tx.s.payments[p.TicketID] = &c
	return nil
}

func (tx *memTx) CompletePayment(_ context.Context, ticketID int64) error {
	p, ok := tx.s.payments[ticketID]
	if !ok {
		return nil
	}
	p.Status = models.PaymentCompleted
	p.UpdatedAt = tx.now()
	return nil
}

func (tx *memTx) AppendLog(_ context.Context, ticketID int64, message string) error {
	tx.s.nextLog++
	tx.s.logs = append(tx.s.logs, &models.TicketLog{
		ID:        tx.s.nextLog,
		TicketID:  ticketID,
		Message:   message,
		CreatedAt: tx.now(),
	})
	return nil
}

func (s *memState) sortedTickets() []*models.Ticket {
	out := make([]*models.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memState) clone() *memState {
	c := &memState{
		tickets:     make(map[int64]*models.Ticket, len(s.tickets)),
		agents:      make(map[int64]*models.Agent, len(s.agents)),
		services:    make(map[int64]*models.Service, len(s.services)),
		users:       make(map[int64]*models.User, len(s.users)),
		payments:    make(map[int64]*models.Payment, len(s.payments)),
		logs:        make([]*models.TicketLog, len(s.logs)),
		nextTicket:  s.nextTicket,
		nextAgent:   s.nextAgent,
		nextService: s.nextService,
		nextUser:    s.nextUser,
		nextPayment: s.nextPayment,
		nextLog:     s.nextLog,
	}
	for id, t := range s.tickets {
		c.tickets[id] = t.Clone()
	}
	for id, a := range s.agents {
		v := *a
		c.agents[id] = &v
	}
	for id, sv := range s.services {
		v := *sv
		c.services[id] = &v
	}
	for id, u := range s.users {
		v := *u
		c.users[id] = &v
	}
	for id, p := range s.payments {
		v := *p
		c.payments[id] = &v
	}
	copy(c.logs, s.logs)
	return c
}

func hasStatus(list []models.TicketStatus, s models.TicketStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
