// Package store holds the durable record of tickets, agents, services and
// payments. Every mutation goes through Store.InTx; reads outside a
// transaction are best-effort and used only for estimates and listings.
package store

import (
	"context"
	"errors"

	"github.com/citidesk/pkg/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a row is not in the state a mutation expects
	ErrConflict = errors.New("conflict")

	// ErrRetryable is returned when the store aborted the transaction
	// (serialization failure, deadlock, lock timeout). State is unchanged
	// and the caller may resubmit.
	ErrRetryable = errors.New("transaction aborted, retry")
)

// TicketFilter narrows ListTickets. Zero values mean "any".
type TicketFilter struct {
	UserID   int64
	AgentID  int64
	Statuses []models.TicketStatus
	Limit    int
}

// Reader is the read side shared by Store and Tx.
type Reader interface {
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]*models.Ticket, error)
	// ListNonTerminalTickets returns OPEN and IN_PROGRESS tickets in id order.
	ListNonTerminalTickets(ctx context.Context) ([]*models.Ticket, error)
	GetAgent(ctx context.Context, id int64) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	// CountActiveTicketsForAgent counts non-terminal tickets bound to the agent.
	CountActiveTicketsForAgent(ctx context.Context, agentID int64) (int, error)
	// CountTicketsForAgent counts tickets bound to the agent in the given status.
	CountTicketsForAgent(ctx context.Context, agentID int64, status models.TicketStatus) (int, error)
	GetService(ctx context.Context, id int64) (*models.Service, error)
	ListServices(ctx context.Context) ([]*models.Service, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetPayment(ctx context.Context, ticketID int64) (*models.Payment, error)
	// ListPayments returns payments newest first. limit <= 0 means no limit.
	ListPayments(ctx context.Context, limit int) ([]*models.Payment, error)
	ListLogs(ctx context.Context, limit int) ([]*models.TicketLog, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// Tx is a unit of work. Nothing written through a Tx is visible to other
// callers until InTx returns nil; on error every write is discarded.
type Tx interface {
	Reader

	CreateTicket(ctx context.Context, t *models.Ticket) error
	// LockTicket reads a ticket and holds it against concurrent writers
	// until the transaction ends.
	LockTicket(ctx context.Context, id int64) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, t *models.Ticket) error
	// FindOpenTicketsOrderedBy returns up to limit OPEN tickets with no
	// agent, first by the given ordering. Rows locked by other
	// transactions are skipped. limit <= 0 means no limit.
	FindOpenTicketsOrderedBy(ctx context.Context, order Ordering, limit int) ([]*models.Ticket, error)
	// BulkUnassignAgent moves every non-terminal ticket bound to the agent
	// back to OPEN with no agent and returns the tickets as they are now.
	BulkUnassignAgent(ctx context.Context, agentID int64) ([]*models.Ticket, error)
	// SetQueuePosition writes a ticket's position; nil clears it. A position
	// is never written to a terminal ticket.
	SetQueuePosition(ctx context.Context, ticketID int64, pos *int) error
	// ClearTerminalQueuePositions nulls the position of every COMPLETED
	// or CLOSED ticket and returns how many rows changed.
	ClearTerminalQueuePositions(ctx context.Context) (int, error)
	// LockQueue serializes full queue recomputes.
	LockQueue(ctx context.Context) error

	CreateAgent(ctx context.Context, a *models.Agent) error
	LockAgent(ctx context.Context, id int64) (*models.Agent, error)
	DeleteAgent(ctx context.Context, id int64) error

	CreateService(ctx context.Context, s *models.Service) error
	// DeleteService removes a catalogue entry. It fails with ErrConflict
	// while any ticket still references the service.
	DeleteService(ctx context.Context, id int64) error
	// CreateUser registers a citizen. A non-empty email must be unique.
	CreateUser(ctx context.Context, u *models.User) error

	CreatePayment(ctx context.Context, p *models.Payment) error
	CompletePayment(ctx context.Context, ticketID int64) error

	AppendLog(ctx context.Context, ticketID int64, message string) error
}

// Store is the ticket store.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
