package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventKind represents the type of ticket lifecycle event
type EventKind string

const (
	EventTicketCreated   EventKind = "ticket.created"
	EventTicketAssigned  EventKind = "ticket.assigned"
	EventTicketCompleted EventKind = "ticket.completed"
	EventTicketClosed    EventKind = "ticket.closed"
	EventTicketRequeued  EventKind = "ticket.requeued"
	EventAgentRemoved    EventKind = "agent.removed"
	EventQueueUpdated    EventKind = "queue.updated"
)

// Event is handed to notification sinks after a transition commits
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Ticket    *Ticket   `json:"ticket,omitempty"`
	Agent     *Agent    `json:"agent,omitempty"`
	User      *User     `json:"user,omitempty"`
	Service   *Service  `json:"service,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh id. Ticket and agent are copied so
// later mutations by the caller do not leak into the dispatcher.
func NewEvent(kind EventKind, ticket *Ticket, agent *Agent) Event {
	ev := Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Ticket:    ticket.Clone(),
		Timestamp: time.Now().UTC(),
	}
	if agent != nil {
		a := *agent
		ev.Agent = &a
	}
	return ev
}

// Key returns the partitioning key used by message brokers.
func (e Event) Key() string {
	if e.Ticket != nil {
		return "ticket-" + strconv.FormatInt(e.Ticket.ID, 10)
	}
	if e.Agent != nil {
		return "agent-" + strconv.FormatInt(e.Agent.ID, 10)
	}
	return e.ID
}
