package models

import (
	"fmt"
	"strings"
	"time"
)

// TicketStatus represents where a ticket is in its lifecycle
type TicketStatus string

const (
	StatusOpen       TicketStatus = "OPEN"
	StatusInProgress TicketStatus = "IN_PROGRESS"
	StatusCompleted  TicketStatus = "COMPLETED"
	StatusClosed     TicketStatus = "CLOSED"
)

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether a ticket in this status has left the queue for good.
// CLOSED counts the same as COMPLETED for queue and capacity purposes.
func (s TicketStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusClosed
}

// ParseTicketStatus converts user input into a TicketStatus.
func ParseTicketStatus(v string) (TicketStatus, error) {
	s := TicketStatus(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown ticket status %q", v)
	}
	return s, nil
}

// CustomerPriority is the urgency selected by the citizen
type CustomerPriority string

const (
	CustomerPriorityNormal CustomerPriority = "NORMAL"
	CustomerPriorityUrgent CustomerPriority = "URGENT"
)

// Valid reports whether p is a known customer priority.
func (p CustomerPriority) Valid() bool {
	return p == CustomerPriorityNormal || p == CustomerPriorityUrgent
}

// Rank orders customer priorities; URGENT ranks above NORMAL.
func (p CustomerPriority) Rank() int {
	if p == CustomerPriorityUrgent {
		return 2
	}
	return 1
}

// ParseCustomerPriority converts user input into a CustomerPriority.
func ParseCustomerPriority(v string) (CustomerPriority, error) {
	p := CustomerPriority(strings.ToUpper(strings.TrimSpace(v)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown customer priority %q", v)
	}
	return p, nil
}

// ServicePriority is the default urgency of a service in the catalogue
type ServicePriority string

const (
	ServicePriorityLow    ServicePriority = "LOW"
	ServicePriorityMedium ServicePriority = "MEDIUM"
	ServicePriorityHigh   ServicePriority = "HIGH"
)

// Valid reports whether p is a known service priority.
func (p ServicePriority) Valid() bool {
	switch p {
	case ServicePriorityLow, ServicePriorityMedium, ServicePriorityHigh:
		return true
	}
	return false
}

// ParseServicePriority converts user input into a ServicePriority.
func ParseServicePriority(v string) (ServicePriority, error) {
	p := ServicePriority(strings.ToUpper(strings.TrimSpace(v)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown service priority %q", v)
	}
	return p, nil
}

// Ticket represents a single citizen service request
type Ticket struct {
	ID               int64            `json:"id"`
	ServiceID        int64            `json:"serviceId"`
	UserID           int64            `json:"userId"`
	Status           TicketStatus     `json:"status"`
	CustomerPriority CustomerPriority `json:"customerPriority"`
	ServicePriority  ServicePriority  `json:"servicePriority"`
	FinalPriority    int              `json:"finalPriority"`
	QueuePosition    *int             `json:"queuePosition"`
	AgentID          *int64           `json:"agentId"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	ClosedAt         *time.Time       `json:"closedAt,omitempty"`
}

// Bound reports whether the ticket currently references an agent.
func (t *Ticket) Bound() bool {
	return t.AgentID != nil
}

// BoundTo reports whether the ticket references the given agent.
func (t *Ticket) BoundTo(agentID int64) bool {
	return t.AgentID != nil && *t.AgentID == agentID
}

// Clone returns a deep copy so callers can hand tickets across goroutines.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	if t.QueuePosition != nil {
		v := *t.QueuePosition
		c.QueuePosition = &v
	}
	if t.AgentID != nil {
		v := *t.AgentID
		c.AgentID = &v
	}
	if t.ClosedAt != nil {
		v := *t.ClosedAt
		c.ClosedAt = &v
	}
	return &c
}

// TicketLog is an audit line attached to a ticket
type TicketLog struct {
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticketId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// PaymentStatus tracks the fee attached to a ticket
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
)

// Payment represents the fee record created alongside every ticket
type Payment struct {
	ID        int64         `json:"id"`
	TicketID  int64         `json:"ticketId"`
	UserID    int64         `json:"userId"`
	Amount    int64         `json:"amount"`
	Status    PaymentStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// QueueInfo is the answer to "where am I in the queue?"
type QueueInfo struct {
	TicketID          int64            `json:"ticketId"`
	Status            TicketStatus     `json:"status"`
	QueuePosition     *int             `json:"queuePosition"`
	TicketsAhead      int              `json:"ticketsAhead"`
	TotalInQueue      int              `json:"totalInQueue,omitempty"`
	Priority          CustomerPriority `json:"priority,omitempty"`
	AgentName         string           `json:"agentName,omitempty"`
	EstimatedMinutes  int              `json:"estimatedMinutes"`
	EstimatedWaitTime string           `json:"estimatedWaitTime"`
	Message           string           `json:"message"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
