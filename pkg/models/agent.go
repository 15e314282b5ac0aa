package models

import "time"

// DefaultMaxTickets is the capacity given to agents created without one
const DefaultMaxTickets = 5

// Agent represents a caseworker with a fixed concurrent-ticket ceiling
type Agent struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`
	MaxTickets int       `json:"maxTickets"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AgentLoad is a point-in-time view of an agent's capacity
type AgentLoad struct {
	Agent  Agent `json:"agent"`
	Active int   `json:"active"`
	Free   int   `json:"free"`
}

// Service represents an entry in the service catalogue
type Service struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Fee             int64           `json:"fee"`
	DefaultPriority ServicePriority `json:"defaultPriority"`
}

// User is the citizen who opened a ticket
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Stats summarises the portal for the admin dashboard
type Stats struct {
	TotalUsers       int `json:"totalUsers"`
	TotalTickets     int `json:"totalTickets"`
	OpenTickets      int `json:"openTickets"`
	InProgress       int `json:"inProgressTickets"`
	CompletedTickets int `json:"completedTickets"`
	PendingPayments  int `json:"pendingPayments"`
	Agents           int `json:"agents"`
}
