package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/citidesk/internal/email"
	"github.com/citidesk/internal/user"
	"github.com/citidesk/pkg/models"
)

// EmailSink mails the ticket owner about changes to their ticket.
type EmailSink struct {
	sender email.Sender
	users  user.Store
}

func NewEmailSink(sender email.Sender, users user.Store) *EmailSink {
	return &EmailSink{sender: sender, users: users}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Notify(ctx context.Context, ev models.Event) error {
	if ev.Ticket == nil {
		return nil
	}
	subject, body, ok := Render(ev)
	if !ok {
		return nil
	}

	to := ""
	if ev.User != nil {
		to = ev.User.Email
	}
	if to == "" {
		u, err := s.users.GetUser(ctx, ev.Ticket.UserID)
		if err != nil {
			return fmt.Errorf("failed to look up user %d: %w", ev.Ticket.UserID, err)
		}
		to = u.Email
	}

	return s.sender.Send(ctx, to, subject, body)
}

// Render builds the plain-text mail for an event. It reports false for
// events the ticket owner is not told about.
func Render(ev models.Event) (subject, body string, ok bool) {
	t := ev.Ticket
	if t == nil {
		return "", "", false
	}

	service := fmt.Sprintf("service #%d", t.ServiceID)
	if ev.Service != nil && ev.Service.Name != "" {
		service = ev.Service.Name
	}
	agent := ""
	if ev.Agent != nil {
		agent = ev.Agent.Name
	}

	switch ev.Kind {
	case models.EventTicketCreated:
		var b strings.Builder
		fmt.Fprintf(&b, "Service: %s\n", service)
		fmt.Fprintf(&b, "Priority: %s\n", t.CustomerPriority)
		if t.Status == models.StatusInProgress {
			b.WriteString("Status: Assigned\n")
			if agent != "" {
				fmt.Fprintf(&b, "Assigned Agent: %s\n", agent)
			}
		} else {
			b.WriteString("Status: Waiting\n")
		}
		return fmt.Sprintf("Your Ticket #%d is Created", t.ID), b.String(), true

	case models.EventTicketAssigned:
		return fmt.Sprintf("Ticket #%d Assigned", t.ID),
			fmt.Sprintf("Your ticket for %s is now assigned to agent %s.", service, agent), true

	case models.EventTicketCompleted:
		return fmt.Sprintf("Ticket #%d Completed", t.ID),
			fmt.Sprintf("Your ticket for %s has been marked as COMPLETED. Thank you!", service), true

	case models.EventTicketClosed:
		return fmt.Sprintf("Ticket #%d Closed", t.ID),
			fmt.Sprintf("Your ticket for %s has been closed.", service), true

	case models.EventTicketRequeued:
		return fmt.Sprintf("Ticket #%d Waiting for an Agent", t.ID),
			fmt.Sprintf("The agent handling your ticket for %s is no longer available. It is back in the queue and will be picked up by the next free agent.", service), true
	}
	return "", "", false
}
