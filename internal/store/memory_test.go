package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citidesk/pkg/models"
)

func seedMemory(t *testing.T) (*Memory, *models.Service, *models.Agent) {
	t.Helper()
	m := NewMemory()
	svc := &models.Service{Name: "Passport renewal", Fee: 500, DefaultPriority: models.ServicePriorityMedium}
	agent := &models.Agent{Name: "Ada", Email: "ada@example.com", Username: "ada", MaxTickets: 2}
	require.NoError(t, m.InTx(context.Background(), func(tx Tx) error {
		if err := tx.CreateService(context.Background(), svc); err != nil {
			return err
		}
		return tx.CreateAgent(context.Background(), agent)
	}))
	return m, svc, agent
}

func createOpen(t *testing.T, m *Memory, serviceID int64, final int) *models.Ticket {
	t.Helper()
	tk := &models.Ticket{
		ServiceID:        serviceID,
		UserID:           1,
		Status:           models.StatusOpen,
		CustomerPriority: models.CustomerPriorityNormal,
		ServicePriority:  models.ServicePriorityMedium,
		FinalPriority:    final,
	}
	require.NoError(t, m.InTx(context.Background(), func(tx Tx) error {
		return tx.CreateTicket(context.Background(), tk)
	}))
	return tk
}

func TestMemoryRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m, svc, _ := seedMemory(t)
	boom := errors.New("boom")

	err := m.InTx(ctx, func(tx Tx) error {
		tk := &models.Ticket{ServiceID: svc.ID, Status: models.StatusOpen, FinalPriority: 2}
		if err := tx.CreateTicket(ctx, tk); err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, tk.ID, "created"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	tickets, err := m.ListTickets(ctx, TicketFilter{})
	require.NoError(t, err)
	assert.Empty(t, tickets)

	logs, err := m.ListLogs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	// Ids handed out inside the aborted transaction are reused.
	tk := createOpen(t, m, svc.ID, 2)
	assert.Equal(t, int64(1), tk.ID)
}

func TestMemoryInjectedFaultIsRetryable(t *testing.T) {
	ctx := context.Background()
	m, svc, _ := seedMemory(t)
	m.InjectFault(func() error { return errors.New("serialization failure") })

	err := m.InTx(ctx, func(tx Tx) error {
		return tx.CreateTicket(ctx, &models.Ticket{ServiceID: svc.ID, Status: models.StatusOpen, FinalPriority: 1})
	})
	assert.ErrorIs(t, err, ErrRetryable)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalTickets)

	m.InjectFault(nil)
	createOpen(t, m, svc.ID, 1)
	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTickets)
}

func TestMemoryCreateTicketRequiresService(t *testing.T) {
	m := NewMemory()
	err := m.InTx(context.Background(), func(tx Tx) error {
		return tx.CreateTicket(context.Background(), &models.Ticket{ServiceID: 42})
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryFindOpenTicketsOrdered(t *testing.T) {
	ctx := context.Background()
	m, svc, agent := seedMemory(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})

	low := createOpen(t, m, svc.ID, 1)
	high := createOpen(t, m, svc.ID, 3)
	mid := createOpen(t, m, svc.ID, 2)
	bound := createOpen(t, m, svc.ID, 3)

	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		bound.AgentID = models.Int64Ptr(agent.ID)
		bound.Status = models.StatusInProgress
		return tx.UpdateTicket(ctx, bound)
	}))

	var got []*models.Ticket
	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.FindOpenTicketsOrderedBy(ctx, OrderPick, 0)
		return err
	}))
	assert.Equal(t, []int64{high.ID, mid.ID, low.ID}, ids(got))

	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.FindOpenTicketsOrderedBy(ctx, OrderPick, 1)
		return err
	}))
	assert.Equal(t, []int64{high.ID}, ids(got))
}

func TestMemoryUpdateTicketRejectsUnknownAgent(t *testing.T) {
	ctx := context.Background()
	m, svc, _ := seedMemory(t)
	tk := createOpen(t, m, svc.ID, 2)

	err := m.InTx(ctx, func(tx Tx) error {
		tk.AgentID = models.Int64Ptr(99)
		tk.Status = models.StatusInProgress
		return tx.UpdateTicket(ctx, tk)
	})
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := m.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, stored.Status)
	assert.Nil(t, stored.AgentID)
}

func TestMemoryBulkUnassignAndDeleteAgent(t *testing.T) {
	ctx := context.Background()
	m, svc, agent := seedMemory(t)
	first := createOpen(t, m, svc.ID, 2)
	second := createOpen(t, m, svc.ID, 2)
	done := createOpen(t, m, svc.ID, 2)

	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		for _, tk := range []*models.Ticket{second, first, done} {
			tk.AgentID = models.Int64Ptr(agent.ID)
			tk.Status = models.StatusInProgress
			if err := tx.UpdateTicket(ctx, tk); err != nil {
				return err
			}
		}
		done.Status = models.StatusCompleted
		return tx.UpdateTicket(ctx, done)
	}))

	err := m.InTx(ctx, func(tx Tx) error { return tx.DeleteAgent(ctx, agent.ID) })
	assert.ErrorIs(t, err, ErrConflict)

	var requeued []*models.Ticket
	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		var err error
		if requeued, err = tx.BulkUnassignAgent(ctx, agent.ID); err != nil {
			return err
		}
		return tx.DeleteAgent(ctx, agent.ID)
	}))
	assert.Equal(t, []int64{first.ID, second.ID}, ids(requeued))
	for _, tk := range requeued {
		assert.Equal(t, models.StatusOpen, tk.Status)
		assert.Nil(t, tk.AgentID)
	}

	kept, err := m.GetTicket(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, kept.Status)
	assert.Nil(t, kept.AgentID)

	_, err = m.GetAgent(ctx, agent.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateAgentRejectsDuplicates(t *testing.T) {
	m, _, _ := seedMemory(t)
	err := m.InTx(context.Background(), func(tx Tx) error {
		return tx.CreateAgent(context.Background(), &models.Agent{Name: "Other", Email: "ada@example.com", Username: "other"})
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryQueuePositions(t *testing.T) {
	ctx := context.Background()
	m, svc, _ := seedMemory(t)
	tk := createOpen(t, m, svc.ID, 2)

	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		if err := tx.SetQueuePosition(ctx, tk.ID, models.IntPtr(1)); err != nil {
			return err
		}
		tk.QueuePosition = models.IntPtr(1)
		tk.Status = models.StatusClosed
		return tx.UpdateTicket(ctx, tk)
	}))

	var cleared int
	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		var err error
		cleared, err = tx.ClearTerminalQueuePositions(ctx)
		return err
	}))
	assert.Equal(t, 1, cleared)

	stored, err := m.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.QueuePosition)
}

func TestMemoryListTicketsFilters(t *testing.T) {
	ctx := context.Background()
	m, svc, _ := seedMemory(t)
	a := createOpen(t, m, svc.ID, 1)
	b := createOpen(t, m, svc.ID, 1)
	other := &models.Ticket{ServiceID: svc.ID, UserID: 2, Status: models.StatusOpen, FinalPriority: 1}
	require.NoError(t, m.InTx(ctx, func(tx Tx) error { return tx.CreateTicket(ctx, other) }))

	got, err := m.ListTickets(ctx, TicketFilter{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, a.ID}, ids(got))

	got, err = m.ListTickets(ctx, TicketFilter{Statuses: []models.TicketStatus{models.StatusOpen}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{other.ID}, ids(got))
}

func TestMemoryPayments(t *testing.T) {
	ctx := context.Background()
	m, svc, _ := seedMemory(t)
	tk := createOpen(t, m, svc.ID, 1)

	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		return tx.CreatePayment(ctx, &models.Payment{TicketID: tk.ID, UserID: 1, Amount: svc.Fee, Status: models.PaymentPending})
	}))
	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingPayments)

	require.NoError(t, m.InTx(ctx, func(tx Tx) error { return tx.CompletePayment(ctx, tk.ID) }))
	p, err := m.GetPayment(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, p.Status)
}

func TestMemoryListPaymentsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m, svc, _ := seedMemory(t)
	first := createOpen(t, m, svc.ID, 1)
	second := createOpen(t, m, svc.ID, 2)
	require.NoError(t, m.InTx(ctx, func(tx Tx) error {
		for _, tk := range []*models.Ticket{first, second} {
			p := &models.Payment{TicketID: tk.ID, UserID: tk.UserID, Amount: svc.Fee, Status: models.PaymentPending}
			if err := tx.CreatePayment(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))

	payments, err := m.ListPayments(ctx, 0)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, second.ID, payments[0].TicketID)
	assert.Equal(t, first.ID, payments[1].TicketID)

	payments, err = m.ListPayments(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestMemoryDeleteService(t *testing.T) {
	ctx := context.Background()
	m, svc, _ := seedMemory(t)

	unused := &models.Service{Name: "Library card", DefaultPriority: models.ServicePriorityLow}
	require.NoError(t, m.InTx(ctx, func(tx Tx) error { return tx.CreateService(ctx, unused) }))
	createOpen(t, m, svc.ID, 1)

	err := m.InTx(ctx, func(tx Tx) error { return tx.DeleteService(ctx, svc.ID) })
	assert.ErrorIs(t, err, ErrConflict)

	err = m.InTx(ctx, func(tx Tx) error { return tx.DeleteService(ctx, 404) })
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.InTx(ctx, func(tx Tx) error { return tx.DeleteService(ctx, unused.ID) }))
	_, err = m.GetService(ctx, unused.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetService(ctx, svc.ID)
	assert.NoError(t, err)
}

func TestMemoryCreateUserRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	u := &models.User{Name: "Amara", Email: "amara@example.org"}
	require.NoError(t, m.InTx(ctx, func(tx Tx) error { return tx.CreateUser(ctx, u) }))
	got, err := m.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "amara@example.org", got.Email)

	err = m.InTx(ctx, func(tx Tx) error {
		return tx.CreateUser(ctx, &models.User{Name: "Other", Email: "AMARA@example.org"})
	})
	assert.ErrorIs(t, err, ErrConflict)
}
