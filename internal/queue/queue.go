// Package queue derives each waiting ticket's rank and estimated wait.
//
// Positions are recomputed from scratch inside one store transaction, so a
// reader never sees a half-renumbered queue. Point queries count the tickets
// ahead directly and are only an estimate: they can briefly disagree with a
// stored position while a recompute is in flight.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/citidesk/internal/store"
	"github.com/citidesk/pkg/models"
)

// DefaultPerTicketMinutes is the service time assumed for each ticket ahead.
const DefaultPerTicketMinutes = 30

// ErrTicketNotFound is returned by Info for an unknown ticket.
var ErrTicketNotFound = errors.New("ticket not found")

// InfoCache stores point query results between queue changes. Entries are
// scoped to a generation that Invalidate advances.
type InfoCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen, ticketID int64) (*models.QueueInfo, bool, error)
	Set(ctx context.Context, gen int64, info *models.QueueInfo) error
	Invalidate(ctx context.Context) error
}

type Calculator struct {
	store            store.Store
	perTicketMinutes int
	cache            InfoCache
	logger           *slog.Logger
}

// NewCalculator creates a calculator. cache may be nil.
func NewCalculator(s store.Store, perTicketMinutes int, cache InfoCache, logger *slog.Logger) *Calculator {
	if perTicketMinutes <= 0 {
		perTicketMinutes = DefaultPerTicketMinutes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		store:            s,
		perTicketMinutes: perTicketMinutes,
		cache:            cache,
		logger:           logger,
	}
}

// Recompute renumbers the whole queue in one transaction and returns the
// number of rows whose position changed.
func (c *Calculator) Recompute(ctx context.Context) (int, error) {
	var changed int
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		changed, err = Renumber(ctx, tx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recompute queue positions: %w", err)
	}

	c.Invalidate(ctx)
	return changed, nil
}

// Renumber gives every non-terminal ticket position index+1 under the
// display ordering and clears the position of every terminal ticket. Only
// rows whose position changes are written.
func Renumber(ctx context.Context, tx store.Tx) (int, error) {
	if err := tx.LockQueue(ctx); err != nil {
		return 0, err
	}

	tickets, err := tx.ListNonTerminalTickets(ctx)
	if err != nil {
		return 0, err
	}
	Sort(tickets)

	changed := 0
	for i, t := range tickets {
		pos := i + 1
		if t.QueuePosition != nil && *t.QueuePosition == pos {
			continue
		}
		if err := tx.SetQueuePosition(ctx, t.ID, &pos); err != nil {
			return 0, err
		}
		changed++
	}

	cleared, err := tx.ClearTerminalQueuePositions(ctx)
	if err != nil {
		return 0, err
	}
	return changed + cleared, nil
}

// Sort orders tickets in place by the display ordering.
func Sort(tickets []*models.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		return store.OrderDisplay.Less(tickets[i], tickets[j])
	})
}

// Invalidate drops cached point queries. Failures are logged only.
func (c *Calculator) Invalidate(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx); err != nil {
		c.logger.Warn("failed to invalidate queue info cache", "error", err)
	}
}

// Info answers where a ticket stands in the queue. Reads are not
// transactional.
func (c *Calculator) Info(ctx context.Context, ticketID int64) (*models.QueueInfo, error) {
	gen, cacheable := c.cachedGeneration(ctx, ticketID)
	if cacheable {
		info, found, err := c.cache.Get(ctx, gen, ticketID)
		if err != nil {
			c.logger.Warn("queue info cache read failed", "ticket_id", ticketID, "error", err)
		} else if found {
			return info, nil
		}
	}

	info, err := c.compute(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	// Written under the generation read before computing, so an Invalidate
	// in between leaves this entry unreachable.
	if cacheable {
		if err := c.cache.Set(ctx, gen, info); err != nil {
			c.logger.Warn("queue info cache write failed", "ticket_id", ticketID, "error", err)
		}
	}
	return info, nil
}

func (c *Calculator) cachedGeneration(ctx context.Context, ticketID int64) (int64, bool) {
	if c.cache == nil {
		return 0, false
	}
	gen, err := c.cache.Generation(ctx)
	if err != nil {
		c.logger.Warn("queue info cache read failed", "ticket_id", ticketID, "error", err)
		return 0, false
	}
	return gen, true
}

func (c *Calculator) compute(ctx context.Context, ticketID int64) (*models.QueueInfo, error) {
	ticket, err := c.store.GetTicket(ctx, ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("ticket %d: %w", ticketID, ErrTicketNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}

	info := &models.QueueInfo{
		TicketID: ticket.ID,
		Status:   ticket.Status,
		Priority: ticket.CustomerPriority,
	}

	if ticket.Status.Terminal() {
		info.Priority = ""
		info.EstimatedWaitTime = FormatWait(0)
		info.Message = "Ticket is completed"
		return info, nil
	}

	if ticket.Status == models.StatusInProgress && ticket.AgentID != nil {
		info.QueuePosition = ticket.QueuePosition
		info.EstimatedWaitTime = "Processing now"
		info.Message = "Being processed by agent"
		if agent, err := c.store.GetAgent(ctx, *ticket.AgentID); err == nil {
			info.AgentName = agent.Name
		}
		return info, nil
	}

	active, err := c.store.ListNonTerminalTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}

	ahead := 0
	for _, other := range active {
		if other.ID != ticket.ID && store.OrderDisplay.Less(other, ticket) {
			ahead++
		}
	}

	info.TicketsAhead = ahead
	info.TotalInQueue = len(active)
	info.EstimatedMinutes = ahead * c.perTicketMinutes
	info.EstimatedWaitTime = FormatWait(info.EstimatedMinutes)
	if ticket.QueuePosition != nil {
		info.QueuePosition = models.IntPtr(*ticket.QueuePosition)
	} else {
		info.QueuePosition = models.IntPtr(ahead + 1)
	}
	if ahead == 0 {
		info.Message = "You're next!"
	} else {
		info.Message = fmt.Sprintf("%d ticket(s) ahead of you", ahead)
	}
	return info, nil
}

// FormatWait renders a wait in minutes as "2h 30m" from an hour up and as
// "45 minutes" below that.
func FormatWait(minutes int) string {
	if minutes >= 60 {
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	}
	return fmt.Sprintf("%d minutes", minutes)
}
