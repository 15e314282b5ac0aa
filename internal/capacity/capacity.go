// Package capacity answers "does this agent have room for another ticket?"
// and "which agent should take the next one?". It keeps no state of its own:
// every answer is derived from the ticket store, so it is only as fresh as
// the reader it is given. Callers that bind tickets must use Claim inside a
// store transaction.
package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/citidesk/internal/store"
	"github.com/citidesk/pkg/models"
)

// ActiveCount returns the number of non-terminal tickets bound to the agent.
// OPEN tickets with an agent should not exist, but they are counted anyway.
func ActiveCount(ctx context.Context, r store.Reader, agentID int64) (int, error) {
	n, err := r.CountActiveTicketsForAgent(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets for agent %d: %w", agentID, err)
	}
	return n, nil
}

// HasCapacity reports whether the agent can take one more ticket, together
// with its current active count.
func HasCapacity(ctx context.Context, r store.Reader, agent *models.Agent) (bool, int, error) {
	active, err := ActiveCount(ctx, r, agent.ID)
	if err != nil {
		return false, 0, err
	}
	return active < agent.MaxTickets, active, nil
}

// Loads returns a snapshot of every agent's load, ordered by agent id.
func Loads(ctx context.Context, r store.Reader) ([]models.AgentLoad, error) {
	agents, err := r.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	loads := make([]models.AgentLoad, 0, len(agents))
	for _, a := range agents {
		active, err := ActiveCount(ctx, r, a.ID)
		if err != nil {
			return nil, err
		}
		free := a.MaxTickets - active
		if free < 0 {
			free = 0
		}
		loads = append(loads, models.AgentLoad{Agent: *a, Active: active, Free: free})
	}
	return loads, nil
}

// Claim picks the least-loaded agent with capacity, ties broken by lowest
// agent id, and returns it locked for the rest of tx. Every agent that had
// room in a snapshot is locked in agent id order and re-counted under its
// lock, so concurrent claims always acquire locks in the same order. It
// returns nil when every agent is full.
func Claim(ctx context.Context, tx store.Tx) (*models.Agent, error) {
	loads, err := Loads(ctx, tx)
	if err != nil {
		return nil, err
	}

	var (
		best       *models.Agent
		bestActive int
	)
	for _, l := range loads {
		if l.Free == 0 {
			continue
		}
		agent, err := tx.LockAgent(ctx, l.Agent.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock agent %d: %w", l.Agent.ID, err)
		}

		ok, active, err := HasCapacity(ctx, tx, agent)
		if err != nil {
			return nil, err
		}
		if ok && (best == nil || active < bestActive) {
			best, bestActive = agent, active
		}
	}
	return best, nil
}
