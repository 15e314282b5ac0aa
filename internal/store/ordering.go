package store

import "github.com/citidesk/pkg/models"

// Ordering is a total order over tickets.
type Ordering int

const (
	// OrderDisplay ranks by customer priority, then final priority, then
	// age. Used for queue positions and wait estimates.
	OrderDisplay Ordering = iota
	// OrderPick ranks by final priority, then age. Used when an agent
	// pulls the next waiting ticket.
	OrderPick
)

func (o Ordering) String() string {
	switch o {
	case OrderDisplay:
		return "display"
	case OrderPick:
		return "pick"
	default:
		return "unknown"
	}
}

// Less reports whether a ranks strictly ahead of b. Ticket id breaks ties
// so two distinct tickets are never equal.
func (o Ordering) Less(a, b *models.Ticket) bool {
	if o == OrderDisplay {
		if ra, rb := a.CustomerPriority.Rank(), b.CustomerPriority.Rank(); ra != rb {
			return ra > rb
		}
	}
	if a.FinalPriority != b.FinalPriority {
		return a.FinalPriority > b.FinalPriority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// orderBy is the SQL ORDER BY clause matching Less.
func (o Ordering) orderBy() string {
	if o == OrderDisplay {
		return "CASE customer_priority WHEN 'URGENT' THEN 2 ELSE 1 END DESC, final_priority DESC, created_at ASC, id ASC"
	}
	return "final_priority DESC, created_at ASC, id ASC"
}
