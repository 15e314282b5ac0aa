package store

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/citidesk/pkg/models"
)

func ticketAt(id int64, cp models.CustomerPriority, final int, created time.Time) *models.Ticket {
	return &models.Ticket{
		ID:               id,
		Status:           models.StatusOpen,
		CustomerPriority: cp,
		FinalPriority:    final,
		CreatedAt:        created,
	}
}

func ids(tickets []*models.Ticket) []int64 {
	out := make([]int64, len(tickets))
	for i, t := range tickets {
		out[i] = t.ID
	}
	return out
}

func TestOrderingDisplayAndPickDiffer(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	// An URGENT ticket on a LOW service against a NORMAL ticket on a HIGH service.
	urgentLow := ticketAt(1, models.CustomerPriorityUrgent, 3, base.Add(time.Minute))
	normalHigh := ticketAt(2, models.CustomerPriorityNormal, 3, base)
	urgentMedium := ticketAt(3, models.CustomerPriorityUrgent, 2, base)

	tickets := []*models.Ticket{urgentMedium, normalHigh, urgentLow}

	display := append([]*models.Ticket(nil), tickets...)
	sort.Slice(display, func(i, j int) bool { return OrderDisplay.Less(display[i], display[j]) })
	assert.Equal(t, []int64{1, 3, 2}, ids(display))

	pick := append([]*models.Ticket(nil), tickets...)
	sort.Slice(pick, func(i, j int) bool { return OrderPick.Less(pick[i], pick[j]) })
	assert.Equal(t, []int64{2, 1, 3}, ids(pick))
}

func TestOrderingBreaksTiesByID(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	a := ticketAt(4, models.CustomerPriorityNormal, 2, at)
	b := ticketAt(5, models.CustomerPriorityNormal, 2, at)

	for _, o := range []Ordering{OrderDisplay, OrderPick} {
		assert.True(t, o.Less(a, b), o.String())
		assert.False(t, o.Less(b, a), o.String())
		assert.False(t, o.Less(a, a), o.String())
	}
}

func TestOrderingString(t *testing.T) {
	assert.Equal(t, "display", OrderDisplay.String())
	assert.Equal(t, "pick", OrderPick.String())
	assert.Equal(t, "unknown", Ordering(9).String())
}
