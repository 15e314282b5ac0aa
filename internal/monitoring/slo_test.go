package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citidesk/pkg/models"
)

func TestQuantile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	assert.Equal(t, 1.0, quantile(values, 0))
	assert.Equal(t, 3.0, quantile(values, 0.5))
	assert.Equal(t, 5.0, quantile(values, 0.95))
	assert.Equal(t, 5.0, quantile(values, 1))
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, values)
}

func TestWindowKeepsLatestSamples(t *testing.T) {
	st := NewSLOTracker(3)
	for i := 1; i <= 5; i++ {
		st.Observe(SeriesWait, float64(i))
	}
	assert.ElementsMatch(t, []float64{3, 4, 5}, st.series[SeriesWait].values)
}

func TestNotifyDerivesSamples(t *testing.T) {
	st := NewSLOTracker(10)
	created := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	closed := created.Add(90 * time.Minute)
	ticket := &models.Ticket{ID: 1, CreatedAt: created, ClosedAt: &closed}

	assigned := models.NewEvent(models.EventTicketAssigned, ticket, nil)
	assigned.Timestamp = created.Add(30 * time.Minute)
	require.NoError(t, st.Notify(context.Background(), assigned))
	require.NoError(t, st.Notify(context.Background(), models.NewEvent(models.EventTicketCompleted, ticket, nil)))
	require.NoError(t, st.Notify(context.Background(), models.NewEvent(models.EventQueueUpdated, nil, nil)))

	assert.Equal(t, []float64{30}, st.series[SeriesWait].values)
	assert.Equal(t, []float64{90}, st.series[SeriesTurnaround].values)
}

func TestEvaluateSLO(t *testing.T) {
	st := NewSLOTracker(100)
	for _, slo := range DefaultSLOs {
		st.AddSLO(slo)
	}
	ctx := context.Background()

	ev, err := st.EvaluateSLO(ctx, "turnaround")
	require.NoError(t, err)
	assert.True(t, ev.NoData)
	assert.True(t, ev.Met)

	for i := 0; i < 19; i++ {
		st.Observe(SeriesTurnaround, 60)
	}
	st.Observe(SeriesTurnaround, 600)
	ev, err = st.EvaluateSLO(ctx, "turnaround")
	require.NoError(t, err)
	assert.True(t, ev.Met, "p95 is the 19th sample")

	st.Observe(SeriesTurnaround, 700)
	st.Observe(SeriesTurnaround, 800)
	ev, err = st.EvaluateSLO(ctx, "turnaround")
	require.NoError(t, err)
	assert.False(t, ev.Met)
	assert.Equal(t, 50.0, ev.Score)

	_, err = st.EvaluateSLO(ctx, "missing")
	assert.Error(t, err)

	all, err := st.EvaluateAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "time-to-assignment", all[0].Name)
	assert.Equal(t, "turnaround", all[1].Name)
}

func TestWaitIsSampledOnFirstAssignmentOnly(t *testing.T) {
	st := NewSLOTracker(10)
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	ticket := &models.Ticket{ID: 4, CreatedAt: created}

	first := models.NewEvent(models.EventTicketAssigned, ticket, nil)
	first.Timestamp = created.Add(10 * time.Minute)
	require.NoError(t, st.Notify(ctx, first))

	// Requeued after its agent was removed, then picked up again.
	again := models.NewEvent(models.EventTicketAssigned, ticket, nil)
	again.Timestamp = created.Add(300 * time.Minute)
	require.NoError(t, st.Notify(ctx, again))

	other := models.NewEvent(models.EventTicketAssigned, &models.Ticket{ID: 5, CreatedAt: created}, nil)
	other.Timestamp = created.Add(20 * time.Minute)
	require.NoError(t, st.Notify(ctx, other))

	assert.Equal(t, []float64{10, 20}, st.series[SeriesWait].values)
}
