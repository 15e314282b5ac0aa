// Package monitoring tracks service-level objectives for the ticket queue
// from committed lifecycle events.
package monitoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/citidesk/pkg/models"
)

// Series names fed by lifecycle events, in minutes.
const (
	SeriesWait       = "wait_minutes"
	SeriesTurnaround = "turnaround_minutes"
)

const defaultWindow = 1000

// assignedTTL bounds how long a ticket is remembered as already assigned.
const assignedTTL = 24 * time.Hour

type SLODefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Objective   float64     `json:"objective"` // percentage of metrics that must be met
	Metrics     []SLOMetric `json:"metrics"`
}

type SLOMetric struct {
	Name      string  `json:"name"`
	Series    string  `json:"series"`
	Quantile  float64 `json:"quantile"` // 0.95 for p95
	Threshold float64 `json:"threshold"`
	Operator  string  `json:"operator"` // "gt", "lt", "eq"
}

type SLOEvaluation struct {
	Name      string             `json:"name"`
	Timestamp time.Time          `json:"timestamp"`
	Objective float64            `json:"objective"`
	Score     float64            `json:"score"`
	Met       bool               `json:"met"`
	NoData    bool               `json:"noData,omitempty"`
	Metrics   []MetricEvaluation `json:"metrics"`
}

type MetricEvaluation struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Samples   int     `json:"samples"`
	Threshold float64 `json:"threshold"`
	Operator  string  `json:"operator"`
	Met       bool    `json:"met"`
}

// SLOTracker keeps the most recent samples of each series and evaluates
// objectives over them. It is a notification sink.
type SLOTracker struct {
	mu             sync.RWMutex
	sloDefinitions map[string]SLODefinition
	series         map[string]*window
	size           int

	// ticket ids whose wait has been sampled; a reassignment after a
	// requeue is not counted twice
	assigned *gocache.Cache
}

func NewSLOTracker(size int) *SLOTracker {
	if size <= 0 {
		size = defaultWindow
	}
	return &SLOTracker{
		sloDefinitions: make(map[string]SLODefinition),
		series:         make(map[string]*window),
		size:           size,
		assigned:       gocache.New(assignedTTL, time.Hour),
	}
}

func (st *SLOTracker) AddSLO(slo SLODefinition) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sloDefinitions[slo.Name] = slo
}

// Observe records one sample.
func (st *SLOTracker) Observe(series string, value float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	w, ok := st.series[series]
	if !ok {
		w = &window{values: make([]float64, 0, st.size), size: st.size}
		st.series[series] = w
	}
	w.add(value)
}

func (st *SLOTracker) Name() string { return "slo" }

// Notify derives samples from lifecycle events: time from creation to first
// assignment and from creation to completion.
func (st *SLOTracker) Notify(_ context.Context, ev models.Event) error {
	if ev.Ticket == nil {
		return nil
	}
	switch ev.Kind {
	case models.EventTicketAssigned:
		key := strconv.FormatInt(ev.Ticket.ID, 10)
		if st.assigned.Add(key, struct{}{}, gocache.DefaultExpiration) != nil {
			return nil
		}
		st.Observe(SeriesWait, minutesBetween(ev.Ticket.CreatedAt, ev.Timestamp))
	case models.EventTicketCompleted:
		if ev.Ticket.ClosedAt != nil {
			st.Observe(SeriesTurnaround, minutesBetween(ev.Ticket.CreatedAt, *ev.Ticket.ClosedAt))
		}
	}
	return nil
}

func minutesBetween(from, to time.Time) float64 {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from).Minutes()
}

func (st *SLOTracker) EvaluateSLO(ctx context.Context, sloName string) (*SLOEvaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	slo, exists := st.sloDefinitions[sloName]
	if !exists {
		return nil, fmt.Errorf("SLO %s not found", sloName)
	}

	evaluation := &SLOEvaluation{
		Name:      slo.Name,
		Timestamp: time.Now().UTC(),
		Objective: slo.Objective,
	}

	var metObjectives, evaluated int
	for _, metric := range slo.Metrics {
		value, samples := st.evaluateMetric(metric)

		metricEval := MetricEvaluation{
			Name:      metric.Name,
			Value:     value,
			Samples:   samples,
			Threshold: metric.Threshold,
			Operator:  metric.Operator,
		}
		if samples > 0 {
			metricEval.Met = checkMetric(value, metric.Threshold, metric.Operator)
			evaluated++
			if metricEval.Met {
				metObjectives++
			}
		}
		evaluation.Metrics = append(evaluation.Metrics, metricEval)
	}

	if evaluated == 0 {
		evaluation.NoData = true
		evaluation.Met = true
		return evaluation, nil
	}
	evaluation.Score = (float64(metObjectives) / float64(evaluated)) * 100
	evaluation.Met = evaluation.Score >= slo.Objective
	return evaluation, nil
}

// EvaluateAll evaluates every objective, sorted by name.
func (st *SLOTracker) EvaluateAll(ctx context.Context) ([]SLOEvaluation, error) {
	st.mu.RLock()
	names := make([]string, 0, len(st.sloDefinitions))
	for name := range st.sloDefinitions {
		names = append(names, name)
	}
	st.mu.RUnlock()
	sort.Strings(names)

	out := make([]SLOEvaluation, 0, len(names))
	for _, name := range names {
		ev, err := st.EvaluateSLO(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, nil
}

// evaluateMetric must be called with st.mu held.
func (st *SLOTracker) evaluateMetric(metric SLOMetric) (float64, int) {
	w, ok := st.series[metric.Series]
	if !ok || len(w.values) == 0 {
		return 0, 0
	}
	return quantile(w.values, metric.Quantile), len(w.values)
}

func checkMetric(value, threshold float64, operator string) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "lt":
		return value < threshold
	case "eq":
		return value == threshold
	default:
		return false
	}
}

// quantile uses the nearest-rank method.
func quantile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// window is a ring buffer of the latest samples.
type window struct {
	values []float64
	size   int
	next   int
}

func (w *window) add(v float64) {
	if len(w.values) < w.size {
		w.values = append(w.values, v)
		return
	}
	w.values[w.next] = v
	w.next = (w.next + 1) % w.size
}

// DefaultSLOs are the queue objectives tracked out of the box.
var DefaultSLOs = []SLODefinition{
	{
		Name:        "time-to-assignment",
		Description: "Tickets should reach an agent within two hours",
		Objective:   100,
		Metrics: []SLOMetric{{
			Name:      "p95_wait_minutes",
			Series:    SeriesWait,
			Quantile:  0.95,
			Threshold: 120,
			Operator:  "lt",
		}},
	},
	{
		Name:        "turnaround",
		Description: "Completed tickets should be resolved within one working day",
		Objective:   100,
		Metrics: []SLOMetric{
			{
				Name:      "p95_turnaround_minutes",
				Series:    SeriesTurnaround,
				Quantile:  0.95,
				Threshold: 480,
				Operator:  "lt",
			},
			{
				Name:      "median_turnaround_minutes",
				Series:    SeriesTurnaround,
				Quantile:  0.5,
				Threshold: 240,
				Operator:  "lt",
			},
		},
	},
}
