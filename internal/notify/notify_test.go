package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citidesk/internal/config"
	"github.com/citidesk/pkg/models"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []models.Event
	err    error
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Notify(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testTicket(id int64) *models.Ticket {
	return &models.Ticket{ID: id, ServiceID: 1, UserID: 3, Status: models.StatusOpen, CustomerPriority: models.CustomerPriorityNormal}
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: errors.New("smtp down")}
	panicky := SinkFunc{SinkName: "panicky", Fn: func(context.Context, models.Event) error { panic("boom") }}

	d := NewDispatcher(config.NotifyConfig{BufferSize: 8, Workers: 2, SendTimeout: time.Second}, nil, bad, panicky, good)
	d.Start()

	for i := int64(1); i <= 3; i++ {
		d.Notify(context.Background(), models.NewEvent(models.EventTicketCreated, testTicket(i), nil))
	}
	require.NoError(t, d.Shutdown(context.Background()))

	assert.Equal(t, 3, good.count())
	assert.Equal(t, 3, bad.count())
	stats := d.Stats()
	assert.Equal(t, int64(3), stats.Queued)
	assert.Equal(t, int64(3), stats.Delivered)
	assert.Equal(t, int64(6), stats.Failed)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(config.NotifyConfig{BufferSize: 1, Workers: 1}, nil)

	// Not started, so nothing drains the queue.
	d.Notify(context.Background(), models.NewEvent(models.EventTicketCreated, testTicket(1), nil))
	d.Notify(context.Background(), models.NewEvent(models.EventTicketCreated, testTicket(2), nil))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Queued)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestDispatcherDropsAfterShutdown(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(config.NotifyConfig{}, nil, sink)
	d.Start()
	require.NoError(t, d.Shutdown(context.Background()))
	require.NoError(t, d.Shutdown(context.Background()))

	d.Notify(context.Background(), models.NewEvent(models.EventTicketCreated, testTicket(1), nil))
	assert.Equal(t, int64(1), d.Stats().Dropped)
	assert.Equal(t, 0, sink.count())
}

func TestDispatcherShutdownDeadline(t *testing.T) {
	release := make(chan struct{})
	slow := SinkFunc{SinkName: "slow", Fn: func(context.Context, models.Event) error {
		<-release
		return nil
	}}
	d := NewDispatcher(config.NotifyConfig{Workers: 1, SendTimeout: time.Minute}, nil, slow)
	d.Start()
	d.Notify(context.Background(), models.NewEvent(models.EventTicketCreated, testTicket(1), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
	close(release)
}

type fakeSender struct {
	to, subject, body string
	err               error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

type userMap map[int64]*models.User

func (m userMap) GetUser(_ context.Context, id int64) (*models.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, errors.New("no such user")
	}
	return u, nil
}

func TestEmailSinkLooksUpOwner(t *testing.T) {
	sender := &fakeSender{}
	sink := NewEmailSink(sender, userMap{3: {ID: 3, Email: "owner@example.com"}})

	tk := testTicket(12)
	tk.Status = models.StatusCompleted
	ev := models.NewEvent(models.EventTicketCompleted, tk, nil)
	ev.Service = &models.Service{Name: "Passport renewal"}

	require.NoError(t, sink.Notify(context.Background(), ev))
	assert.Equal(t, "owner@example.com", sender.to)
	assert.Equal(t, "Ticket #12 Completed", sender.subject)
	assert.Equal(t, "Your ticket for Passport renewal has been marked as COMPLETED. Thank you!", sender.body)
}

func TestEmailSinkSkipsEventsWithoutMail(t *testing.T) {
	sender := &fakeSender{}
	sink := NewEmailSink(sender, userMap{})

	require.NoError(t, sink.Notify(context.Background(), models.NewEvent(models.EventAgentRemoved, nil, &models.Agent{ID: 1})))
	assert.Empty(t, sender.to)

	err := sink.Notify(context.Background(), models.NewEvent(models.EventTicketAssigned, testTicket(1), &models.Agent{Name: "Ada"}))
	assert.Error(t, err)
}

func TestRenderCreated(t *testing.T) {
	tk := testTicket(5)
	tk.Status = models.StatusInProgress
	ev := models.NewEvent(models.EventTicketCreated, tk, &models.Agent{Name: "Ada"})

	subject, body, ok := Render(ev)
	require.True(t, ok)
	assert.Equal(t, "Your Ticket #5 is Created", subject)
	assert.Contains(t, body, "Service: service #1")
	assert.Contains(t, body, "Status: Assigned")
	assert.Contains(t, body, "Assigned Agent: Ada")
}

type fakeProducer struct {
	topic      string
	key, value []byte
}

func (f *fakeProducer) Send(_ context.Context, topic string, key, value []byte) error {
	f.topic, f.key, f.value = topic, key, value
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	p := &fakeProducer{}
	sink := NewKafkaSink(p, "ticket.events")

	ev := models.NewEvent(models.EventTicketAssigned, testTicket(8), &models.Agent{ID: 2, Name: "Ada"})
	require.NoError(t, sink.Notify(context.Background(), ev))

	assert.Equal(t, "ticket.events", p.topic)
	assert.Equal(t, "ticket-8", string(p.key))

	var decoded models.Event
	require.NoError(t, json.Unmarshal(p.value, &decoded))
	assert.Equal(t, models.EventTicketAssigned, decoded.Kind)
	assert.Equal(t, int64(2), decoded.Agent.ID)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Notify(context.Background(), models.NewEvent(models.EventTicketCreated, testTicket(4), nil)))
	assert.Contains(t, buf.String(), `"kind":"ticket.created"`)
	assert.Contains(t, buf.String(), `"ticket_id":4`)
}
