package capacity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citidesk/internal/store"
	"github.com/citidesk/pkg/models"
)

type fixture struct {
	store   *store.Memory
	service *models.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := store.NewMemory()
	svc := &models.Service{Name: "Birth certificate", DefaultPriority: models.ServicePriorityLow}
	require.NoError(t, m.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateService(context.Background(), svc)
	}))
	return &fixture{store: m, service: svc}
}

func (f *fixture) agent(t *testing.T, name string, maxTickets int) *models.Agent {
	t.Helper()
	a := &models.Agent{Name: name, Email: name + "@example.com", Username: name, MaxTickets: maxTickets}
	require.NoError(t, f.store.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateAgent(context.Background(), a)
	}))
	return a
}

func (f *fixture) bind(t *testing.T, agentID int64, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.InTx(ctx, func(tx store.Tx) error {
		for i := 0; i < n; i++ {
			tk := &models.Ticket{
				ServiceID:        f.service.ID,
				Status:           models.StatusInProgress,
				CustomerPriority: models.CustomerPriorityNormal,
				ServicePriority:  models.ServicePriorityLow,
				FinalPriority:    2,
				AgentID:          models.Int64Ptr(agentID),
			}
			if err := tx.CreateTicket(ctx, tk); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestHasCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "ana", 2)

	ok, active, err := HasCapacity(ctx, f.store, a)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, active)

	f.bind(t, a.ID, 2)
	ok, active, err = HasCapacity(ctx, f.store, a)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, active)
}

func TestActiveCountMatchesInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "ana", 5)
	f.bind(t, a.ID, 3)

	active, err := ActiveCount(ctx, f.store, a.ID)
	require.NoError(t, err)
	inProgress, err := f.store.CountTicketsForAgent(ctx, a.ID, models.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, inProgress, active)
}

func TestClaimPrefersLowestCountThenID(t *testing.T) {
	_ = context.Background()
	f := newFixture(t)
	busy := f.agent(t, "busy", 3)
	idleA := f.agent(t, "idle-a", 1)
	idleB := f.agent(t, "idle-b", 4)
	f.bind(t, busy.ID, 1)

	assert.Equal(t, idleA.ID, f.claim(t).ID)

	f.bind(t, idleA.ID, 1)
	assert.Equal(t, idleB.ID, f.claim(t).ID)
}

func TestClaimNoneWhenAllFull(t *testing.T) {
	f := newFixture(t)
	a := f.agent(t, "ana", 1)
	f.bind(t, a.ID, 1)

	assert.Nil(t, f.claim(t))
}

func (f *fixture) claim(t *testing.T) *models.Agent {
	t.Helper()
	ctx := context.Background()
	var got *models.Agent
	require.NoError(t, f.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		got, err = Claim(ctx, tx)
		return err
	}))
	return got
}

func TestLoads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "ana", 2)
	b := f.agent(t, "ben", 3)
	f.bind(t, b.ID, 1)

	loads, err := Loads(ctx, f.store)
	require.NoError(t, err)
	require.Len(t, loads, 2)
	assert.Equal(t, a.ID, loads[0].Agent.ID)
	assert.Equal(t, 2, loads[0].Free)
	assert.Equal(t, 1, loads[1].Active)
	assert.Equal(t, 2, loads[1].Free)
}

type lockRecorder struct {
	store.Tx
	locked []int64
}

func (r *lockRecorder) LockAgent(ctx context.Context, id int64) (*models.Agent, error) {
	r.locked = append(r.locked, id)
	return r.Tx.LockAgent(ctx, id)
}

func TestClaimLocksAgentsInIDOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loaded := f.agent(t, "loaded", 5)
	full := f.agent(t, "full", 1)
	idle := f.agent(t, "idle", 5)
	f.bind(t, loaded.ID, 3)
	f.bind(t, full.ID, 1)

	require.NoError(t, f.store.InTx(ctx, func(tx store.Tx) error {
		rec := &lockRecorder{Tx: tx}
		got, err := Claim(ctx, rec)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, idle.ID, got.ID)
		assert.Equal(t, []int64{loaded.ID, idle.ID}, rec.locked)
		return nil
	}))
}

type vanishingAgent struct {
	store.Tx
	gone int64
}

func (v *vanishingAgent) LockAgent(ctx context.Context, id int64) (*models.Agent, error) {
	if id == v.gone {
		return nil, store.ErrNotFound
	}
	return v.Tx.LockAgent(ctx, id)
}

func TestClaimSkipsMissingAndFullAgents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "ana", 1)
	b := f.agent(t, "ben", 1)
	c := f.agent(t, "cai", 2)
	f.bind(t, a.ID, 1)

	require.NoError(t, f.store.InTx(ctx, func(tx store.Tx) error {
		got, err := Claim(ctx, &vanishingAgent{Tx: tx, gone: b.ID})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, c.ID, got.ID)
		return nil
	}))
}
