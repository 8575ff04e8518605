package service

import (
	"context"
	"testing"
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/internal/modules/conversation/infrastructure/persistence"
	queueService "DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/queue/infrastructure/store"
	realtimeDomain "DeskRelay/internal/modules/realtime/domain"
	"DeskRelay/internal/modules/realtime/infrastructure/cache"
	"DeskRelay/internal/modules/routing/infrastructure/parking"
	tenantPersistence "DeskRelay/internal/modules/tenant/infrastructure/persistence"
	"DeskRelay/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mr            *miniredis.Miniredis
	presence      realtimeDomain.PresenceStore
	uow           repository.UnitOfWork
	b             *testutil.Broadcaster
	classify      *queueService.Queue
	drafts        *queueService.Queue
	notifications *queueService.Queue
	assignment    *AssignmentService
	dispatcher    *Dispatcher
	pipeline      *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g, err := tenantPersistence.NewGuard(testutil.NewDB(t))
	require.NoError(t, err)
	mr, rdb := testutil.NewRedis(t)
	s := store.NewRedisJobStore(rdb, "q")
	opts := job.Options{MaxAttempts: 3, PollInterval: 10 * time.Millisecond, Backoff: job.Backoff{Type: job.BackoffFixed, Delay: 10 * time.Millisecond}}

	f := &fixture{
		mr:            mr,
		presence:      cache.NewRedisPresenceStore(rdb),
		uow:           persistence.NewUnitOfWork(g),
		b:             &testutil.Broadcaster{},
		classify:      queueService.NewQueue(job.QueueClassification, job.KindClassification, opts, s),
		drafts:        queueService.NewQueue(job.QueueDraft, job.KindDraft, opts, s),
		notifications: queueService.NewQueue(job.QueueNotification, job.KindNotification, opts, s),
	}
	f.assignment = NewAssignmentService(f.uow, parking.NewRedisParkingLot(rdb), f.presence)
	f.dispatcher = NewDispatcher(f.b, f.drafts, f.notifications)
	f.pipeline = NewPipeline(f.uow, f.b, f.classify)
	return f
}

func (f *fixture) tx(t *testing.T, accountID string, fn func(repos repository.Repositories) error) {
	t.Helper()
	require.NoError(t, f.uow.Transaction(context.Background(), accountID, func(ctx context.Context, repos repository.Repositories) error {
		return fn(repos)
	}))
}

// seedTeam 创建团队及其坐席，未指定 availability 的坐席在线
func (f *fixture) seedTeam(t *testing.T, accountID, teamID string, agents ...entity.Agent) {
	t.Helper()
	defer func() {
		for _, a := range agents {
			if a.Availability == "" || a.Availability == entity.AvailabilityOnline {
				f.online(t, accountID, a.ID)
			}
		}
	}()
	f.tx(t, accountID, func(repos repository.Repositories) error {
		if err := repos.Teams.Create(&entity.Team{ID: teamID, Name: teamID}); err != nil {
			return err
		}
		for i := range agents {
			a := agents[i]
			a.TeamID = teamID
			if a.Availability == "" {
				a.Availability = entity.AvailabilityOnline
			}
			if err := repos.Agents.Create(&a); err != nil {
				return err
			}
		}
		return nil
	})
}

// online 写入临时在线键，与 ReportPresence 的效果一致
func (f *fixture) online(t *testing.T, accountID, agentID string) {
	t.Helper()
	require.NoError(t, f.presence.SetPresence(context.Background(), accountID, agentID, entity.AvailabilityOnline, time.Hour))
}

func (f *fixture) agent(t *testing.T, accountID, id string) *entity.Agent {
	t.Helper()
	var a *entity.Agent
	f.tx(t, accountID, func(repos repository.Repositories) error {
		var err error
		a, err = repos.Agents.GetByID(id)
		return err
	})
	return a
}

func (f *fixture) conversation(t *testing.T, accountID, id string) *entity.Conversation {
	t.Helper()
	var c *entity.Conversation
	f.tx(t, accountID, func(repos repository.Repositories) error {
		var err error
		c, err = repos.Conversations.GetByID(id)
		return err
	})
	return c
}

func runRegistry(t *testing.T, reg *queueService.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitTerminal(t *testing.T, q *queueService.Queue, id string) *job.Status {
	t.Helper()
	var st *job.Status
	require.Eventually(t, func() bool {
		var err error
		st, err = q.Status(context.Background(), id)
		return err == nil && st.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond, "job %s did not finish", id)
	return st
}

func noProgress(float64) {}

func strPtr(s string) *string { return &s }
