package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	tenantPersistence "DeskRelay/internal/modules/tenant/infrastructure/persistence"
	"DeskRelay/internal/testutil"
	"DeskRelay/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUoW(t *testing.T) repository.UnitOfWork {
	t.Helper()
	g, err := tenantPersistence.NewGuard(testutil.NewDB(t))
	require.NoError(t, err)
	return NewUnitOfWork(g)
}

func TestTryIncrementLoadStopsAtCapacity(t *testing.T) {
	uow := newUoW(t)
	ctx := context.Background()

	err := uow.Transaction(ctx, "a1", func(ctx context.Context, repos repository.Repositories) error {
		require.NoError(t, repos.Agents.Create(&entity.Agent{ID: "ag1", TeamID: "t1", MaxCapacity: 2}))
		for i, want := range []bool{true, true, false} {
			ok, err := repos.Agents.TryIncrementLoad("ag1")
			require.NoError(t, err)
			assert.Equal(t, want, ok, "increment %d", i)
		}
		a, err := repos.Agents.GetByID("ag1")
		require.NoError(t, err)
		assert.Equal(t, 2, a.CurrentLoad)

		require.NoError(t, repos.Agents.DecrementLoad("ag1"))
		require.NoError(t, repos.Agents.DecrementLoad("ag1"))
		require.NoError(t, repos.Agents.DecrementLoad("ag1"))
		a, err = repos.Agents.GetByID("ag1")
		require.NoError(t, err)
		assert.Equal(t, 0, a.CurrentLoad)
		return nil
	})
	require.NoError(t, err)
}

func TestListRecentReturnsChronologicalTail(t *testing.T) {
	uow := newUoW(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := uow.Transaction(context.Background(), "a1", func(ctx context.Context, repos repository.Repositories) error {
		for i := 0; i < 25; i++ {
			m := &entity.Message{ID: fmt.Sprintf("m%02d", i), ConversationID: "c1", SenderType: entity.SenderContact, Content: fmt.Sprint(i), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
			if err := repos.Messages.Create(m); err != nil {
				return err
			}
		}
		msgs, err := repos.Messages.ListRecent("c1", 20)
		require.NoError(t, err)
		require.Len(t, msgs, 20)
		assert.Equal(t, "m05", msgs[0].ID)
		assert.Equal(t, "m24", msgs[19].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestAssignIfUnassignedOnlyOnce(t *testing.T) {
	uow := newUoW(t)
	err := uow.Transaction(context.Background(), "a1", func(ctx context.Context, repos repository.Repositories) error {
		require.NoError(t, repos.Conversations.Create(&entity.Conversation{ID: "c1", Status: entity.StatusOpen}))
		ok, err := repos.Conversations.AssignIfUnassigned("c1", "t1", "ag1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repos.Conversations.AssignIfUnassigned("c1", "t1", "ag2")
		require.NoError(t, err)
		assert.False(t, ok)

		c, err := repos.Conversations.GetByID("c1")
		require.NoError(t, err)
		assert.Equal(t, "ag1", c.Assignee())
		assert.Equal(t, "t1", c.Team())
		return nil
	})
	require.NoError(t, err)
}

func TestGetByIDMissingMapsToNotFound(t *testing.T) {
	uow := newUoW(t)
	err := uow.Transaction(context.Background(), "a1", func(ctx context.Context, repos repository.Repositories) error {
		_, err := repos.Conversations.GetByID("nope")
		return err
	})
	assert.ErrorIs(t, err, xerr.ErrNotFoundRecord)
}

func TestListDueSnoozed(t *testing.T) {
	uow := newUoW(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	err := uow.Transaction(context.Background(), "a1", func(ctx context.Context, repos repository.Repositories) error {
		require.NoError(t, repos.Conversations.Create(&entity.Conversation{ID: "due", Status: entity.StatusSnoozed, SnoozedUntil: &past}))
		require.NoError(t, repos.Conversations.Create(&entity.Conversation{ID: "later", Status: entity.StatusSnoozed, SnoozedUntil: &future}))
		require.NoError(t, repos.Conversations.Create(&entity.Conversation{ID: "open", Status: entity.StatusOpen}))

		list, err := repos.Conversations.ListDueSnoozed(now, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "due", list[0].ID)
		return nil
	})
	require.NoError(t, err)
}
