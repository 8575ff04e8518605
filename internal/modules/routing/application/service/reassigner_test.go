package service

import (
	"context"
	"testing"
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	realtimeDomain "DeskRelay/internal/modules/realtime/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParkedConversationAssignedWhenAgentComesOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTeam(t, "a1", "billing", entity.Agent{ID: "ag1", MaxCapacity: 1, Availability: entity.AvailabilityOffline})
	f.tx(t, "a1", func(repos repository.Repositories) error {
		for _, id := range []string{"c1", "c2"} {
			if err := repos.Conversations.Create(&entity.Conversation{ID: id, Status: entity.StatusOpen, TeamID: strPtr("billing")}); err != nil {
				return err
			}
			if err := repos.Messages.Create(&entity.Message{ID: "m-" + id, ConversationID: id, SenderType: entity.SenderContact, Content: "apua"}); err != nil {
				return err
			}
		}
		return nil
	})
	for _, id := range []string{"c1", "c2"} {
		res, err := f.assignment.Assign(ctx, "a1", id, "billing")
		require.NoError(t, err)
		require.True(t, res.Parked)
	}

	f.tx(t, "a1", func(repos repository.Repositories) error {
		return repos.Agents.UpdateAvailability("ag1", entity.AvailabilityOnline, nil)
	})
	f.online(t, "a1", "ag1")
	r := NewReassigner(f.uow, f.assignment, f.dispatcher)
	transitions := make(chan realtimeDomain.Transition, 1)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(runCtx, transitions)
	}()
	transitions <- realtimeDomain.Transition{AccountID: "a1", AgentID: "ag1", From: entity.AvailabilityOffline, To: entity.AvailabilityOnline, At: time.Now()}

	require.Eventually(t, func() bool {
		return f.conversation(t, "a1", "c1").Assignee() == "ag1"
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	// 容量为 1，第二个会话继续等待
	assert.Empty(t, f.conversation(t, "a1", "c2").Assignee())
	ids, err := f.assignment.Parked(ctx, "a1", "billing")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)

	_, err = f.drafts.Get(ctx, "draft:m-c1")
	require.NoError(t, err)
}

func TestReevaluateDropsAlreadyAssigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTeam(t, "a1", "billing", entity.Agent{ID: "ag1", MaxCapacity: 2})
	f.tx(t, "a1", func(repos repository.Repositories) error {
		return repos.Conversations.Create(&entity.Conversation{ID: "c1", Status: entity.StatusOpen, TeamID: strPtr("billing"), AssigneeID: strPtr("ag9")})
	})
	f.assignment.Park(ctx, "a1", "billing", "c1")

	n, err := NewReassigner(f.uow, f.assignment, f.dispatcher).Reevaluate(ctx, "a1", "billing")
	require.NoError(t, err)
	assert.Zero(t, n)
	ids, err := f.assignment.Parked(ctx, "a1", "billing")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRunIgnoresOfflineTransitions(t *testing.T) {
	f := newFixture(t)
	transitions := make(chan realtimeDomain.Transition, 1)
	transitions <- realtimeDomain.Transition{AccountID: "a1", AgentID: "ghost", To: entity.AvailabilityOffline}
	close(transitions)
	NewReassigner(f.uow, f.assignment, f.dispatcher).Run(context.Background(), transitions)
}

func TestReevaluateServesLongestWaitingFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTeam(t, "a1", "billing", entity.Agent{ID: "ag1", MaxCapacity: 1, Availability: entity.AvailabilityOffline})
	f.tx(t, "a1", func(repos repository.Repositories) error {
		for _, id := range []string{"c9-early", "c1-late"} {
			if err := repos.Conversations.Create(&entity.Conversation{ID: id, Status: entity.StatusOpen, TeamID: strPtr("billing")}); err != nil {
				return err
			}
		}
		return nil
	})
	res, err := f.assignment.Assign(ctx, "a1", "c9-early", "billing")
	require.NoError(t, err)
	require.True(t, res.Parked)
	time.Sleep(5 * time.Millisecond)
	res, err = f.assignment.Assign(ctx, "a1", "c1-late", "billing")
	require.NoError(t, err)
	require.True(t, res.Parked)

	f.tx(t, "a1", func(repos repository.Repositories) error {
		return repos.Agents.UpdateAvailability("ag1", entity.AvailabilityOnline, nil)
	})
	f.online(t, "a1", "ag1")
	n, err := NewReassigner(f.uow, f.assignment, f.dispatcher).Reevaluate(ctx, "a1", "billing")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, "ag1", f.conversation(t, "a1", "c9-early").Assignee())
	assert.Empty(t, f.conversation(t, "a1", "c1-late").Assignee())
	ids, err := f.assignment.Parked(ctx, "a1", "billing")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1-late"}, ids)
}
