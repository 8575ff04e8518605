package service

import (
	"context"
	"testing"
	"time"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/routing/infrastructure/llm"
	"DeskRelay/internal/testutil"
	"DeskRelay/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const draftReply = `{"content":"Hei! Tarkistamme laskusi ja palautamme tuplaveloituksen.","confidence":0.81,"reasoning":"billing apology","alternatives":["Kiitos viestistä, selvitämme asian."]}`

func seedAssignedConversation(t *testing.T, f *fixture) {
	t.Helper()
	f.tx(t, "a1", func(repos repository.Repositories) error {
		if err := repos.Conversations.Create(&entity.Conversation{ID: "c1", Status: entity.StatusOpen, TeamID: strPtr("billing"), AssigneeID: strPtr("ag1")}); err != nil {
			return err
		}
		base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
		for i, m := range []entity.Message{
			{ID: "m1", ConversationID: "c1", SenderType: entity.SenderContact, Content: "Hei"},
			{ID: "m2", ConversationID: "c1", SenderType: entity.SenderAgent, SenderID: "ag1", Content: "Miten voin auttaa?"},
			{ID: "m3", ConversationID: "c1", SenderType: entity.SenderContact, Content: "Minulta veloitettiin kahdesti"},
		} {
			m := m
			m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			if err := repos.Messages.Create(&m); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestDraftGoesToAssigneePrivateScopeOnly(t *testing.T) {
	f := newFixture(t)
	seedAssignedConversation(t, f)
	cm := &testutil.ChatModel{Replies: []string{draftReply}}
	p := NewDraftProcessor(f.uow, llm.NewChatInference(cm, llm.ChatModelMeta{}), f.b, 20)

	out, err := p.Process(context.Background(), &job.Job{ID: "draft:m3"}, job.DraftJob{MessageID: "m3", ConversationID: "c1", AccountID: "a1", Content: "Minulta veloitettiin kahdesti"}, noProgress)
	require.NoError(t, err)
	outcome := out.(*DraftOutcome)
	assert.Equal(t, "ag1", outcome.AgentID)
	assert.False(t, outcome.Skipped)

	events := f.b.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ws.UserScope("a1", "ag1"), events[0].Scope)
	assert.Equal(t, ws.EventDraftReady, events[0].Type)
	assert.Empty(t, f.b.InScope(ws.ConversationScope("a1", "c1")))
	assert.Empty(t, f.b.InScope(ws.AccountScope("a1")))

	// 历史不重复包含当前消息
	require.Equal(t, 1, cm.CallCount())
	msgs := cm.Calls[0]
	assert.Equal(t, "Minulta veloitettiin kahdesti", msgs[len(msgs)-1].Content)
	// system + 两轮历史 + 当前消息
	assert.Len(t, msgs, 4)

	f.tx(t, "a1", func(repos repository.Repositories) error {
		drafts, err := repos.Drafts.ListByAgent("ag1", entity.DraftPending)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "m3", drafts[0].MessageID)
		return nil
	})
}

func TestDraftSkippedWhenUnassigned(t *testing.T) {
	f := newFixture(t)
	f.tx(t, "a1", func(repos repository.Repositories) error {
		return repos.Conversations.Create(&entity.Conversation{ID: "c1", Status: entity.StatusOpen})
	})
	cm := &testutil.ChatModel{Replies: []string{draftReply}}
	p := NewDraftProcessor(f.uow, llm.NewChatInference(cm, llm.ChatModelMeta{}), f.b, 20)

	out, err := p.Process(context.Background(), &job.Job{ID: "j"}, job.DraftJob{MessageID: "m1", ConversationID: "c1", AccountID: "a1", Content: "x"}, noProgress)
	require.NoError(t, err)
	assert.True(t, out.(*DraftOutcome).Skipped)
	assert.Zero(t, cm.CallCount())
	assert.Empty(t, f.b.Events())
}
