package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/internal/modules/conversation/domain/repository"
	queueService "DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/routing/infrastructure/llm"
	"DeskRelay/internal/testutil"
	"DeskRelay/pkg/ws"
	"DeskRelay/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const billingReply = `{"category":"billing","priority":"high","sentiment":"negative","language":"fi","confidence":0.92,"reasoning":"customer reports a wrong invoice","suggestedTeamId":"billing"}`

func TestFinnishBillingMessageEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.seedTeam(t, "a1", "billing", entity.Agent{ID: "ag1", MaxCapacity: 3})
	f.seedTeam(t, "a1", "support", entity.Agent{ID: "ag2", MaxCapacity: 3})

	cm := &testutil.ChatModel{Replies: []string{billingReply}}
	inference := llm.NewChatInference(cm, llm.ChatModelMeta{Provider: "fake", Model: "fake-1"})
	reg := queueService.NewRegistry()
	reg.Register(f.classify, NewClassificationProcessor(f.uow, inference, f.assignment, f.dispatcher))
	reg.Register(f.drafts, nil)
	reg.Register(f.notifications, nil)
	runRegistry(t, reg)

	res, err := f.pipeline.IngestInbound(context.Background(), InboundMessage{
		AccountID: "a1",
		InboxID:   "email",
		ContactID: "k1",
		Content:   "Hei, laskussani on virhe. Minulta veloitettiin kahdesti tässä kuussa.",
	})
	require.NoError(t, err)

	st := waitTerminal(t, f.classify, res.JobID)
	require.Equal(t, job.StateCompleted, st.State, st.FailedReason)
	assert.Equal(t, 1.0, st.Progress)

	var out ClassificationOutcome
	require.NoError(t, json.Unmarshal(st.Result, &out))
	assert.Equal(t, entity.CategoryBilling, out.Category)
	require.NotNil(t, out.Assignment)
	assert.Equal(t, "ag1", out.Assignment.AgentID)
	assert.Equal(t, "draft:"+res.MessageID, out.DraftJobID)

	conv := f.conversation(t, "a1", res.ConversationID)
	require.NotNil(t, conv.AICategory)
	assert.Equal(t, entity.CategoryBilling, *conv.AICategory)
	assert.Equal(t, entity.PriorityHigh, conv.Priority)
	assert.Equal(t, "ag1", conv.Assignee())
	assert.Equal(t, "billing", conv.Team())
	assert.Equal(t, 1, f.agent(t, "a1", "ag1").CurrentLoad)

	f.tx(t, "a1", func(repos repository.Repositories) error {
		rows, err := repos.Classifications.ListByConversation(res.ConversationID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.GreaterOrEqual(t, rows[0].Confidence, 0.0)
		assert.LessOrEqual(t, rows[0].Confidence, 1.0)
		assert.Equal(t, "fi", rows[0].Language)
		assert.Equal(t, "fake-1", rows[0].Model)
		return nil
	})

	_, err = f.drafts.Get(context.Background(), "draft:"+res.MessageID)
	require.NoError(t, err)
	_, err = f.notifications.Get(context.Background(), "assigned:"+res.ConversationID+":ag1")
	require.NoError(t, err)
	assert.Len(t, f.b.OfType(ws.EventClassificationCompleted), 1)
	assert.Len(t, f.b.OfType(ws.EventConversationAssigned), 2)
}

func TestClassificationInferenceFailureLeavesConversationUntouched(t *testing.T) {
	f := newFixture(t)
	f.seedTeam(t, "a1", "billing", entity.Agent{ID: "ag1", MaxCapacity: 3})
	cm := &testutil.ChatModel{Errs: []error{errors.New("503 service unavailable")}}
	p := NewClassificationProcessor(f.uow, llm.NewChatInference(cm, llm.ChatModelMeta{}), f.assignment, f.dispatcher)

	res, err := f.pipeline.IngestInbound(context.Background(), InboundMessage{AccountID: "a1", InboxID: "email", ContactID: "k1", Content: "lasku"})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), &job.Job{ID: res.JobID}, job.ClassificationJob{MessageID: res.MessageID, AccountID: "a1", Content: "lasku"}, noProgress)
	require.Error(t, err)
	assert.False(t, xerr.IsPermanent(err))

	conv := f.conversation(t, "a1", res.ConversationID)
	assert.Nil(t, conv.AICategory)
	assert.Empty(t, conv.Assignee())
	f.tx(t, "a1", func(repos repository.Repositories) error {
		rows, err := repos.Classifications.ListByConversation(res.ConversationID)
		require.NoError(t, err)
		assert.Empty(t, rows)
		return nil
	})
}

func TestClassificationParksWhenTeamFull(t *testing.T) {
	f := newFixture(t)
	f.seedTeam(t, "a1", "billing", entity.Agent{ID: "ag1", MaxCapacity: 1, CurrentLoad: 1})
	cm := &testutil.ChatModel{Replies: []string{billingReply}}
	p := NewClassificationProcessor(f.uow, llm.NewChatInference(cm, llm.ChatModelMeta{}), f.assignment, f.dispatcher)

	res, err := f.pipeline.IngestInbound(context.Background(), InboundMessage{AccountID: "a1", InboxID: "email", ContactID: "k1", Content: "lasku"})
	require.NoError(t, err)
	out, err := p.Process(context.Background(), &job.Job{ID: res.JobID}, job.ClassificationJob{MessageID: res.MessageID, AccountID: "a1", Content: "lasku"}, noProgress)
	require.NoError(t, err)

	outcome := out.(*ClassificationOutcome)
	require.NotNil(t, outcome.Assignment)
	assert.True(t, outcome.Assignment.Parked)
	assert.Empty(t, outcome.DraftJobID)

	ids, err := f.assignment.Parked(context.Background(), "a1", "billing")
	require.NoError(t, err)
	assert.Equal(t, []string{res.ConversationID}, ids)
}

func TestClassificationMissingMessageIsPermanent(t *testing.T) {
	f := newFixture(t)
	p := NewClassificationProcessor(f.uow, llm.NewChatInference(&testutil.ChatModel{Replies: []string{billingReply}}, llm.ChatModelMeta{}), f.assignment, f.dispatcher)
	_, err := p.Process(context.Background(), &job.Job{ID: "j1"}, job.ClassificationJob{MessageID: "ghost", AccountID: "a1", Content: "x"}, noProgress)
	require.Error(t, err)
	assert.True(t, xerr.IsPermanent(err))
}
