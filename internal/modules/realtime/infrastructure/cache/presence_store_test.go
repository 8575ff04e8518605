package cache

import (
	"context"
	"testing"
	"time"

	queueService "DeskRelay/internal/modules/queue/application/service"
	"DeskRelay/internal/modules/queue/domain/job"
	"DeskRelay/internal/modules/queue/infrastructure/store"
	"DeskRelay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceExpiresAfterTTL(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	s := NewRedisPresenceStore(rdb)
	ctx := context.Background()

	require.NoError(t, s.SetPresence(ctx, "a1", "ag1", "online", time.Minute))
	status, ok, err := s.GetPresence(ctx, "a1", "ag1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "online", status)

	mr.FastForward(30 * time.Second)
	touched, err := s.TouchPresence(ctx, "a1", "ag1", time.Minute)
	require.NoError(t, err)
	assert.True(t, touched)

	mr.FastForward(61 * time.Second)
	_, ok, err = s.GetPresence(ctx, "a1", "ag1")
	require.NoError(t, err)
	assert.False(t, ok)

	touched, err = s.TouchPresence(ctx, "a1", "ag1", time.Minute)
	require.NoError(t, err)
	assert.False(t, touched)
}

func TestTypingIsScopedPerConversation(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	s := NewRedisPresenceStore(rdb)
	ctx := context.Background()

	require.NoError(t, s.SetTyping(ctx, "a1", "c1", "u2", 5*time.Second))
	require.NoError(t, s.SetTyping(ctx, "a1", "c1", "u1", 5*time.Second))
	require.NoError(t, s.SetTyping(ctx, "a1", "c2", "u3", 5*time.Second))
	require.NoError(t, s.SetTyping(ctx, "a2", "c1", "u9", 5*time.Second))

	users, err := s.Typing(ctx, "a1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	require.NoError(t, s.ClearTyping(ctx, "a1", "c1", "u1"))
	users, err = s.Typing(ctx, "a1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, users)
}

func TestResetClearsPresenceButKeepsJobs(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	s := NewRedisPresenceStore(rdb)
	ctx := context.Background()

	q := queueService.NewQueue(job.QueueClassification, job.KindClassification, job.Options{}, store.NewRedisJobStore(rdb, "q"))
	id, err := q.Enqueue(ctx, job.ClassificationJob{MessageID: "m1", AccountID: "a1", Content: "Tuplalasku"})
	require.NoError(t, err)

	require.NoError(t, s.SetPresence(ctx, "a1", "ag1", "online", time.Minute))
	require.NoError(t, s.SetPresence(ctx, "a2", "ag2", "busy", time.Minute))
	require.NoError(t, s.SetTyping(ctx, "a1", "c1", "ag1", 5*time.Second))

	n, err := s.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, ok, err := s.GetPresence(ctx, "a1", "ag1")
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StateWaiting, st.State)
}
