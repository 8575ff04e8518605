package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"DeskRelay/internal/config"
	"DeskRelay/internal/modules/routing/domain"
	"DeskRelay/internal/modules/routing/infrastructure/mq/kafka"
	"DeskRelay/pkg/xerr"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var assigned = domain.Notification{
	AccountID:      "acct-1",
	Recipient:      "agent@example.com",
	Template:       "conversation_assigned",
	ConversationID: "c1",
	Data:           map[string]string{"teamId": "billing"},
}

func TestWebhookSendsSignedBody(t *testing.T) {
	var (
		body []byte
		sig  string
		ts   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(SignatureHeader)
		ts = r.Header.Get(TimestampHeader)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"n-42"}`))
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "s3cret", time.Second)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	id, err := s.Send(context.Background(), assigned)
	require.NoError(t, err)
	assert.Equal(t, "n-42", id)
	assert.Equal(t, "1700000000", ts)
	assert.Equal(t, Sign([]byte("s3cret"), ts, body), sig)

	var got domain.Notification
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, assigned, got)
}

func TestWebhookStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		permanent bool
	}{
		{http.StatusBadRequest, "bad", true},
		{http.StatusNotFound, "gone", true},
		{http.StatusTooManyRequests, "slow down", false},
		{http.StatusBadGateway, "", false},
		{http.StatusOK, "not json", false},
		{http.StatusOK, `{}`, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		_, err := NewWebhookSender(srv.URL, "", time.Second).Send(context.Background(), assigned)
		srv.Close()
		require.Error(t, err, tc.status)
		assert.Equal(t, tc.permanent, xerr.IsPermanent(err), "status %d", tc.status)
	}
}

func TestWebhookWithoutSecretSkipsSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		_, _ = w.Write([]byte(`{"messageId":"m-1"}`))
	}))
	defer srv.Close()

	id, err := NewWebhookSender(srv.URL, "", time.Second).Send(context.Background(), assigned)
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
}

func TestKafkaSenderPublishes(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndSucceed()
	s := NewKafkaSender(kafka.NewPublisherFromProducer(sp), "support.notifications")

	id, err := s.Send(context.Background(), assigned)
	require.NoError(t, err)
	assert.Contains(t, id, "support.notifications/")
	require.NoError(t, sp.Close())
}

func TestNewSenderSelectsTransport(t *testing.T) {
	s, err := NewSender(config.NotifyConfig{Transport: "log"}, nil, "")
	require.NoError(t, err)
	assert.IsType(t, LogSender{}, s)

	_, err = NewSender(config.NotifyConfig{Transport: "webhook"}, nil, "")
	assert.Error(t, err)
	_, err = NewSender(config.NotifyConfig{Transport: "kafka"}, nil, "t")
	assert.Error(t, err)
	_, err = NewSender(config.NotifyConfig{Transport: "pigeon"}, nil, "")
	assert.Error(t, err)

	s, err = NewSender(config.NotifyConfig{Transport: "webhook", WebhookURL: "http://localhost"}, nil, "")
	require.NoError(t, err)
	assert.IsType(t, &WebhookSender{}, s)
}
