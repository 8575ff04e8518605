package event

import (
	"context"
	"errors"
	"testing"

	"DeskRelay/internal/modules/routing/application/service"
	"DeskRelay/internal/modules/routing/infrastructure/mq"
	"DeskRelay/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	got []service.InboundMessage
	res *service.IngestResult
	err error
}

func (f *fakeIngester) IngestInbound(ctx context.Context, in service.InboundMessage) (*service.IngestResult, error) {
	f.got = append(f.got, in)
	return f.res, f.err
}

func TestHandleDecodesAndPrefersHeaderAccount(t *testing.T) {
	f := &fakeIngester{res: &service.IngestResult{MessageID: "m1"}}
	h := NewInboundEventHandler(f)

	err := h.Handle(context.Background(), mq.Message{
		Topic:   "support.inbound",
		Value:   []byte(`{"accountId":"body","inboxId":"i1","contactId":"k1","content":"Laskussani on virhe"}`),
		Headers: map[string]string{"account_id": "a1"},
	})
	require.NoError(t, err)
	require.Len(t, f.got, 1)
	assert.Equal(t, "a1", f.got[0].AccountID)
	assert.Equal(t, "Laskussani on virhe", f.got[0].Content)
}

func TestHandleErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		value     string
		res       *service.IngestResult
		err       error
		permanent bool
	}{
		{name: "bad json", value: `{`, permanent: true},
		{name: "invalid scope", value: `{}`, err: xerr.ErrInvalidScope, permanent: true},
		{name: "missing fields", value: `{}`, err: xerr.ErrParam, permanent: true},
		{name: "store outage", value: `{}`, err: errors.New("connection refused")},
		{name: "enqueue failed after store", value: `{}`, res: &service.IngestResult{MessageID: "m1"}, err: errors.New("redis down")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewInboundEventHandler(&fakeIngester{res: tc.res, err: tc.err})
			err := h.Handle(context.Background(), mq.Message{Value: []byte(tc.value)})
			require.Error(t, err)
			assert.Equal(t, tc.permanent, xerr.IsPermanent(err))
		})
	}
}
