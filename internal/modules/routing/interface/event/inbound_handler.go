package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"DeskRelay/internal/modules/routing/application/service"
	"DeskRelay/internal/modules/routing/infrastructure/mq"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

// Ingester *service.Pipeline 实现
type Ingester interface {
	IngestInbound(ctx context.Context, in service.InboundMessage) (*service.IngestResult, error)
}

// InboundEventHandler 消费 support.inbound 主题，每条消息是一封客户来信
type InboundEventHandler struct {
	pipeline Ingester
}

func NewInboundEventHandler(pipeline Ingester) *InboundEventHandler {
	return &InboundEventHandler{pipeline: pipeline}
}

func (h *InboundEventHandler) Handle(ctx context.Context, msg mq.Message) error {
	var in service.InboundMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return xerr.Permanent(fmt.Errorf("%w: %v", xerr.ErrInvalidPayload, err))
	}
	// 头部携带的租户优先于消息体
	if acct := msg.Headers["account_id"]; acct != "" {
		in.AccountID = acct
	}

	res, err := h.pipeline.IngestInbound(ctx, in)
	if err != nil {
		if res != nil {
			// 消息已落库，仅分类任务入队失败，重投会按 messageId 去重
			zlog.Warn("inbound stored but classification not queued",
				zap.String("topic", msg.Topic),
				zap.String("message_id", res.MessageID),
				zap.Error(err))
			return xerr.Transient(err)
		}
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, xerr.ErrParam) || errors.Is(err, xerr.ErrInvalidScope) ||
		errors.Is(err, xerr.ErrCrossTenant) || errors.Is(err, xerr.ErrNotFoundRecord) {
		return xerr.Permanent(err)
	}
	return xerr.Transient(err)
}
