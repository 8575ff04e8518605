package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"DeskRelay/internal/modules/routing/infrastructure/mq"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
	// Retry 可重试错误的重试次数，用尽后跳过该消息
	Retry        int
	RetryBackoff time.Duration
}

type saramaConsumer struct {
	cg      sarama.ConsumerGroup
	topics  []string
	retry   int
	backoff time.Duration
}

func NewConsumer(cfg ConsumerConfig) (mq.Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka consumer group id is empty")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka topics is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	sc.Consumer.Group.Session.Timeout = 30 * time.Second
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	cg, err := sarama.NewConsumerGroup(cfg.Brokers, strings.TrimSpace(cfg.GroupID), sc)
	if err != nil {
		return nil, err
	}
	return newGroupConsumer(cg, cfg), nil
}

func newGroupConsumer(cg sarama.ConsumerGroup, cfg ConsumerConfig) *saramaConsumer {
	retry := cfg.Retry
	if retry < 0 {
		retry = 0
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &saramaConsumer{cg: cg, topics: cfg.Topics, retry: retry, backoff: backoff}
}

func (c *saramaConsumer) Run(ctx context.Context, handler mq.Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	h := &consumerGroupHandler{h: handler, retry: c.retry, backoff: c.backoff}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.cg.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
	}
}

func (c *saramaConsumer) Close() error {
	if c == nil {
		return nil
	}
	return c.cg.Close()
}

type consumerGroupHandler struct {
	h       mq.Handler
	retry   int
	backoff time.Duration
}

func (consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for m := range claim.Messages() {
		if !h.deliver(sess.Context(), toMessage(m)) {
			// 会话结束，未提交的消息由下一次分配重新投递
			return nil
		}
		sess.MarkMessage(m, "")
	}
	return nil
}

// deliver 返回 false 表示 ctx 已结束且消息未处理完
func (h *consumerGroupHandler) deliver(ctx context.Context, msg mq.Message) bool {
	for attempt := 0; ; attempt++ {
		err := h.h.Handle(ctx, msg)
		if err == nil {
			return true
		}
		if xerr.IsPermanent(err) {
			zlog.Warn("kafka message rejected, skipping",
				zap.String("topic", msg.Topic),
				zap.ByteString("key", msg.Key),
				zap.Error(err))
			return true
		}
		if attempt >= h.retry {
			zlog.Error("kafka message retries exhausted, skipping",
				zap.String("topic", msg.Topic),
				zap.ByteString("key", msg.Key),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(h.backoff * time.Duration(attempt+1)):
		}
	}
}

func toMessage(m *sarama.ConsumerMessage) mq.Message {
	msg := mq.Message{
		Topic: m.Topic,
		Key:   m.Key,
		Value: m.Value,
	}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, hdr := range m.Headers {
			if hdr == nil || len(hdr.Key) == 0 {
				continue
			}
			msg.Headers[string(hdr.Key)] = string(hdr.Value)
		}
	}
	return msg
}
