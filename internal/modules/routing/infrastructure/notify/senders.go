package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"DeskRelay/internal/config"
	"DeskRelay/internal/modules/routing/domain"
	"DeskRelay/internal/modules/routing/infrastructure/mq"
	"DeskRelay/pkg/util"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"go.uber.org/zap"
)

// KafkaSender 把通知写入 topic，由下游通知服务投递。按收件人分区保证同一坐席有序
type KafkaSender struct {
	publisher mq.Publisher
	topic     string
}

func NewKafkaSender(publisher mq.Publisher, topic string) *KafkaSender {
	return &KafkaSender{publisher: publisher, topic: topic}
}

func (s *KafkaSender) Send(ctx context.Context, n domain.Notification) (string, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return "", xerr.Permanent(err)
	}
	res, err := s.publisher.Publish(ctx, mq.Message{
		Topic: s.topic,
		Key:   []byte(n.AccountID + ":" + n.Recipient),
		Value: body,
		Headers: map[string]string{
			"account_id": n.AccountID,
			"template":   n.Template,
		},
	})
	if err != nil {
		return "", xerr.Transient(err)
	}
	return s.topic + "/" + strconv.Itoa(int(res.Partition)) + "/" + strconv.FormatInt(res.Offset, 10), nil
}

// LogSender 只写日志，本地环境使用
type LogSender struct{}

func (LogSender) Send(ctx context.Context, n domain.Notification) (string, error) {
	id := util.GenerateShortUUID()
	zlog.Info("notification",
		zap.String("notification_id", id),
		zap.String("account_id", n.AccountID),
		zap.String("recipient", n.Recipient),
		zap.String("template", n.Template),
		zap.String("conversation_id", n.ConversationID))
	return id, nil
}

// NewSender 按配置选择通知通道，kafka 通道需要 publisher
func NewSender(conf config.NotifyConfig, publisher mq.Publisher, topic string) (domain.NotificationSender, error) {
	switch conf.Transport {
	case "webhook":
		if conf.WebhookURL == "" {
			return nil, fmt.Errorf("notify webhook url is empty")
		}
		return NewWebhookSender(conf.WebhookURL, conf.WebhookSecret, time.Duration(conf.TimeoutSeconds)*time.Second), nil
	case "kafka":
		if publisher == nil {
			return nil, fmt.Errorf("notify transport kafka requires kafka enabled")
		}
		return NewKafkaSender(publisher, topic), nil
	case "log", "":
		return LogSender{}, nil
	default:
		return nil, fmt.Errorf("unsupported notify transport %q", conf.Transport)
	}
}
