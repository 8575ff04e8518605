package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"DeskRelay/pkg/xerr"
)

// 任务类型标签，和队列一一对应
const (
	KindClassification = "classification"
	KindDraft          = "draft"
	KindNotification   = "notification"
)

// Payload 带标签的任务载荷，入队与执行前都会校验
type Payload interface {
	Kind() string
	Account() string
	Validate() error
}

type ClassificationMetadata struct {
	Sender    string     `json:"sender,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	// 以下为扩展上下文
	CustomerTier  string `json:"customerTier,omitempty"`
	BusinessHours *bool  `json:"businessHours,omitempty"`
}

type ClassificationJob struct {
	MessageID string                  `json:"messageId"`
	AccountID string                  `json:"accountId"`
	Content   string                  `json:"content"`
	Metadata  *ClassificationMetadata `json:"metadata,omitempty"`
}

func (ClassificationJob) Kind() string      { return KindClassification }
func (p ClassificationJob) Account() string { return p.AccountID }

func (p ClassificationJob) Validate() error {
	var errs []error
	if strings.TrimSpace(p.MessageID) == "" {
		errs = append(errs, errors.New("messageId is required"))
	}
	if strings.TrimSpace(p.AccountID) == "" {
		errs = append(errs, errors.New("accountId is required"))
	}
	if strings.TrimSpace(p.Content) == "" {
		errs = append(errs, errors.New("content is required"))
	}
	return joinInvalid(errs)
}

// Turn 历史对话中的一轮
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type DraftContext struct {
	ConversationHistory []Turn            `json:"conversationHistory,omitempty"`
	CustomerInfo        map[string]string `json:"customerInfo,omitempty"`
	PreviousTickets     []string          `json:"previousTickets,omitempty"`
}

type DraftJob struct {
	MessageID      string        `json:"messageId"`
	ConversationID string        `json:"conversationId"`
	AccountID      string        `json:"accountId"`
	Content        string        `json:"content"`
	Context        *DraftContext `json:"context,omitempty"`
}

func (DraftJob) Kind() string      { return KindDraft }
func (p DraftJob) Account() string { return p.AccountID }

func (p DraftJob) Validate() error {
	var errs []error
	if strings.TrimSpace(p.MessageID) == "" {
		errs = append(errs, errors.New("messageId is required"))
	}
	if strings.TrimSpace(p.ConversationID) == "" {
		errs = append(errs, errors.New("conversationId is required"))
	}
	if strings.TrimSpace(p.AccountID) == "" {
		errs = append(errs, errors.New("accountId is required"))
	}
	if strings.TrimSpace(p.Content) == "" {
		errs = append(errs, errors.New("content is required"))
	}
	return joinInvalid(errs)
}

type NotificationJob struct {
	AccountID      string            `json:"accountId"`
	Recipient      string            `json:"recipient"`
	Template       string            `json:"template"`
	ConversationID string            `json:"conversationId,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
}

func (NotificationJob) Kind() string      { return KindNotification }
func (p NotificationJob) Account() string { return p.AccountID }

func (p NotificationJob) Validate() error {
	var errs []error
	if strings.TrimSpace(p.AccountID) == "" {
		errs = append(errs, errors.New("accountId is required"))
	}
	if strings.TrimSpace(p.Recipient) == "" {
		errs = append(errs, errors.New("recipient is required"))
	}
	if strings.TrimSpace(p.Template) == "" {
		errs = append(errs, errors.New("template is required"))
	}
	return joinInvalid(errs)
}

func joinInvalid(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return xerr.Permanent(fmt.Errorf("%w: %w", xerr.ErrInvalidPayload, errors.Join(errs...)))
}

// Decode 按任务标签解析并校验载荷，解析失败或标签未知都是不可重试错误
func Decode(kind string, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindClassification:
		var v ClassificationJob
		err = json.Unmarshal(raw, &v)
		p = v
	case KindDraft:
		var v DraftJob
		err = json.Unmarshal(raw, &v)
		p = v
	case KindNotification:
		var v NotificationJob
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, xerr.Permanent(fmt.Errorf("%w: unknown kind %q", xerr.ErrInvalidPayload, kind))
	}
	if err != nil {
		return nil, xerr.Permanent(fmt.Errorf("%w: %w", xerr.ErrInvalidPayload, err))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
