package testutil

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel 可编排回复的 eino 对话模型，按调用顺序依次返回 Replies/Errs，用完后重复最后一项
type ChatModel struct {
	mu      sync.Mutex
	Replies []string
	Errs    []error
	Calls   [][]*schema.Message
}

var _ model.BaseChatModel = (*ChatModel)(nil)

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.Calls)
	m.Calls = append(m.Calls, input)
	if err := pick(m.Errs, n); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return schema.AssistantMessage(pick(m.Replies, n), nil), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func pick[T any](items []T, i int) T {
	var zero T
	if len(items) == 0 {
		return zero
	}
	if i >= len(items) {
		return items[len(items)-1]
	}
	return items[i]
}
