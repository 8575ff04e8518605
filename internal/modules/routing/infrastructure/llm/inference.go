package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"DeskRelay/internal/modules/routing/domain"
	"DeskRelay/pkg/util"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const classifySystemPrompt = `You are a support-desk triage model. Classify the customer message.

Reply with a single JSON object and nothing else:
{
  "category": "billing | technical | account | general | feedback | urgent",
  "priority": "urgent | high | normal | low",
  "sentiment": "positive | neutral | negative",
  "language": "ISO 639-1 code of the message language",
  "confidence": 0.0-1.0,
  "reasoning": "one short sentence",
  "suggestedTeamId": "id of the best team from the list, or empty"
}

Rules:
1. The message may be in any language; classify by meaning, not by keywords.
2. Only use team ids from the provided list.
3. Use priority urgent only for outages, security issues or legal threats.`

const draftSystemPrompt = `You are drafting a reply for a human support agent to review before sending.

Reply with a single JSON object and nothing else:
{
  "content": "the reply, in the customer's language",
  "confidence": 0.0-1.0,
  "reasoning": "one short sentence on what the reply addresses",
  "alternatives": ["optional shorter or differently toned variants"]
}

Never promise refunds, credits or timelines that are not stated in the conversation.`

// ChatInference 基于 eino 对话模型的推理实现
type ChatInference struct {
	chatModel model.BaseChatModel
	meta      ChatModelMeta
}

func NewChatInference(cm model.BaseChatModel, meta ChatModelMeta) *ChatInference {
	return &ChatInference{chatModel: cm, meta: meta}
}

func (p *ChatInference) Classify(ctx context.Context, text string, cc domain.ClassifyContext) (*domain.ClassificationResult, error) {
	var b strings.Builder
	if len(cc.Teams) > 0 {
		teams, _ := json.Marshal(cc.Teams)
		fmt.Fprintf(&b, "Teams: %s\n", teams)
	}
	if cc.CustomerTier != "" {
		fmt.Fprintf(&b, "Customer tier: %s\n", cc.CustomerTier)
	}
	if cc.BusinessHours != nil {
		fmt.Fprintf(&b, "Within business hours: %t\n", *cc.BusinessHours)
	}
	if cc.Sender != "" {
		fmt.Fprintf(&b, "Sender: %s\n", cc.Sender)
	}
	if cc.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", cc.Subject)
	}
	fmt.Fprintf(&b, "\nMessage:\n%s", text)

	var out domain.ClassificationResult
	if err := p.generateJSON(ctx, "classify", classifySystemPrompt, []*schema.Message{schema.UserMessage(b.String())}, &out); err != nil {
		return nil, err
	}
	if out.SuggestedTeamID != "" && !knownTeam(cc.Teams, out.SuggestedTeamID) {
		zlog.Warn("inference suggested unknown team, ignored",
			zap.String("account_id", cc.AccountID),
			zap.String("team_id", out.SuggestedTeamID))
		out.SuggestedTeamID = ""
	}
	if err := out.Normalize(); err != nil {
		return nil, err
	}
	out.Model = p.meta.Model
	return &out, nil
}

func (p *ChatInference) GenerateDraft(ctx context.Context, text string, history []domain.Turn, dc domain.DraftContext) (*domain.DraftResult, error) {
	msgs := make([]*schema.Message, 0, len(history)+2)
	if len(dc.CustomerInfo) > 0 || len(dc.PreviousTickets) > 0 {
		var b strings.Builder
		keys := make([]string, 0, len(dc.CustomerInfo))
		for k := range dc.CustomerInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, dc.CustomerInfo[k])
		}
		for _, t := range dc.PreviousTickets {
			fmt.Fprintf(&b, "Previous ticket: %s\n", t)
		}
		msgs = append(msgs, schema.SystemMessage("Customer context:\n"+b.String()))
	}
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		switch t.Role {
		case "agent", "bot":
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(t.Content))
		}
	}
	msgs = append(msgs, schema.UserMessage(text))

	var out domain.DraftResult
	if err := p.generateJSON(ctx, "draft", draftSystemPrompt, msgs, &out); err != nil {
		return nil, err
	}
	if err := out.Normalize(); err != nil {
		return nil, err
	}
	out.Model = p.meta.Model
	return &out, nil
}

func (p *ChatInference) generateJSON(ctx context.Context, op, system string, msgs []*schema.Message, out interface{}) error {
	input := make([]*schema.Message, 0, len(msgs)+1)
	input = append(input, schema.SystemMessage(system))
	input = append(input, msgs...)

	resp, err := p.chatModel.Generate(ctx, input)
	if err != nil {
		zlog.Warn("inference call failed", zap.String("op", op), zap.String("model", p.meta.Model), zap.Error(err))
		return classifyError(op, err)
	}
	if resp == nil {
		return xerr.Transient(fmt.Errorf("%w: %s: empty response", xerr.ErrInferenceFailed, op))
	}

	raw := stripCodeFence(resp.Content)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		// 模型输出不稳定，格式错误按可重试处理
		zlog.Warn("inference returned malformed json",
			zap.String("op", op),
			zap.String("output", util.Truncate(resp.Content, 200)))
		return xerr.Transient(fmt.Errorf("%w: %s: malformed output: %w", xerr.ErrInferenceFailed, op, err))
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	// 截取首个 JSON 对象，容忍前后的说明文字
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j >= 0 && j < len(s)-1 {
		s = s[:j+1]
	}
	return s
}

func knownTeam(teams []domain.TeamOption, id string) bool {
	for _, t := range teams {
		if t.ID == id {
			return true
		}
	}
	return false
}
