package domain

import (
	"context"
	"fmt"
	"math"
	"strings"

	"DeskRelay/internal/modules/conversation/domain/entity"
	"DeskRelay/pkg/xerr"
)

// TeamOption 分类时提供给模型的候选团队
type TeamOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClassifyContext 分类的可选上下文
type ClassifyContext struct {
	AccountID     string
	CustomerTier  string
	BusinessHours *bool
	Sender        string
	Subject       string
	Teams         []TeamOption
}

type ClassificationResult struct {
	Category         string  `json:"category"`
	Priority         string  `json:"priority"`
	Sentiment        string  `json:"sentiment"`
	Language         string  `json:"language"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
	SuggestedTeamID  string  `json:"suggestedTeamId,omitempty"`
	SuggestedAgentID string  `json:"suggestedAgentId,omitempty"`
	Model            string  `json:"model,omitempty"`
}

// Normalize 统一大小写并把置信度截断到 [0,1]，枚举值非法时返回不可重试错误
func (r *ClassificationResult) Normalize() error {
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	r.Priority = strings.ToLower(strings.TrimSpace(r.Priority))
	r.Sentiment = strings.ToLower(strings.TrimSpace(r.Sentiment))
	r.Language = strings.ToLower(strings.TrimSpace(r.Language))
	r.SuggestedTeamID = strings.TrimSpace(r.SuggestedTeamID)
	r.SuggestedAgentID = strings.TrimSpace(r.SuggestedAgentID)
	r.Confidence = clamp01(r.Confidence)

	if !entity.ValidCategory(r.Category) {
		return xerr.Permanent(fmt.Errorf("%w: unknown category %q", xerr.ErrInferenceFailed, r.Category))
	}
	if !entity.ValidPriority(r.Priority) {
		return xerr.Permanent(fmt.Errorf("%w: unknown priority %q", xerr.ErrInferenceFailed, r.Priority))
	}
	if !entity.ValidSentiment(r.Sentiment) {
		return xerr.Permanent(fmt.Errorf("%w: unknown sentiment %q", xerr.ErrInferenceFailed, r.Sentiment))
	}
	return nil
}

// Turn 历史对话中的一轮，Role 取 customer / agent / bot
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type DraftContext struct {
	AccountID       string
	CustomerInfo    map[string]string
	PreviousTickets []string
}

type DraftResult struct {
	Content      string   `json:"content"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	Alternatives []string `json:"alternatives,omitempty"`
	Model        string   `json:"model,omitempty"`
}

func (r *DraftResult) Normalize() error {
	r.Content = strings.TrimSpace(r.Content)
	r.Confidence = clamp01(r.Confidence)
	if r.Content == "" {
		return xerr.Transient(fmt.Errorf("%w: empty draft", xerr.ErrInferenceFailed))
	}
	alts := r.Alternatives[:0]
	for _, a := range r.Alternatives {
		if a = strings.TrimSpace(a); a != "" {
			alts = append(alts, a)
		}
	}
	r.Alternatives = alts
	return nil
}

// Inference 推理协作方。返回的错误必须能用 xerr.IsPermanent 区分是否可重试
type Inference interface {
	Classify(ctx context.Context, text string, cc ClassifyContext) (*ClassificationResult, error)
	GenerateDraft(ctx context.Context, text string, history []Turn, dc DraftContext) (*DraftResult, error)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
