package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"DeskRelay/internal/modules/routing/domain"
	"DeskRelay/pkg/xerr"
)

// SignatureHeader 请求体的 HMAC-SHA256，未配置密钥时不发送
const (
	SignatureHeader = "X-DeskRelay-Signature"
	TimestampHeader = "X-DeskRelay-Timestamp"
)

type WebhookSender struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

type webhookResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
}

func (s *WebhookSender) Send(ctx context.Context, n domain.Notification) (string, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return "", xerr.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", xerr.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.secret) > 0 {
		ts := strconv.FormatInt(s.now().Unix(), 10)
		req.Header.Set(TimestampHeader, ts)
		req.Header.Set(SignatureHeader, Sign(s.secret, ts, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", xerr.Transient(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", xerr.Transient(fmt.Errorf("webhook status %d body=%q", resp.StatusCode, raw))
	case resp.StatusCode >= 400:
		return "", xerr.Permanent(fmt.Errorf("webhook status %d body=%q", resp.StatusCode, raw))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", xerr.Transient(fmt.Errorf("unexpected webhook status %d", resp.StatusCode))
	}

	var wr webhookResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return "", xerr.Transient(fmt.Errorf("decode webhook response: %w body=%q", err, raw))
	}
	id := wr.ID
	if id == "" {
		id = wr.MessageID
	}
	if id == "" {
		return "", xerr.Transient(errors.New("webhook response missing id"))
	}
	return id, nil
}

// Sign 签名内容为 "<timestamp>.<body>"
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
