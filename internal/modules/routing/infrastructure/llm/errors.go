package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"DeskRelay/pkg/xerr"
)

// 上游返回这些状态时重试无意义
var permanentMarkers = []string{
	"status code: 400",
	"status code: 401",
	"status code: 403",
	"status code: 404",
	"status code: 422",
	"invalid_api_key",
	"invalid_request_error",
	"model_not_found",
	"content_filter",
	"context_length_exceeded",
}

// classifyError 把模型调用错误标记为可重试或不可重试，无法判断时按可重试处理
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%w: %s: %w", xerr.ErrInferenceFailed, op, err)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return xerr.Transient(wrapped)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return xerr.Transient(wrapped)
	}

	msg := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return xerr.Permanent(wrapped)
		}
	}
	return xerr.Transient(wrapped)
}
