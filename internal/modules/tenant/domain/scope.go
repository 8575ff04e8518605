package domain

import (
	"context"
	"regexp"
	"strings"

	"DeskRelay/pkg/xerr"
)

var accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]{0,63}$`)

type accountKey struct{}

// WithAccount 在 context 中记录当前租户
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountKey{}, accountID)
}

func AccountFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(accountKey{}).(string)
	return id, ok && id != ""
}

// NormalizeAccountID 空白、缺失或格式非法的租户 ID 返回 ErrInvalidScope
func NormalizeAccountID(accountID string) (string, error) {
	id := strings.TrimSpace(accountID)
	if id == "" || !accountIDPattern.MatchString(id) {
		return "", xerr.ErrInvalidScope
	}
	return id, nil
}
