package jwt

import (
	"context"
	"strings"

	"DeskRelay/internal/config"
	tenantDomain "DeskRelay/internal/modules/tenant/domain"
	"DeskRelay/pkg/back"
	"DeskRelay/pkg/util/myjwt"
	"DeskRelay/pkg/xerr"
	"DeskRelay/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Principal 已认证的调用方
type Principal struct {
	AccountID string
	UserID    string
	Role      string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(tenantDomain.WithAccount(ctx, p.AccountID), principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.AccountID != ""
}

// Authenticate 解析 token；token 为空且开启了开发绕过时返回配置中的开发身份
func Authenticate(signer *myjwt.Signer, conf config.AuthConfig, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		if conf.DevBypass {
			return Principal{AccountID: conf.DevAccountID, UserID: conf.DevUserID, Role: myjwt.RoleAgent}, nil
		}
		return Principal{}, xerr.New(xerr.Unauthorized, "missing token")
	}
	claims, err := signer.ParseToken(token)
	if err != nil {
		return Principal{}, xerr.New(xerr.Unauthorized, "invalid token")
	}
	accountID, err := tenantDomain.NormalizeAccountID(claims.AccountID)
	if err != nil {
		return Principal{}, err
	}
	role := claims.Role
	if role == "" {
		role = myjwt.RoleAgent
	}
	return Principal{AccountID: accountID, UserID: claims.UserID, Role: role}, nil
}

// Auth 从 Authorization: Bearer 或 ?token= 读取凭证，写入 account_id、user_id、role
func Auth(signer *myjwt.Signer, conf config.AuthConfig) gin.HandlerFunc {
	if conf.DevBypass {
		zlog.Warn("auth dev bypass enabled", zap.String("account_id", conf.DevAccountID))
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				back.Error(c, xerr.Unauthorized, "missing or invalid authorization header")
				c.Abort()
				return
			}
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}

		p, err := Authenticate(signer, conf, token)
		if err != nil {
			back.Result(c, nil, err)
			c.Abort()
			return
		}

		c.Set("account_id", p.AccountID)
		c.Set("user_id", p.UserID)
		c.Set("role", p.Role)
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}
