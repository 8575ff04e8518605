package myjwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 连接方角色
const (
	RoleAgent    = "agent"
	RoleCustomer = "customer"
	RoleService  = "service"
)

type CustomClaims struct {
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Signer 持有签名密钥，替代全局配置读取
type Signer struct {
	Key    string
	Issuer string
	Expire time.Duration
}

func NewSigner(key, issuer string, expireHours int) *Signer {
	if expireHours <= 0 {
		expireHours = 24
	}
	return &Signer{Key: key, Issuer: issuer, Expire: time.Duration(expireHours) * time.Hour}
}

func (s *Signer) GenerateToken(accountID, userID, role string) (string, error) {
	if s.Key == "" {
		return "", errors.New("jwt key is empty")
	}
	if accountID == "" || userID == "" {
		return "", errors.New("account_id and user_id are required")
	}

	now := time.Now()
	claims := CustomClaims{
		AccountID: accountID,
		UserID:    userID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Expire)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.Key))
}

func (s *Signer) ParseToken(tokenString string) (*CustomClaims, error) {
	if s.Key == "" {
		return nil, errors.New("jwt key is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.Key), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.AccountID == "" || claims.UserID == "" {
		return nil, errors.New("token missing identity")
	}
	return claims, nil
}
